package handlers

import (
	"net/http"

	"github.com/ghuser/entitlements/pkg/httpx"
	modesvcs "github.com/ghuser/entitlements/services/mode/application/services"
)

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	ModeResponse
	Version string `json:"version" example:"1.4.2"`
} // @name StatusResponse

// GetStatusHandler handles GET /status.
type GetStatusHandler struct {
	modes   *modesvcs.ModeManager
	version string
}

// NewGetStatusHandler returns a GetStatusHandler reporting version.
func NewGetStatusHandler(modes *modesvcs.ModeManager, version string) *GetStatusHandler {
	return &GetStatusHandler{modes: modes, version: version}
}

// Execute reports the cached mode. Always admitted, even while suspended.
//
//	@Summary		Server status
//	@Description	Reports the operating mode and server version
//	@Tags			status
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Router			/status [get]
func (h *GetStatusHandler) Execute(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, StatusResponse{
		ModeResponse: toModeResponse(h.modes.Current(r.Context())),
		Version:      h.version,
	})
}
