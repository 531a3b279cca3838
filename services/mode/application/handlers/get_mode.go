package handlers

import (
	"net/http"

	"github.com/ghuser/entitlements/pkg/errhttp"
	"github.com/ghuser/entitlements/pkg/httpx"
	modesvcs "github.com/ghuser/entitlements/services/mode/application/services"
)

// GetModeHandler handles GET /admin/mode.
type GetModeHandler struct {
	modes *modesvcs.ModeManager
}

// NewGetModeHandler returns a GetModeHandler backed by modes.
func NewGetModeHandler(modes *modesvcs.ModeManager) *GetModeHandler {
	return &GetModeHandler{modes: modes}
}

// Execute returns the latest mode record straight from the store.
//
//	@Summary		Get mode
//	@Description	Returns the latest recorded operating mode, bypassing the cache
//	@Tags			mode
//	@Produce		json
//	@Success		200	{object}	ModeResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/admin/mode [get]
func (h *GetModeHandler) Execute(w http.ResponseWriter, r *http.Request) {
	rec, err := h.modes.LastRecord(r.Context())
	if err != nil {
		errhttp.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toModeResponse(rec))
}
