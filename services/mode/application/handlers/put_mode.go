package handlers

import (
	"net/http"

	"github.com/ghuser/entitlements/pkg/errhttp"
	"github.com/ghuser/entitlements/pkg/httpx"
	pkgvalidator "github.com/ghuser/entitlements/pkg/validator"
	modesvcs "github.com/ghuser/entitlements/services/mode/application/services"
	"github.com/ghuser/entitlements/services/mode/domain/models"
)

func init() {
	if err := pkgvalidator.RegisterEnum("mode", string(models.ModeNormal), string(models.ModeSuspend)); err != nil {
		panic(err)
	}
}

// PutModeRequest is the request body for PUT /admin/mode.
type PutModeRequest struct {
	Mode   string `json:"mode"   validate:"required,mode" example:"SUSPEND"`
	Reason string `json:"reason" validate:"max=255"       example:"database upgrade"`
} // @name PutModeRequest

// PutModeHandler handles PUT /admin/mode.
type PutModeHandler struct {
	modes *modesvcs.ModeManager
}

// NewPutModeHandler returns a PutModeHandler backed by modes.
func NewPutModeHandler(modes *modesvcs.ModeManager) *PutModeHandler {
	return &PutModeHandler{modes: modes}
}

// Execute requests a mode change. A change requested too soon after the
// previous one is ignored; the response always carries the mode in effect.
//
//	@Summary		Change mode
//	@Description	Enters NORMAL or SUSPEND mode for the whole cluster
//	@Tags			mode
//	@Accept			json
//	@Produce		json
//	@Param			request	body		PutModeRequest	true	"Mode change request"
//	@Success		200		{object}	ModeResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/admin/mode [put]
func (h *PutModeHandler) Execute(w http.ResponseWriter, r *http.Request) {
	req, ok := pkgvalidator.ValidateRequest[PutModeRequest](w, r)
	if !ok {
		return
	}

	mode, err := models.ParseMode(req.Mode)
	if err != nil {
		errhttp.WriteError(w, err)
		return
	}
	if err := h.modes.EnterMode(r.Context(), mode, req.Reason); err != nil {
		errhttp.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toModeResponse(h.modes.Current(r.Context())))
}
