package handlers

import (
	"time"

	"github.com/ghuser/entitlements/services/mode/domain/models"
)

// ModeResponse describes the operating mode.
type ModeResponse struct {
	Mode       string     `json:"mode"                 example:"SUSPEND"`
	Reason     string     `json:"reason,omitempty"     example:"database upgrade"`
	ChangeTime *time.Time `json:"changeTime,omitempty" example:"2024-01-15T10:30:00Z"`
} // @name ModeResponse

// ErrorResponse is returned on all error responses.
type ErrorResponse struct {
	Error string `json:"error" example:"server is in suspend mode"`
} // @name ErrorResponse

func toModeResponse(r models.ModeRecord) ModeResponse {
	resp := ModeResponse{Mode: r.Mode.String(), Reason: r.Reason}
	if !r.IsDefault() {
		t := r.ChangeTime
		resp.ChangeTime = &t
	}
	return resp
}
