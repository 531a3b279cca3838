package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ghuser/entitlements/pkg/errhttp"
	"github.com/ghuser/entitlements/pkg/httpx"
	pkgvalidator "github.com/ghuser/entitlements/pkg/validator"
	"github.com/ghuser/entitlements/services/audit/domain/events"
	"github.com/ghuser/entitlements/services/audit/domain/repositories"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// OwnerEventsResponse is one page of an owner's audit trail.
type OwnerEventsResponse struct {
	Events []events.Event `json:"events"`
	Total  int            `json:"total"  example:"120"`
	Limit  int            `json:"limit"  example:"50"`
	Offset int            `json:"offset" example:"0"`
} // @name OwnerEventsResponse

// ErrorResponse is returned on all error responses.
type ErrorResponse struct {
	Error string `json:"error" example:"invalid limit"`
} // @name ErrorResponse

// GetOwnerEventsHandler handles GET /api/owners/{ownerID}/events.
type GetOwnerEventsHandler struct {
	repo repositories.EventRepository
}

// NewGetOwnerEventsHandler returns a handler reading from repo.
func NewGetOwnerEventsHandler(repo repositories.EventRepository) *GetOwnerEventsHandler {
	return &GetOwnerEventsHandler{repo: repo}
}

// Execute lists an owner's audit events, newest first.
//
//	@Summary		List owner events
//	@Description	Returns the audit trail recorded for an owner, newest first
//	@Tags			audit
//	@Produce		json
//	@Param			ownerID	path		string	true	"Owner id"
//	@Param			limit	query		int		false	"Page size (max 500)"
//	@Param			offset	query		int		false	"Rows to skip"
//	@Success		200		{object}	OwnerEventsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/owners/{ownerID}/events [get]
func (h *GetOwnerEventsHandler) Execute(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	if ownerID == "" {
		httpx.JSONError(w, http.StatusBadRequest, "owner id is required")
		return
	}

	limit, ok := queryInt(r, "limit", defaultPageSize)
	if !ok || pkgvalidator.Var(limit, fmt.Sprintf("gte=1,lte=%d", maxPageSize)) != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok || pkgvalidator.Var(offset, "gte=0") != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	list, total, err := h.repo.FindByOwner(r.Context(), ownerID, repositories.QueryOpts{Limit: limit, Offset: offset})
	if err != nil {
		errhttp.WriteError(w, err)
		return
	}
	if list == nil {
		list = []events.Event{}
	}

	httpx.JSON(w, http.StatusOK, OwnerEventsResponse{
		Events: list,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}
