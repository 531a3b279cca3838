package handlers

import (
	"net/http"

	"github.com/ghuser/entitlements/pkg/events"
	"github.com/ghuser/entitlements/pkg/httpx"
	"github.com/ghuser/entitlements/services/audit/application/sink"
)

// QueuesResponse reports event delivery per listener and the bus session pool.
type QueuesResponse struct {
	Listeners   []sink.QueueStatus `json:"listeners"`
	BusSessions *events.PoolStats  `json:"busSessions,omitempty"`
} // @name QueuesResponse

// GetQueuesHandler handles GET /admin/queues.
type GetQueuesHandler struct {
	sink *sink.EventSink
	pool *events.SessionPool
}

// NewGetQueuesHandler returns a handler reporting s and, when non-nil, pool.
func NewGetQueuesHandler(s *sink.EventSink, pool *events.SessionPool) *GetQueuesHandler {
	return &GetQueuesHandler{sink: s, pool: pool}
}

// Execute reports delivery counters.
//
//	@Summary		Event queues
//	@Description	Per-listener delivery counters and bus session pool usage
//	@Tags			audit
//	@Produce		json
//	@Success		200	{object}	QueuesResponse
//	@Router			/admin/queues [get]
func (h *GetQueuesHandler) Execute(w http.ResponseWriter, _ *http.Request) {
	resp := QueuesResponse{Listeners: h.sink.QueueInfo()}
	if h.pool != nil {
		st := h.pool.Stats()
		resp.BusSessions = &st
	}
	httpx.JSON(w, http.StatusOK, resp)
}
