package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/domain/requests"
)

// RequestsHandler serves the support request board
type RequestsHandler struct {
	board  *requests.Board
	logger *zap.Logger
}

// NewRequestsHandler creates a new handler
func NewRequestsHandler(b *requests.Board, logger *zap.Logger) *RequestsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestsHandler{board: b, logger: logger}
}

// Routes returns the handler routes
func (h *RequestsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/stats", h.Stats)
	r.Patch("/{requestID}", h.Update)
	return r
}

// List handles GET /requests?status=&priority=
func (h *RequestsHandler) List(w http.ResponseWriter, r *http.Request) {
	status, err := requests.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	priority, err := requests.ParsePriority(r.URL.Query().Get("priority"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.board.List(requests.Filter{Status: status, Priority: priority}))
}

// Stats handles GET /requests/stats
func (h *RequestsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.board.Stats())
}

// requestUpdate changes status, assignee or both
type requestUpdate struct {
	Status     *string `json:"status,omitempty"`
	AssignedTo *string `json:"assignedTo,omitempty"`
}

// Update handles PATCH /requests/{requestID}
func (h *RequestsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "requestID"))
	if err != nil {
		jsonError(w, "invalid request id", http.StatusBadRequest)
		return
	}
	var in requestUpdate
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.Status == nil && in.AssignedTo == nil {
		jsonError(w, "nothing to update", http.StatusBadRequest)
		return
	}

	var req requests.Request
	if in.Status != nil {
		status, err := requests.ParseStatus(*in.Status)
		if err != nil {
			respondError(w, h.logger, err)
			return
		}
		if req, err = h.board.UpdateStatus(id, status); err != nil {
			respondError(w, h.logger, err)
			return
		}
	}
	if in.AssignedTo != nil {
		if req, err = h.board.Assign(id, *in.AssignedTo); err != nil {
			respondError(w, h.logger, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, req)
}
