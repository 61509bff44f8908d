package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/domain/chathub"
)

// ChatHandler serves the operator chat hub
type ChatHandler struct {
	hub    *chathub.Hub
	logger *zap.Logger
}

// NewChatHandler creates a new handler
func NewChatHandler(hub *chathub.Hub, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{hub: hub, logger: logger}
}

// Routes returns the handler routes
func (h *ChatHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Contacts)
	r.Get("/{chatID}/messages", h.Messages)
	r.Post("/{chatID}/messages", h.Send)
	r.Post("/{chatID}/read", h.Select)
	return r
}

type contactsResponse struct {
	Contacts []chathub.Contact `json:"contacts"`
	Unread   int               `json:"unread"`
}

// Contacts handles GET /chats
func (h *ChatHandler) Contacts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, contactsResponse{Contacts: h.hub.Contacts(), Unread: h.hub.Unread()})
}

// Messages handles GET /chats/{chatID}/messages
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	msgs, err := h.hub.Messages(id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Select handles POST /chats/{chatID}/read: the chat is opened and its
// unread counter cleared
func (h *ChatHandler) Select(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	msgs, err := h.hub.Select(id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Send handles POST /chats/{chatID}/messages
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	var in struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	msg, err := h.hub.Send(id, in.Content)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func chatID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "chatID"))
	if err != nil {
		jsonError(w, "invalid chat id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
