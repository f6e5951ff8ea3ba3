package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pliu/nowchat/internal/models"
)

// Publisher pushes a conversation's history to its live connections.
type Publisher interface {
	Publish(ctx context.Context, a, b string) error
}

type MessageHandler struct {
	Store  Store
	Hub    Publisher
	Logger *slog.Logger
}

type SendMessageRequest struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Text   string `json:"text"`
}

func (h *MessageHandler) GetChatMessages(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a, b := vars["a"], vars["b"]

	messages, src, err := h.Store.History(r.Context(), a, b)
	if err != nil {
		writeError(w, orDefault(h.Logger), "Chat could not be retrieved", err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Chat retrieved from " + string(src),
		Source:  string(src),
		Data:    messages,
	})
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: err.Error()})
		return
	}
	if req.FromID == "" || req.ToID == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, Response{Message: "from_id, to_id and text are required"})
		return
	}

	msg := &models.Message{FromID: req.FromID, ToID: req.ToID, Body: req.Text}
	res, err := h.Store.SendMessage(r.Context(), msg)
	if err != nil {
		writeError(w, orDefault(h.Logger), "Message not received", err)
		return
	}
	if !res.OK {
		writeJSON(w, http.StatusOK, Response{Message: "Message not received!", Data: res})
		return
	}

	if h.Hub != nil {
		if err := h.Hub.Publish(r.Context(), msg.FromID, msg.ToID); err != nil {
			orDefault(h.Logger).Warn("publish after send", "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Message: "Message received", Data: msg})
}
