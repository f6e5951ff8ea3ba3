// Package handlers exposes the chat store over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/pliu/nowchat/internal/models"
	"github.com/pliu/nowchat/internal/store"
	"github.com/pliu/nowchat/internal/store/cachestore"
)

// Store is the cache-aside store as used by the HTTP API.
type Store interface {
	Users(ctx context.Context) ([]models.User, cachestore.Source, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) (cachestore.WriteResult, error)
	UpdateUser(ctx context.Context, u *models.User) (cachestore.WriteResult, error)
	DeleteUser(ctx context.Context, id int64) (cachestore.WriteResult, error)
	History(ctx context.Context, a, b string) ([]models.Message, cachestore.Source, error)
	SendMessage(ctx context.Context, m *models.Message) (cachestore.WriteResult, error)
}

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
	Data    any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeError maps store errors onto HTTP statuses.
func writeError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		logger.Error(msg, "error", err)
	}
	writeJSON(w, status, Response{Message: msg})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
