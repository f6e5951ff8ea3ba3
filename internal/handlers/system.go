package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pliu/nowchat/internal/cache"
	"github.com/pliu/nowchat/internal/ws"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type SystemHandler struct {
	DB       Pinger
	Cache    Pinger
	Timeout  time.Duration
	Logger   *slog.Logger
	Stats    func() cache.Stats
	Reset    func()
	TTL      func() time.Duration
	Hub      func() ws.Stats
	Degraded func() uint64
}

// Health reports 503 when the durable store is down. A cache outage only
// degrades the service.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	status := map[string]string{"database": "ok", "cache": "ok"}
	if err := h.DB.Ping(ctx); err != nil {
		orDefault(h.Logger).Error("health: database", "error", err)
		status["database"] = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, Response{Message: "database: unavailable", Data: status})
		return
	}

	msg := "ok"
	if err := h.Cache.Ping(ctx); err != nil {
		orDefault(h.Logger).Warn("health: cache", "error", err)
		status["cache"] = "degraded"
		msg = "cache: degraded"
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: msg, Data: status})
}

type StatsResponse struct {
	Cache    cache.Stats `json:"cache"`
	CacheTTL string      `json:"cache_ttl,omitempty"`
	Hub      ws.Stats    `json:"hub"`
	Degraded uint64      `json:"degraded"`
}

func (h *SystemHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	if h.Stats != nil {
		resp.Cache = h.Stats()
	}
	if h.TTL != nil {
		resp.CacheTTL = h.TTL().String()
	}
	if h.Hub != nil {
		resp.Hub = h.Hub()
	}
	if h.Degraded != nil {
		resp.Degraded = h.Degraded()
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "Stats retrieved", Data: resp})
}

// ResetStats zeroes the cache counters. Degraded-mode and hub figures are
// left alone.
func (h *SystemHandler) ResetStats(w http.ResponseWriter, r *http.Request) {
	if h.Reset == nil {
		writeJSON(w, http.StatusNotImplemented, Response{Message: "Stats reset not supported"})
		return
	}
	h.Reset()
	orDefault(h.Logger).Info("cache stats reset")
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "Stats reset"})
}
