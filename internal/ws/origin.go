package ws

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

func normalizeOrigins(origins []string, logger *slog.Logger) (map[string]struct{}, bool) {
	allowed := make(map[string]struct{}, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("ignoring invalid allowed origin", "origin", origin)
			continue
		}
		allowed[normalized] = struct{}{}
	}
	return allowed, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// checkOrigin allows requests without an Origin header, which browsers always
// send, so non-browser clients can connect.
func checkOrigin(r *http.Request, allowed map[string]struct{}, allowAll bool, logger *slog.Logger) bool {
	header := r.Header.Get("Origin")
	if header == "" || allowAll {
		return true
	}
	if normalized, ok := normalizeOrigin(header); ok {
		if _, exists := allowed[normalized]; exists {
			return true
		}
	}
	logger.Warn("blocked websocket origin", "origin", header)
	return false
}
