package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
)

const flashKey = "flash"

// RequestLogger logs method, path, status and latency of every request.
func RequestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		level := slog.LevelInfo
		if m.Code >= 500 {
			level = slog.LevelError
		} else if m.Code >= 400 {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"bytes", m.Written,
			"duration", m.Duration)
	})
}

// Flash queues a one-time message for the next page the user loads.
func (a *App) Flash(ctx context.Context, msg string) {
	a.Session.Put(ctx, flashKey, msg)
}

// PopFlash returns the pending message, if any, and clears it.
func (a *App) PopFlash(ctx context.Context) string {
	return a.Session.PopString(ctx, flashKey)
}
