// logging.go -- Request-scoped logging for API handlers.
//
// Every line carries the chi request id, the matched route pattern and, once
// RequireIdentity has run, the caller's username and device. Routed requests log
// the pattern, not the path, which embeds usernames and invitation ids.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// callerAttrs describes who is calling and which route they hit.
func callerAttrs(r *http.Request) []any {
	attrs := []any{"method", r.Method, "route", routePattern(r)}
	if id := middleware.GetReqID(r.Context()); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if id, ok := IdentityFromContext(r.Context()); ok {
		attrs = append(attrs, "username", id.Username)
		if id.DeviceID != "" {
			attrs = append(attrs, "device_id", id.DeviceID)
		}
	}
	return attrs
}

// routePattern is the chi pattern matched so far, e.g. /v1/telemetry/{username}.
// Falls back to the raw path before routing has happened.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func logAt(r *http.Request, level slog.Level, msg string, args []any) {
	ctx := r.Context()
	if !slog.Default().Enabled(ctx, level) {
		return
	}
	slog.Log(ctx, level, msg, append(callerAttrs(r), args...)...)
}

func logDebug(r *http.Request, msg string, args ...any) { logAt(r, slog.LevelDebug, msg, args) }

func logInfo(r *http.Request, msg string, args ...any) { logAt(r, slog.LevelInfo, msg, args) }

func logWarn(r *http.Request, msg string, args ...any) { logAt(r, slog.LevelWarn, msg, args) }

func logError(r *http.Request, msg string, args ...any) { logAt(r, slog.LevelError, msg, args) }
