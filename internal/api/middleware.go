// middleware.go

// Caller identity middleware. Authentication happens upstream; the auth proxy
// forwards the verified caller in headers.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/MGallo-Code/argus/internal/i18n"
	"github.com/MGallo-Code/argus/internal/model"
)

// Headers set by the upstream auth proxy.
const (
	HeaderUsername = "X-Username"
	HeaderDeviceID = "X-Device-Id"
	HeaderLanguage = "X-Language"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const identityKey contextKey = "identity"

// IdentityFromContext retrieves the caller identity.
// Returns false if RequireIdentity hasn't run.
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey).(model.Identity)
	return id, ok
}

// requestLanguage is the caller's language header, or "en".
func requestLanguage(r *http.Request) string {
	if lang := strings.TrimSpace(r.Header.Get(HeaderLanguage)); lang != "" {
		return lang
	}
	return "en"
}

// RequireIdentity reads the caller from the proxy headers and injects it into
// the request context. Returns 401 when no username is present.
func (h *Handler) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.Header.Get(HeaderUsername))
		if username == "" {
			logWarn(r, "require identity failed", "reason", "missing_username")
			h.failure(w, r, http.StatusUnauthorized, h.tr.Translate(i18n.Unauthorized, requestLanguage(r)), "")
			return
		}
		id := model.Identity{
			Username: username,
			DeviceID: strings.TrimSpace(r.Header.Get(HeaderDeviceID)),
			Language: requestLanguage(r),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}
