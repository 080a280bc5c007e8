// responses.go -- Package-wide HTTP response helpers.
//
// Every response is the same envelope: {"success": bool, "result": ...}.
// Failures carry a translated message and, for infrastructure errors only,
// the engineering detail.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/MGallo-Code/argus/internal/apperr"
)

// envelope is the body of every response.
type envelope struct {
	Success bool `json:"success"`
	Result  any  `json:"result"`
}

// errorResult is the result of a failed request.
type errorResult struct {
	Message          string `json:"message"`
	EngineeringError string `json:"engineeringError,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logWarn(r, "writing response", "error", err)
	}
}

// ok returns a 200 success envelope around result.
func ok(w http.ResponseWriter, r *http.Request, result any) {
	writeJSON(w, r, http.StatusOK, envelope{Success: true, Result: result})
}

// failure writes a failed envelope with the given status.
func (h *Handler) failure(w http.ResponseWriter, r *http.Request, status int, message, detail string) {
	writeJSON(w, r, status, envelope{Result: errorResult{Message: message, EngineeringError: detail}})
}

// fail renders a service error. Domain errors are 400; database and backend
// failures are 500 and are logged with their cause.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(err)
	msg := h.tr.Translate(e.ID, requestLanguage(r))
	if e.Internal() {
		logError(r, "request failed", "error_id", string(e.ID), "error", err)
		h.failure(w, r, http.StatusInternalServerError, msg, e.Detail)
		return
	}
	logDebug(r, "request rejected", "error_id", string(e.ID))
	h.failure(w, r, http.StatusBadRequest, msg, "")
}
