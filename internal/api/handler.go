// handler.go -- HTTP handlers for the /v1 API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MGallo-Code/argus/internal/apperr"
	"github.com/MGallo-Code/argus/internal/command"
	"github.com/MGallo-Code/argus/internal/i18n"
	"github.com/MGallo-Code/argus/internal/model"
	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps request bodies; telemetry batches are the largest.
const maxBodyBytes = 1 << 20

// Telemetry is satisfied by *telemetry.Service, defined here (at consumer) per Go convention.
type Telemetry interface {
	Ingest(ctx context.Context, sender model.Identity, req model.TelemetryRequest) (*model.Connections, error)
	GetConnections(ctx context.Context, username string) (*model.Connections, error)
	FollowerKeys(ctx context.Context, username string) ([]model.FollowerKey, error)
	UpdateDeviceSettings(ctx context.Context, caller model.Identity, settings model.DeviceSettings) error
}

// Commands is satisfied by *command.Service.
type Commands interface {
	Refresh(ctx context.Context, requester, recipient string) (model.CommandResponse, error)
}

// Emergency is satisfied by *emergency.Service.
type Emergency interface {
	UpdateState(ctx context.Context, username string, newState model.UserState) error
	ReportFriend(ctx context.Context, requester, target string, newState model.UserState) error
	History(ctx context.Context, requester, target string) ([]model.StateTransition, error)
	HistoricalLocation(ctx context.Context, requester, target string, start, end time.Time) ([]model.Location, error)
}

// Invitations is satisfied by *invitation.Service.
type Invitations interface {
	Create(ctx context.Context, creator, expiration string) (string, error)
	Accept(ctx context.Context, actor, id string) error
	Reject(ctx context.Context, actor, id string) error
	Creator(ctx context.Context, id string) (model.UserDetails, error)
	RemoveFriend(ctx context.Context, actor, other string) error
}

// HealthChecker pings a backing service. Satisfied by *store.PostgresStore and *store.RedisStore.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// Translator renders localized messages. Satisfied by *i18n.Translator.
type Translator interface {
	Translate(id i18n.MessageID, lang string) string
}

// Handler holds the services behind the HTTP API.
type Handler struct {
	telemetry   Telemetry
	commands    Commands
	emergency   Emergency
	invitations Invitations
	dbHealth    HealthChecker
	cacheHealth HealthChecker
	tr          Translator
}

// Deps groups Handler dependencies.
type Deps struct {
	Telemetry   Telemetry
	Commands    Commands
	Emergency   Emergency
	Invitations Invitations
	DBHealth    HealthChecker
	CacheHealth HealthChecker
	Translator  Translator
}

// NewHandler returns a Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		telemetry:   d.Telemetry,
		commands:    d.Commands,
		emergency:   d.Emergency,
		invitations: d.Invitations,
		dbHealth:    d.DBHealth,
		cacheHealth: d.CacheHealth,
		tr:          d.Translator,
	}
}

// Routes returns the API routes. Middleware beyond identity is the caller's concern.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.CheckHealth)
	r.Get("/v1/invitations/public/{id}/creator", h.InvitationCreator)

	// Identity required routes
	r.Group(func(r chi.Router) {
		r.Use(h.RequireIdentity)

		r.Post("/v1/telemetry", h.IngestTelemetry)
		r.Get("/v1/telemetry/connections", h.Connections)
		r.Get("/v1/telemetry/{username}", h.RefreshTelemetry)
		r.Get("/v1/followers/keys", h.FollowerKeys)
		r.Post("/v1/device/settings", h.UpdateDeviceSettings)

		r.Post("/v1/emergency/state", h.UpdateState)
		r.Post("/v1/emergency/{username}/state", h.ReportFriend)
		r.Get("/v1/emergency/{username}/history", h.StateHistory)
		r.Get("/v1/emergency/telemetry/{username}", h.HistoricalLocation)

		r.Post("/v1/invitations", h.CreateInvitation)
		r.Post("/v1/invitations/{id}/accept", h.AcceptInvitation)
		r.Post("/v1/invitations/{id}/reject", h.RejectInvitation)
		r.Get("/v1/invitations/{id}/creator", h.InvitationCreator)
		r.Delete("/v1/invitations/remove/{username}", h.RemoveFriend)
	})
	return r
}

// identity returns the caller injected by RequireIdentity.
func identity(r *http.Request) model.Identity {
	id, _ := IdentityFromContext(r.Context())
	return id
}

// decode reads a JSON body into dst, rendering InvalidRequest on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logDebug(r, "invalid request body", "error", err)
		h.fail(w, r, apperr.New(i18n.InvalidRequest))
		return false
	}
	return true
}

// --- Telemetry ---

// IngestTelemetry handles POST /v1/telemetry.
func (h *Handler) IngestTelemetry(w http.ResponseWriter, r *http.Request) {
	var req model.TelemetryRequest
	if !h.decode(w, r, &req) {
		return
	}
	conns, err := h.telemetry.Ingest(r.Context(), identity(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, conns)
}

// Connections handles GET /v1/telemetry/connections.
func (h *Handler) Connections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.telemetry.GetConnections(r.Context(), identity(r).Username)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, conns)
}

// RefreshTelemetry handles GET /v1/telemetry/{username}: ask a followed user's
// devices for fresh telemetry. A caller who does not follow the target gets
// success=false with the command response as the result.
func (h *Handler) RefreshTelemetry(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "username")
	resp, err := h.commands.Refresh(r.Context(), identity(r).Username, target)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if resp.CommandStatus == model.CommandError && resp.Error != nil && *resp.Error == command.ErrSecurity {
		logWarn(r, "refresh denied", "target", target)
		writeJSON(w, r, http.StatusOK, envelope{Success: false, Result: resp})
		return
	}
	ok(w, r, resp)
}

// FollowerKeys handles GET /v1/followers/keys.
func (h *Handler) FollowerKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.telemetry.FollowerKeys(r.Context(), identity(r).Username)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, keys)
}

// UpdateDeviceSettings handles POST /v1/device/settings.
func (h *Handler) UpdateDeviceSettings(w http.ResponseWriter, r *http.Request) {
	var settings model.DeviceSettings
	if !h.decode(w, r, &settings) {
		return
	}
	if err := h.telemetry.UpdateDeviceSettings(r.Context(), identity(r), settings); err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, nil)
}

// --- Emergency ---

type stateRequest struct {
	NewState model.UserState `json:"newState"`
}

// UpdateState handles POST /v1/emergency/state.
func (h *Handler) UpdateState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.emergency.UpdateState(r.Context(), identity(r).Username, req.NewState); err != nil {
		h.fail(w, r, err)
		return
	}
	logInfo(r, "state updated", "state", req.NewState)
	ok(w, r, nil)
}

// ReportFriend handles POST /v1/emergency/{username}/state.
func (h *Handler) ReportFriend(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if !h.decode(w, r, &req) {
		return
	}
	target := chi.URLParam(r, "username")
	if err := h.emergency.ReportFriend(r.Context(), identity(r).Username, target, req.NewState); err != nil {
		h.fail(w, r, err)
		return
	}
	logInfo(r, "state reported for friend", "target", target, "state", req.NewState)
	ok(w, r, nil)
}

// StateHistory handles GET /v1/emergency/{username}/history.
func (h *Handler) StateHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.emergency.History(r.Context(), identity(r).Username, chi.URLParam(r, "username"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, history)
}

// HistoricalLocation handles GET /v1/emergency/telemetry/{username}?start_time=&end_time=.
// Times are RFC 3339; end_time defaults to now.
func (h *Handler) HistoricalLocation(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start_time"))
	if err != nil {
		h.fail(w, r, apperr.New(i18n.InvalidHistoricalLocationStartTime))
		return
	}
	end := time.Now()
	if raw := r.URL.Query().Get("end_time"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			h.fail(w, r, apperr.New(i18n.InvalidRequest))
			return
		}
	}
	locs, err := h.emergency.HistoricalLocation(r.Context(), identity(r).Username, chi.URLParam(r, "username"), start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, locs)
}

// --- Invitations ---

type createInvitationRequest struct {
	ExpirationDate string `json:"expirationDate"`
}

// CreateInvitation handles POST /v1/invitations; the result is the invitation link.
func (h *Handler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req createInvitationRequest
	if !h.decode(w, r, &req) {
		return
	}
	link, err := h.invitations.Create(r.Context(), identity(r).Username, req.ExpirationDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	logInfo(r, "invitation created")
	ok(w, r, link)
}

// AcceptInvitation handles POST /v1/invitations/{id}/accept.
func (h *Handler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	if err := h.invitations.Accept(r.Context(), identity(r).Username, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, nil)
}

// RejectInvitation handles POST /v1/invitations/{id}/reject.
func (h *Handler) RejectInvitation(w http.ResponseWriter, r *http.Request) {
	if err := h.invitations.Reject(r.Context(), identity(r).Username, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, nil)
}

// InvitationCreator handles GET /v1/invitations/{id}/creator and its public twin.
func (h *Handler) InvitationCreator(w http.ResponseWriter, r *http.Request) {
	creator, err := h.invitations.Creator(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, r, creator)
}

// RemoveFriend handles DELETE /v1/invitations/remove/{username}.
func (h *Handler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	other := chi.URLParam(r, "username")
	if err := h.invitations.RemoveFriend(r.Context(), identity(r).Username, other); err != nil {
		h.fail(w, r, err)
		return
	}
	logInfo(r, "friend removed", "other", other)
	ok(w, r, nil)
}
