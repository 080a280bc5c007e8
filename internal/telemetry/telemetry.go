// Package telemetry ingests encrypted location batches and resolves what each
// user may see of their social graph.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MGallo-Code/argus/internal/apperr"
	"github.com/MGallo-Code/argus/internal/i18n"
	"github.com/MGallo-Code/argus/internal/model"
	"github.com/MGallo-Code/argus/internal/store"
)

// Store is the subset of store operations ingestion and access resolution need.
// Satisfied by *store.PostgresStore, defined here (at consumer) per Go convention.
type Store interface {
	InsertTelemetry(ctx context.Context, rec model.TelemetryRecord) error
	Followers(ctx context.Context, username string) ([]model.FollowerEdge, error)
	Following(ctx context.Context, follower string) ([]model.FollowerEdge, error)
	FollowerKeys(ctx context.Context, username string) ([]model.FollowerKey, error)
	UserState(ctx context.Context, username string) (model.UserState, error)
	Device(ctx context.Context, deviceID string) (*model.Device, error)
	UpdateDeviceSettings(ctx context.Context, username, deviceID string, settings model.DeviceSettings) error
}

// Cache is the presence cache. Satisfied by *store.RedisStore.
type Cache interface {
	StoreTelemetry(ctx context.Context, recipient, sender string, t model.Telemetry, seenAt time.Time) error
	Telemetry(ctx context.Context, recipient, sender string) (*model.Telemetry, error)
}

// Completer closes refresh commands echoed back by devices. Satisfied by *command.Service.
type Completer interface {
	Complete(ctx context.Context, correlationID string) error
}

// LocationPublisher pushes live updates to websocket subscribers. Satisfied by *notify.Publisher.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, loc model.LiveLocation) error
}

// EffectRunner runs best-effort work after the response. Satisfied by *effect.Runner.
type EffectRunner interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context) error)
}

// Service handles telemetry ingestion and connection views.
type Service struct {
	store     Store
	cache     Cache
	commands  Completer
	publisher LocationPublisher
	effects   EffectRunner
	now       func() time.Time
}

// NewService returns a Service.
func NewService(s Store, c Cache, commands Completer, p LocationPublisher, effects EffectRunner) *Service {
	return &Service{store: s, cache: c, commands: commands, publisher: p, effects: effects, now: time.Now}
}

// Ingest stores each reading durably and as the latest cached value for its
// recipient, in order. A failed reading aborts the batch with a DatabaseError;
// readings before it stay written. Command completion and live fan-out are
// best-effort. Returns the sender's connections when ReturnFriendLocations is set.
func (s *Service) Ingest(ctx context.Context, sender model.Identity, req model.TelemetryRequest) (*model.Connections, error) {
	appState := model.AppUnknown
	if req.AppState != nil {
		appState = *req.AppState
	}
	if !appState.Valid() {
		return nil, apperr.New(i18n.InvalidRequest)
	}
	rec := model.TelemetryRecord{
		Username:      sender.Username,
		DeviceID:      sender.DeviceID,
		AppState:      appState,
		ChargingState: model.ChargingUnknown,
	}
	if b := req.BatteryState; b != nil {
		if b.BatteryLevel != nil {
			rec.BatteryLevel = *b.BatteryLevel
		}
		if b.ChargingState != nil {
			rec.ChargingState = *b.ChargingState
		}
		if b.IsCharging != nil {
			rec.IsCharging = *b.IsCharging
		}
	}
	if !rec.ChargingState.Valid() {
		return nil, apperr.New(i18n.InvalidRequest)
	}

	now := s.now().UTC()
	timestamp := now.Format(model.TelemetryTimeFormat)

	for _, reading := range req.Telemetry {
		rec.RecipientUsername = reading.RecipientUsername
		rec.EncryptedLocation = reading.Data
		if err := s.store.InsertTelemetry(ctx, rec); err != nil {
			return nil, apperr.Database(err)
		}
		cached := model.Telemetry{Data: reading.Data, Timestamp: timestamp, BatteryState: req.BatteryState}
		if err := s.cache.StoreTelemetry(ctx, reading.RecipientUsername, sender.Username, cached, now); err != nil {
			return nil, apperr.Database(err)
		}
	}

	if req.CorrelationID != nil && *req.CorrelationID != "" {
		if err := s.commands.Complete(ctx, *req.CorrelationID); err != nil {
			slog.Error("completing command", "correlation_id", *req.CorrelationID, "username", sender.Username, "error", err)
		}
	}

	if len(req.Telemetry) > 0 {
		readings := req.Telemetry
		s.effects.Go(ctx, "live-location", func(ctx context.Context) error {
			return s.fanOut(ctx, sender.Username, readings, timestamp)
		})
	}

	if !req.ReturnFriendLocations {
		return nil, nil
	}
	return s.GetConnections(ctx, sender.Username)
}

// fanOut publishes each reading to its recipient's websocket topic when the
// recipient may currently see the sender's location.
func (s *Service) fanOut(ctx context.Context, sender string, readings []model.TelemetryUpdate, timestamp string) error {
	followers, err := s.store.Followers(ctx, sender)
	if err != nil {
		return err
	}
	access := make(map[string]model.AccessType, len(followers))
	for _, f := range followers {
		access[f.Details.Username] = f.AccessType
	}
	state, err := s.store.UserState(ctx, sender)
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range readings {
		a, ok := access[r.RecipientUsername]
		if !ok || !model.CanSeeLocation(a, state) {
			continue
		}
		err := s.publisher.PublishLocation(ctx, model.LiveLocation{
			Data:              r.Data,
			RecipientUsername: r.RecipientUsername,
			Timestamp:         timestamp,
			Username:          sender,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetConnections returns username's followers and the users username follows.
// Followers carry access type, current state and public key, never telemetry.
// Following entries carry the followed user's state and, when visible, the
// latest telemetry addressed to username. A user followed over several rows appears once; the first row wins.
func (s *Service) GetConnections(ctx context.Context, username string) (*model.Connections, error) {
	followers, err := s.store.Followers(ctx, username)
	if err != nil {
		return nil, apperr.Database(err)
	}
	following, err := s.store.Following(ctx, username)
	if err != nil {
		return nil, apperr.Database(err)
	}

	conns := &model.Connections{
		Followers: make(map[string]model.Connection, len(followers)),
		Following: make(map[string]model.Connection, len(following)),
	}
	for _, f := range followers {
		access := f.AccessType
		conns.Followers[f.Details.Username] = model.Connection{
			UserDetails: f.Details,
			AccessType:  &access,
			State:       f.State,
			PublicKey:   f.PublicKey,
		}
	}

	for _, f := range following {
		name := f.Details.Username
		if _, seen := conns.Following[name]; seen {
			continue
		}
		access := f.AccessType
		conn := model.Connection{UserDetails: f.Details, AccessType: &access, State: f.State}
		if f.State != nil && model.CanSeeLocation(access, *f.State) {
			t, err := s.cache.Telemetry(ctx, username, name)
			switch {
			case errors.Is(err, store.ErrCacheMiss):
			case err != nil:
				return nil, apperr.Database(err)
			default:
				conn.Telemetry = t
			}
		}
		conns.Following[name] = conn
	}
	return conns, nil
}

// FollowerKeys returns the public keys telemetry must be encrypted for.
func (s *Service) FollowerKeys(ctx context.Context, username string) ([]model.FollowerKey, error) {
	keys, err := s.store.FollowerKeys(ctx, username)
	if err != nil {
		return nil, apperr.Database(err)
	}
	if keys == nil {
		keys = []model.FollowerKey{}
	}
	return keys, nil
}

// UpdateDeviceSettings stores the settings reported by the caller's device.
func (s *Service) UpdateDeviceSettings(ctx context.Context, caller model.Identity, settings model.DeviceSettings) error {
	if settings.LocationPermissionState == "" {
		settings.LocationPermissionState = model.PermissionUnknown
	}
	if !settings.LocationPermissionState.Valid() {
		return apperr.New(i18n.InvalidRequest)
	}

	d, err := s.store.Device(ctx, caller.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(i18n.DeviceNotFound)
	}
	if err != nil {
		return apperr.Database(err)
	}
	if d.Username != caller.Username {
		return apperr.New(i18n.DeviceNotFound)
	}

	err = s.store.UpdateDeviceSettings(ctx, caller.Username, caller.DeviceID, settings)
	if errors.Is(err, store.ErrStateUnchanged) {
		return apperr.New(i18n.DeviceNotUpdated)
	}
	if err != nil {
		return apperr.Database(err)
	}
	return nil
}
