// Package emergency implements the Normal/Emergency state machine and the
// alerts sent to a user's emergency contacts when it changes.
package emergency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MGallo-Code/argus/internal/apperr"
	"github.com/MGallo-Code/argus/internal/i18n"
	"github.com/MGallo-Code/argus/internal/model"
	"github.com/MGallo-Code/argus/internal/notify"
	"github.com/MGallo-Code/argus/internal/store"
)

// AlertTitle is the fixed title of every emergency alert.
const AlertTitle = "RescueLink SOS"

// Store is the subset of store operations the emergency service needs.
// Satisfied by *store.PostgresStore, defined here (at consumer) per Go convention.
type Store interface {
	UserDetails(ctx context.Context, username string) (*model.UserDetails, error)
	UserState(ctx context.Context, username string) (model.UserState, error)
	TransitionUserState(ctx context.Context, username string, newState model.UserState) error
	StateHistory(ctx context.Context, username string) ([]model.StateTransition, error)
	IsFollower(ctx context.Context, username, follower string) (bool, error)
	EmergencyContacts(ctx context.Context, username string) ([]model.EmergencyContact, error)
	DevicesFor(ctx context.Context, username string) ([]model.Device, error)
	HistoricalLocations(ctx context.Context, owner, recipient string, start, end time.Time) ([]model.Location, error)
}

// Publisher sends a notification batch. Satisfied by *notify.Publisher.
type Publisher interface {
	Publish(ctx context.Context, batch any) error
}

// Translator renders localized messages. Satisfied by *i18n.Translator.
type Translator interface {
	Translate(id i18n.MessageID, lang string) string
}

// EffectRunner runs best-effort work after the response. Satisfied by *effect.Runner.
type EffectRunner interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context) error)
}

// Service owns user state transitions.
type Service struct {
	store     Store
	publisher Publisher
	tr        Translator
	effects   EffectRunner
	email     notify.EmailTemplate
	maxAge    time.Duration
	now       func() time.Time
}

// NewService returns a Service. historyMaxAge bounds how far back
// HistoricalLocation may start.
func NewService(s Store, p Publisher, tr Translator, effects EffectRunner, email notify.EmailTemplate, historyMaxAge time.Duration) *Service {
	return &Service{
		store:     s,
		publisher: p,
		tr:        tr,
		effects:   effects,
		email:     email,
		maxAge:    historyMaxAge,
		now:       time.Now,
	}
}

// UpdateState moves username to newState and alerts their emergency contacts.
// Transitioning to the current state is rejected with UserAlreadyInEmergency
// or UserAlreadyInNormal and sends nothing.
func (s *Service) UpdateState(ctx context.Context, username string, newState model.UserState) error {
	if !newState.Valid() {
		return apperr.New(i18n.InvalidRequest)
	}
	err := s.store.TransitionUserState(ctx, username, newState)
	if errors.Is(err, store.ErrStateUnchanged) {
		if newState == model.StateEmergency {
			return apperr.New(i18n.UserAlreadyInEmergency)
		}
		return apperr.New(i18n.UserAlreadyInNormal)
	}
	if err != nil {
		return apperr.Database(err)
	}

	slog.Info("user state changed", "username", username, "state", newState)
	s.effects.Go(ctx, "emergency-alert", func(ctx context.Context) error {
		return s.alertContacts(ctx, username, newState)
	})
	return nil
}

// ReportFriend changes target's state on their behalf. requester must follow target.
func (s *Service) ReportFriend(ctx context.Context, requester, target string, newState model.UserState) error {
	if err := s.requireFollower(ctx, target, requester); err != nil {
		return err
	}
	return s.UpdateState(ctx, target, newState)
}

// History lists target's state transitions, oldest first. Users may read their
// own history and the history of anyone they follow.
func (s *Service) History(ctx context.Context, requester, target string) ([]model.StateTransition, error) {
	if requester != target {
		if err := s.requireFollower(ctx, target, requester); err != nil {
			return nil, err
		}
	}
	h, err := s.store.StateHistory(ctx, target)
	if err != nil {
		return nil, apperr.Database(err)
	}
	if h == nil {
		h = []model.StateTransition{}
	}
	return h, nil
}

// HistoricalLocation returns the telemetry target sent to requester strictly
// between start and end. Only available while target is in Emergency.
func (s *Service) HistoricalLocation(ctx context.Context, requester, target string, start, end time.Time) ([]model.Location, error) {
	if start.Before(s.now().Add(-s.maxAge)) || start.After(end) {
		return nil, apperr.New(i18n.InvalidHistoricalLocationStartTime)
	}

	state, err := s.store.UserState(ctx, target)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(i18n.UserNotInEmergency)
	}
	if err != nil {
		return nil, apperr.Database(err)
	}
	if state != model.StateEmergency {
		return nil, apperr.New(i18n.UserNotInEmergency)
	}
	if err := s.requireFollower(ctx, target, requester); err != nil {
		return nil, err
	}

	locs, err := s.store.HistoricalLocations(ctx, target, requester, start, end)
	if err != nil {
		return nil, apperr.Database(err)
	}
	if locs == nil {
		locs = []model.Location{}
	}
	return locs, nil
}

func (s *Service) requireFollower(ctx context.Context, username, follower string) error {
	ok, err := s.store.IsFollower(ctx, username, follower)
	if err != nil {
		return apperr.Database(err)
	}
	if !ok {
		return apperr.New(i18n.InvitationsYouAreNotFriends)
	}
	return nil
}

// alertContacts builds one push per contact device and one email per contact
// with an address, then publishes the whole batch as a single message.
// Contacts whose details cannot be resolved are skipped.
func (s *Service) alertContacts(ctx context.Context, username string, state model.UserState) error {
	sender, err := s.store.UserDetails(ctx, username)
	if err != nil {
		return fmt.Errorf("loading sender %s: %w", username, err)
	}
	contacts, err := s.store.EmergencyContacts(ctx, username)
	if err != nil {
		return fmt.Errorf("loading emergency contacts: %w", err)
	}

	bodyID := i18n.NormalModePushNotificationBody
	if state == model.StateEmergency {
		bodyID = i18n.EmergencyModePushNotificationBody
	}

	var batch []any
	for _, c := range contacts {
		recipient, err := s.store.UserDetails(ctx, c.Username)
		if err != nil {
			slog.Warn("skipping emergency contact", "username", username, "contact", c.Username, "error", err)
			continue
		}
		lang := recipient.Lang()
		data := notify.NotificationData{
			Username: recipient.Username,
			Title:    AlertTitle,
			Body:     sender.FirstName + " " + sender.LastName + " " + s.tr.Translate(bodyID, lang),
		}

		devices, err := s.store.DevicesFor(ctx, recipient.Username)
		if err != nil {
			slog.Warn("loading contact devices", "contact", recipient.Username, "error", err)
		}
		for _, p := range notify.PushNotifications(data, devices, notify.PriorityHigh) {
			batch = append(batch, p)
		}

		link := s.tr.Translate(i18n.PushNotificationActionView, lang)
		if email, ok := notify.EmailFor(*sender, *recipient, data, link, s.email); ok {
			batch = append(batch, email)
		}
	}

	if len(batch) == 0 {
		slog.Debug("no emergency alerts to send", "username", username)
		return nil
	}
	return s.publisher.Publish(ctx, batch)
}
