// Package invitation implements friend invitation links: create, accept,
// reject, and the friendship removal that undoes an accepted invitation.
package invitation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MGallo-Code/argus/internal/apperr"
	"github.com/MGallo-Code/argus/internal/i18n"
	"github.com/MGallo-Code/argus/internal/model"
	"github.com/MGallo-Code/argus/internal/notify"
	"github.com/MGallo-Code/argus/internal/store"
	"github.com/gofrs/uuid/v5"
)

// Store is the subset of store operations the invitation service needs.
// Satisfied by *store.PostgresStore, defined here (at consumer) per Go convention.
type Store interface {
	CreateInvitation(ctx context.Context, inv model.Invitation) error
	Invitation(ctx context.Context, id string) (*model.Invitation, error)
	CloseInvitation(ctx context.Context, id string, state model.InvitationState, recipient *string) error
	AcceptInvitation(ctx context.Context, id, recipient string) (string, error)
	UserDetails(ctx context.Context, username string) (*model.UserDetails, error)
	DevicesFor(ctx context.Context, username string) ([]model.Device, error)
	HasAnyEdge(ctx context.Context, a, b string) (bool, error)
	RemoveFriend(ctx context.Context, a, b string) error
}

// Publisher sends a notification batch. Satisfied by *notify.Publisher.
type Publisher interface {
	Publish(ctx context.Context, batch any) error
}

// Syncer asks two users' devices to refresh toward each other. Satisfied by *command.Service.
type Syncer interface {
	Sync(ctx context.Context, a, b string) error
}

// Translator renders localized messages. Satisfied by *i18n.Translator.
type Translator interface {
	Translate(id i18n.MessageID, lang string) string
}

// EffectRunner runs best-effort work after the response. Satisfied by *effect.Runner.
type EffectRunner interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context) error)
}

// Service manages invitation links.
type Service struct {
	store     Store
	publisher Publisher
	syncer    Syncer
	tr        Translator
	effects   EffectRunner
	endpoint  string
	now       func() time.Time
}

// NewService returns a Service. Links are built as "{endpoint}/{id}".
func NewService(s Store, p Publisher, syncer Syncer, tr Translator, effects EffectRunner, endpoint string) *Service {
	return &Service{
		store:     s,
		publisher: p,
		syncer:    syncer,
		tr:        tr,
		effects:   effects,
		endpoint:  strings.TrimSuffix(endpoint, "/"),
		now:       time.Now,
	}
}

// Create stores a new invitation from creator expiring at expiration
// (RFC 3339, not in the past) and returns its shareable link.
func (s *Service) Create(ctx context.Context, creator, expiration string) (string, error) {
	exp, err := time.Parse(time.RFC3339, expiration)
	if err != nil || exp.Before(s.now()) {
		return "", apperr.New(i18n.InvalidExpirationDate)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", apperr.Backend(err)
	}
	err = s.store.CreateInvitation(ctx, model.Invitation{
		ID:                  id.String(),
		CreatorUsername:     creator,
		ExpirationTimestamp: exp.UTC(),
		State:               model.InvitationCreated,
	})
	if err != nil {
		return "", apperr.Database(err)
	}
	return s.endpoint + "/" + id.String(), nil
}

// Accept makes actor and the invitation's creator friends with Permanent
// access both ways. The creator is notified and both sides' devices are asked
// to refresh, best-effort.
func (s *Service) Accept(ctx context.Context, actor, id string) error {
	inv, err := s.usable(ctx, actor, id)
	if err != nil {
		return err
	}

	creator, err := s.store.AcceptInvitation(ctx, inv.ID, actor)
	switch {
	case errors.Is(err, store.ErrStateUnchanged):
		return apperr.New(i18n.InvitationsInvitationIsNoLongerValid)
	case errors.Is(err, store.ErrAlreadyFriends):
		return apperr.New(i18n.InvitationsAlreadyFriends)
	case err != nil:
		return apperr.Database(err)
	}

	slog.Info("invitation accepted", "invitation_id", id, "creator", creator, "recipient", actor)
	s.effects.Go(ctx, "invitation-accepted", func(ctx context.Context) error {
		return s.notifyAccepted(ctx, creator, actor)
	})
	s.effects.Go(ctx, "friend-sync", func(ctx context.Context) error {
		return s.syncer.Sync(ctx, creator, actor)
	})
	return nil
}

// Reject closes the invitation as REJECTED, recording actor.
func (s *Service) Reject(ctx context.Context, actor, id string) error {
	inv, err := s.usable(ctx, actor, id)
	if err != nil {
		return err
	}
	err = s.store.CloseInvitation(ctx, inv.ID, model.InvitationRejected, &actor)
	if errors.Is(err, store.ErrStateUnchanged) {
		return apperr.New(i18n.InvitationsInvitationIsNoLongerValid)
	}
	if err != nil {
		return apperr.Database(err)
	}
	return nil
}

// usable applies the guards shared by Accept and Reject, in order: the
// invitation exists, actor is not its creator, it is still CREATED, and it has
// not expired. An expired invitation is closed as EXPIRED on the way out.
func (s *Service) usable(ctx context.Context, actor, id string) (*model.Invitation, error) {
	inv, err := s.store.Invitation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(i18n.InvitationsInvitationDoesNotExist)
	}
	if err != nil {
		return nil, apperr.Database(err)
	}
	if inv.CreatorUsername == actor {
		return nil, apperr.New(i18n.CannotUseOwnInvitation)
	}
	if inv.State != model.InvitationCreated {
		return nil, apperr.New(i18n.InvitationsInvitationIsNoLongerValid)
	}
	if s.now().After(inv.ExpirationTimestamp) {
		err := s.store.CloseInvitation(ctx, inv.ID, model.InvitationExpired, nil)
		if err != nil && !errors.Is(err, store.ErrStateUnchanged) {
			return nil, apperr.Database(err)
		}
		return nil, apperr.New(i18n.InvitationsInvitationIsNoLongerValid)
	}
	return inv, nil
}

// Creator returns the public identity of the invitation's creator, so the
// invitee can see who invited them before deciding.
func (s *Service) Creator(ctx context.Context, id string) (model.UserDetails, error) {
	inv, err := s.store.Invitation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.UserDetails{}, apperr.New(i18n.InvitationsInvitationDoesNotExist)
	}
	if err != nil {
		return model.UserDetails{}, apperr.Database(err)
	}
	u, err := s.store.UserDetails(ctx, inv.CreatorUsername)
	if errors.Is(err, store.ErrNotFound) {
		return model.UserDetails{}, apperr.New(i18n.NoUserForKey)
	}
	if err != nil {
		return model.UserDetails{}, apperr.Database(err)
	}
	return model.UserDetails{
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Picture:   u.Picture,
	}, nil
}

// RemoveFriend deletes the follower edges between actor and other in both directions.
func (s *Service) RemoveFriend(ctx context.Context, actor, other string) error {
	ok, err := s.store.HasAnyEdge(ctx, actor, other)
	if err != nil {
		return apperr.Database(err)
	}
	if !ok {
		return apperr.New(i18n.InvitationsYouAreNotFriends)
	}
	if err := s.store.RemoveFriend(ctx, actor, other); err != nil {
		return apperr.Database(err)
	}
	return nil
}

// notifyAccepted pushes "{first} accepted your invitation" to every device of
// the creator, in the creator's language.
func (s *Service) notifyAccepted(ctx context.Context, creator, acceptor string) error {
	c, err := s.store.UserDetails(ctx, creator)
	if err != nil {
		return fmt.Errorf("loading creator %s: %w", creator, err)
	}
	a, err := s.store.UserDetails(ctx, acceptor)
	if err != nil {
		return fmt.Errorf("loading acceptor %s: %w", acceptor, err)
	}
	devices, err := s.store.DevicesFor(ctx, creator)
	if err != nil {
		return fmt.Errorf("loading creator devices: %w", err)
	}
	if len(devices) == 0 {
		return nil
	}

	lang := c.Lang()
	data := notify.NotificationData{
		Username: creator,
		Title:    a.FirstName + " " + s.tr.Translate(i18n.PushNotificationInvitationAcceptedTitle, lang),
		Body:     a.FirstName + " " + s.tr.Translate(i18n.PushNotificationInvitationAcceptedBody, lang),
	}
	return s.publisher.Publish(ctx, notify.PushNotifications(data, devices, ""))
}
