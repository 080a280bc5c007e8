package invitation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/argus/internal/apperr"
	"github.com/MGallo-Code/argus/internal/command"
	"github.com/MGallo-Code/argus/internal/effect"
	"github.com/MGallo-Code/argus/internal/i18n"
	"github.com/MGallo-Code/argus/internal/model"
	"github.com/MGallo-Code/argus/internal/notify"
	"github.com/MGallo-Code/argus/internal/testutil"
)

const endpoint = "https://armore.dev/invitations"

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	store  *testutil.MockStore
	broker *testutil.MockBroker
	runner *effect.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tr, err := i18n.LoadEmbedded()
	if err != nil {
		t.Fatalf("loading translations: %v", err)
	}
	ms := testutil.NewMockStore()
	mb := testutil.NewMockBroker()
	pub := notify.NewPublisher(mb)
	runner := effect.NewRunner(time.Second)
	svc := NewService(ms, pub, command.NewService(ms, pub), tr, runner, endpoint+"/")
	svc.now = func() time.Time { return fixedNow }

	es := "es"
	ms.AddUser(model.UserDetails{Username: "alice", FirstName: "Alice", LastName: "Smith", Language: &es})
	ms.AddUser(model.UserDetails{Username: "bob", FirstName: "Bob", LastName: "Jones"})
	ms.AddUser(model.UserDetails{Username: "carol", FirstName: "Carol", LastName: "White"})
	return &fixture{svc: svc, store: ms, broker: mb, runner: runner}
}

// seed stores an invitation from creator and returns its id.
func (f *fixture) seed(creator string, state model.InvitationState, expires time.Time) string {
	id := "inv-" + creator + "-" + string(state) + "-" + expires.Format("150405")
	f.store.Invitations[id] = &model.Invitation{
		ID:                  id,
		CreatorUsername:     creator,
		ExpirationTimestamp: expires,
		State:               state,
	}
	return id
}

// --- Create ---

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("stores a CREATED invitation and returns its link", func(t *testing.T) {
		f := newFixture(t)
		link, err := f.svc.Create(ctx, "alice", "2024-05-02T12:00:00Z")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if !strings.HasPrefix(link, endpoint+"/") {
			t.Fatalf("link: got %q", link)
		}
		id := strings.TrimPrefix(link, endpoint+"/")
		inv, ok := f.store.Invitations[id]
		if !ok {
			t.Fatalf("invitation %q not stored", id)
		}
		if inv.CreatorUsername != "alice" || inv.State != model.InvitationCreated {
			t.Errorf("got %+v", inv)
		}
		if !inv.ExpirationTimestamp.Equal(time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)) {
			t.Errorf("expiration: got %v", inv.ExpirationTimestamp)
		}
	})

	t.Run("rejects bad or past dates", func(t *testing.T) {
		f := newFixture(t)
		for _, exp := range []string{"tomorrow", "2024-05-02", "2024-04-30T12:00:00Z", ""} {
			_, err := f.svc.Create(ctx, "alice", exp)
			if !apperr.Is(err, i18n.InvalidExpirationDate) {
				t.Errorf("Create(%q): expected InvalidExpirationDate, got %v", exp, err)
			}
		}
		if len(f.store.Invitations) != 0 {
			t.Error("expected nothing stored")
		}
	})

	t.Run("store failure is a DatabaseError", func(t *testing.T) {
		f := newFixture(t)
		f.store.CreateInvitationErr = errors.New("insert failed")
		_, err := f.svc.Create(ctx, "alice", "2024-05-02T12:00:00Z")
		if !apperr.Is(err, i18n.DatabaseError) {
			t.Errorf("expected DatabaseError, got %v", err)
		}
	})
}

// --- Accept ---

func TestAccept(t *testing.T) {
	ctx := context.Background()
	later := fixedNow.Add(time.Hour)

	t.Run("creates the friendship, notifies the creator and syncs", func(t *testing.T) {
		f := newFixture(t)
		f.store.AddDevice(model.Device{DeviceID: "alice-phone", Username: "alice", OS: model.OSiOS})
		id := f.seed("alice", model.InvitationCreated, later)

		if err := f.svc.Accept(ctx, "bob", id); err != nil {
			t.Fatalf("Accept: %v", err)
		}
		f.runner.Wait()

		if got := f.store.InvitationState(id); got != model.InvitationAccepted {
			t.Errorf("state: got %q", got)
		}
		for _, k := range []testutil.EdgeKey{{Username: "alice", Follower: "bob"}, {Username: "bob", Follower: "alice"}} {
			if e, ok := f.store.Edges[k]; !ok || e.Access != model.AccessPermanent {
				t.Errorf("edge %+v: got %+v, %v", k, e, ok)
			}
		}

		var pushes []map[string]any
		for _, m := range f.broker.Sent("") {
			batch, err := testutil.DecodeBatch(m.Body)
			if err != nil {
				t.Fatalf("decoding: %v", err)
			}
			for _, entry := range batch {
				if data, ok := entry["data"].(map[string]any); ok {
					if _, isPush := data["title"]; isPush {
						pushes = append(pushes, data)
					}
				}
			}
		}
		if len(pushes) != 1 {
			t.Fatalf("expected 1 accepted push, got %d", len(pushes))
		}
		if pushes[0]["title"] != "Bob aceptó tu invitación" || pushes[0]["body"] != "Bob ahora es tu amig@" {
			t.Errorf("push: got %v", pushes[0])
		}
		if _, ok := pushes[0]["priority"]; ok {
			t.Error("accepted push must not carry a priority")
		}

		if len(f.store.CommandsFor("alice")) != 1 || len(f.store.CommandsFor("bob")) != 1 {
			t.Error("expected a refresh command in each direction")
		}
	})

	t.Run("unknown invitation", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.Accept(ctx, "bob", "nope")
		if !apperr.Is(err, i18n.InvitationsInvitationDoesNotExist) {
			t.Errorf("expected DoesNotExist, got %v", err)
		}
	})

	t.Run("own invitation", func(t *testing.T) {
		f := newFixture(t)
		id := f.seed("alice", model.InvitationCreated, later)
		err := f.svc.Accept(ctx, "alice", id)
		if !apperr.Is(err, i18n.CannotUseOwnInvitation) {
			t.Errorf("expected CannotUseOwnInvitation, got %v", err)
		}
	})

	t.Run("own check comes before state check", func(t *testing.T) {
		f := newFixture(t)
		id := f.seed("alice", model.InvitationRejected, later)
		err := f.svc.Accept(ctx, "alice", id)
		if !apperr.Is(err, i18n.CannotUseOwnInvitation) {
			t.Errorf("expected CannotUseOwnInvitation, got %v", err)
		}
	})

	t.Run("terminal invitation", func(t *testing.T) {
		f := newFixture(t)
		id := f.seed("alice", model.InvitationAccepted, later)
		err := f.svc.Accept(ctx, "carol", id)
		if !apperr.Is(err, i18n.InvitationsInvitationIsNoLongerValid) {
			t.Errorf("expected IsNoLongerValid, got %v", err)
		}
	})

	t.Run("expired invitation is closed as EXPIRED", func(t *testing.T) {
		f := newFixture(t)
		id := f.seed("alice", model.InvitationCreated, fixedNow.Add(-time.Minute))
		err := f.svc.Accept(ctx, "bob", id)
		if !apperr.Is(err, i18n.InvitationsInvitationIsNoLongerValid) {
			t.Errorf("expected IsNoLongerValid, got %v", err)
		}
		if got := f.store.InvitationState(id); got != model.InvitationExpired {
			t.Errorf("state: got %q", got)
		}
		if len(f.store.Edges) != 0 {
			t.Error("expected no friendship")
		}
	})

	t.Run("already friends leaves the invitation open", func(t *testing.T) {
		f := newFixture(t)
		f.store.Follow("alice", "bob", model.AccessEmergencyOnly, false)
		id := f.seed("alice", model.InvitationCreated, later)
		err := f.svc.Accept(ctx, "bob", id)
		if !apperr.Is(err, i18n.InvitationsAlreadyFriends) {
			t.Errorf("expected AlreadyFriends, got %v", err)
		}
		if got := f.store.InvitationState(id); got != model.InvitationCreated {
			t.Errorf("state: got %q", got)
		}
		f.runner.Wait()
		if len(f.broker.Sent("")) != 0 {
			t.Error("expected no notifications")
		}
	})

	t.Run("second accept loses", func(t *testing.T) {
		f := newFixture(t)
		id := f.seed("alice", model.InvitationCreated, later)
		if err := f.svc.Accept(ctx, "bob", id); err != nil {
			t.Fatalf("first Accept: %v", err)
		}
		err := f.svc.Accept(ctx, "carol", id)
		if !apperr.Is(err, i18n.InvitationsInvitationIsNoLongerValid) {
			t.Errorf("expected IsNoLongerValid, got %v", err)
		}
		f.runner.Wait()
	})

	t.Run("notification failure does not fail the accept", func(t *testing.T) {
		f := newFixture(t)
		f.store.AddDevice(model.Device{DeviceID: "alice-phone", Username: "alice"})
		f.broker.PublishErr = errors.New("broker down")
		id := f.seed("alice", model.InvitationCreated, later)
		if err := f.svc.Accept(ctx, "bob", id); err != nil {
			t.Errorf("expected success, got %v", err)
		}
		f.runner.Wait()
	})
}

// --- Reject ---

func TestReject(t *testing.T) {
	ctx := context.Background()
	later := fixedNow.Add(time.Hour)

	t.Run("closes as REJECTED and records the actor", func(t *testing.T) {
		f := newFixture(t)
		id := f.seed("alice", model.InvitationCreated, later)
		if err := f.svc.Reject(ctx, "bob", id); err != nil {
			t.Fatalf("Reject: %v", err)
		}
		inv := f.store.Invitations[id]
		if inv.State != model.InvitationRejected || inv.RecipientUsername == nil || *inv.RecipientUsername != "bob" {
			t.Errorf("got %+v", inv)
		}
		if len(f.store.Edges) != 0 {
			t.Error("reject must not create edges")
		}
	})

	t.Run("expired", func(t *testing.T) {
		f := newFixture(t)
		id := f.seed("alice", model.InvitationCreated, fixedNow.Add(-time.Second))
		err := f.svc.Reject(ctx, "bob", id)
		if !apperr.Is(err, i18n.InvitationsInvitationIsNoLongerValid) {
			t.Errorf("expected IsNoLongerValid, got %v", err)
		}
		if got := f.store.InvitationState(id); got != model.InvitationExpired {
			t.Errorf("state: got %q", got)
		}
	})

	t.Run("store failure is a DatabaseError", func(t *testing.T) {
		f := newFixture(t)
		id := f.seed("alice", model.InvitationCreated, later)
		f.store.CloseInvitationErr = errors.New("timeout")
		err := f.svc.Reject(ctx, "bob", id)
		if !apperr.Is(err, i18n.DatabaseError) {
			t.Errorf("expected DatabaseError, got %v", err)
		}
	})
}

// --- Creator ---

func TestCreator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mail := "alice@example.com"
	f.store.Users["alice"].Email = &mail
	id := f.seed("alice", model.InvitationCreated, fixedNow.Add(time.Hour))

	t.Run("returns public fields only", func(t *testing.T) {
		u, err := f.svc.Creator(ctx, id)
		if err != nil {
			t.Fatalf("Creator: %v", err)
		}
		if u.FirstName != "Alice" || u.LastName != "Smith" {
			t.Errorf("got %+v", u)
		}
		if u.Email != nil || u.Language != nil {
			t.Error("private fields must be stripped")
		}
	})

	t.Run("unknown invitation", func(t *testing.T) {
		_, err := f.svc.Creator(ctx, "nope")
		if !apperr.Is(err, i18n.InvitationsInvitationDoesNotExist) {
			t.Errorf("expected DoesNotExist, got %v", err)
		}
	})
}

// --- RemoveFriend ---

func TestRemoveFriend(t *testing.T) {
	ctx := context.Background()

	t.Run("removes both directions", func(t *testing.T) {
		f := newFixture(t)
		f.store.Follow("alice", "bob", model.AccessPermanent, false)
		f.store.Follow("bob", "alice", model.AccessPermanent, false)
		if err := f.svc.RemoveFriend(ctx, "alice", "bob"); err != nil {
			t.Fatalf("RemoveFriend: %v", err)
		}
		if len(f.store.Edges) != 0 {
			t.Errorf("expected no edges, got %v", f.store.Edges)
		}
	})

	t.Run("a single direction is enough", func(t *testing.T) {
		f := newFixture(t)
		f.store.Follow("bob", "alice", model.AccessEmergencyOnly, false)
		if err := f.svc.RemoveFriend(ctx, "alice", "bob"); err != nil {
			t.Errorf("RemoveFriend: %v", err)
		}
	})

	t.Run("strangers", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.RemoveFriend(ctx, "alice", "carol")
		if !apperr.Is(err, i18n.InvitationsYouAreNotFriends) {
			t.Errorf("expected YouAreNotFriends, got %v", err)
		}
	})
}
