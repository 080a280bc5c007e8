// main_test.go
//
// Level 3 smoke tests
// chi wiring via httptest.NewServer with in-memory mock stores.
// Catches middleware ordering, route grouping, and real HTTP header behavior
// that httptest.NewRecorder cannot exercise.

package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/argus/internal/api"
	"github.com/MGallo-Code/argus/internal/broker"
	"github.com/MGallo-Code/argus/internal/command"
	"github.com/MGallo-Code/argus/internal/config"
	"github.com/MGallo-Code/argus/internal/effect"
	"github.com/MGallo-Code/argus/internal/emergency"
	"github.com/MGallo-Code/argus/internal/i18n"
	"github.com/MGallo-Code/argus/internal/invitation"
	"github.com/MGallo-Code/argus/internal/model"
	"github.com/MGallo-Code/argus/internal/notify"
	"github.com/MGallo-Code/argus/internal/telemetry"
	"github.com/MGallo-Code/argus/internal/testutil"
)

// --- Smoke wiring ---

// okHealth always reports healthy.
type okHealth struct{}

func (okHealth) CheckHealth(context.Context) error { return nil }

type smoke struct {
	srv    *httptest.Server
	store  *testutil.MockStore
	broker *testutil.MockBroker
}

// newSmokeServer wires the real services over in-memory mocks behind buildRouter.
func newSmokeServer(t *testing.T) *smoke {
	t.Helper()
	tr, err := i18n.LoadEmbedded()
	if err != nil {
		t.Fatalf("loading translations: %v", err)
	}
	ms := testutil.NewMockStore()
	mc := testutil.NewMockCache()
	mb := testutil.NewMockBroker()
	pub := notify.NewPublisher(mb)
	effects := effect.NewRunner(time.Second)
	commands := command.NewService(ms, pub)
	cfg := &config.Config{
		EmailTemplateID:    "tpl",
		WebURL:             "https://armore.dev",
		ProfileImagePath:   "https://pictures.example/",
		InvitationEndpoint: "https://armore.dev/invitations",
		HistoryMaxAge:      168 * time.Hour,
	}

	h := api.NewHandler(api.Deps{
		Telemetry:   telemetry.NewService(ms, mc, commands, pub, effects),
		Commands:    commands,
		Emergency:   emergency.NewService(ms, pub, tr, effects, emailTemplate(cfg), cfg.HistoryMaxAge),
		Invitations: invitation.NewService(ms, pub, commands, tr, effects, cfg.InvitationEndpoint),
		DBHealth:    okHealth{},
		CacheHealth: okHealth{},
		Translator:  tr,
	})
	srv := httptest.NewServer(buildRouter(h))
	t.Cleanup(func() {
		srv.Close()
		effects.Wait()
	})
	return &smoke{srv: srv, store: ms, broker: mb}
}

func (s *smoke) request(t *testing.T, method, path, username, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if username != "" {
		req.Header.Set(api.HeaderUsername, username)
		req.Header.Set(api.HeaderDeviceID, username+"-phone")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// --- Smoke tests ---

func TestSmoke_Health(t *testing.T) {
	s := newSmokeServer(t)
	resp := s.request(t, http.MethodGet, "/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Postgres string `json:"postgres"`
		Redis    string `json:"redis"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body.Postgres != "ok" || body.Redis != "ok" {
		t.Errorf("got %+v", body)
	}
}

func TestSmoke_RequiresIdentity(t *testing.T) {
	s := newSmokeServer(t)
	resp := s.request(t, http.MethodGet, "/v1/telemetry/connections", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without identity, got %d", resp.StatusCode)
	}
}

func TestSmoke_UnknownRoute(t *testing.T) {
	s := newSmokeServer(t)
	resp := s.request(t, http.MethodGet, "/v2/nothing", "alice", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSmoke_EmergencyFanOut(t *testing.T) {
	s := newSmokeServer(t)
	mail := "bob@example.com"
	s.store.AddUser(model.UserDetails{Username: "alice", FirstName: "Alice", LastName: "Smith"})
	s.store.AddUser(model.UserDetails{Username: "bob", FirstName: "Bob", LastName: "Jones", Email: &mail})
	s.store.Follow("alice", "bob", model.AccessEmergencyOnly, true)
	s.store.AddDevice(model.Device{DeviceID: "bob-phone", Username: "bob", OS: model.OSiOS})

	resp := s.request(t, http.MethodPost, "/v1/emergency/state", "alice", `{"newState":"Emergency"}`)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(s.broker.Sent(broker.NotificationsExchange)) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sent := s.broker.Sent(broker.NotificationsExchange)
	if len(sent) != 1 {
		t.Fatalf("expected 1 notification batch, got %d", len(sent))
	}
	batch, err := testutil.DecodeBatch(sent[0].Body)
	if err != nil {
		t.Fatalf("decoding batch: %v", err)
	}
	if len(batch) != 2 {
		t.Errorf("expected push + email, got %v", batch)
	}

	// Bob may now refresh alice: she is in emergency and he follows her.
	resp = s.request(t, http.MethodGet, "/v1/telemetry/alice", "bob", "")
	var env struct {
		Success bool                  `json:"success"`
		Result  model.CommandResponse `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !env.Success || env.Result.CommandStatus != model.CommandCreated {
		t.Errorf("got %+v", env)
	}
}

// --- Mode selection ---

func TestRunRejectsUnknownMode(t *testing.T) {
	err := run(context.Background(), &config.Config{}, "sideways", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown mode") {
		t.Errorf("expected unknown mode error, got %v", err)
	}
}

func TestRunRelayRequiresTarget(t *testing.T) {
	cfg := &config.Config{BrokerURL: "redis://localhost:6380"}
	if err := run(context.Background(), cfg, modeRelay, nil); err == nil {
		t.Error("expected error without RELAY_AMQP_URL")
	}

	cfg = &config.Config{BrokerURL: "amqp://localhost", RelayAMQPURL: "amqp://localhost"}
	if err := run(context.Background(), cfg, modeRelay, nil); err == nil {
		t.Error("expected error for non-redis BROKER_URL")
	}
}

func TestEmailTemplate(t *testing.T) {
	tpl := emailTemplate(&config.Config{
		EmailTemplateID:  "d-123",
		WebURL:           "https://armore.dev",
		ProfileImagePath: "https://pictures.example/",
	})
	if tpl.ID != "d-123" || tpl.LinkTitle != "https://armore.dev" || tpl.PicturePrefix != "https://pictures.example" {
		t.Errorf("got %+v", tpl)
	}
}
