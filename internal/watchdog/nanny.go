// nanny.go
//
// Presence watchdog. Users whose last telemetry fell out of the online window
// but is not yet past the offline cutoff get a silent refresh every tick; after
// enough unanswered refreshes the owner and their emergency contacts are alerted.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MGallo-Code/argus/internal/i18n"
	"github.com/MGallo-Code/argus/internal/model"
	"github.com/MGallo-Code/argus/internal/notify"
)

// Requester is the username recorded on watchdog-issued commands.
const Requester = "nanny"

// Cache is the presence cache. Satisfied by *store.RedisStore.
type Cache interface {
	StaleUsers(ctx context.Context, from, to time.Time) ([]string, error)
	RecordRetry(ctx context.Context, username string) (int64, error)
}

// Issuer sends refresh commands. Satisfied by *command.Service.
type Issuer interface {
	Issue(ctx context.Context, requester, recipient string) (model.CommandResponse, error)
}

// Store resolves who to alert on escalation.
// Satisfied by *store.PostgresStore, defined here (at consumer) per Go convention.
type Store interface {
	UserDetails(ctx context.Context, username string) (*model.UserDetails, error)
	EmergencyContacts(ctx context.Context, username string) ([]model.EmergencyContact, error)
	DevicesFor(ctx context.Context, username string) ([]model.Device, error)
}

// Publisher sends a notification batch. Satisfied by *notify.Publisher.
type Publisher interface {
	Publish(ctx context.Context, batch any) error
}

// Translator renders localized messages. Satisfied by *i18n.Translator.
type Translator interface {
	Translate(id i18n.MessageID, lang string) string
	Translatef(id i18n.MessageID, lang string, args ...any) string
}

// Config controls the watchdog window and cadence.
type Config struct {
	OnlineThreshold time.Duration
	OfflineCutOff   time.Duration
	PollPeriod      time.Duration
	// EscalateAfter is the retry count that triggers visible alerts. 0 disables.
	EscalateAfter int64
}

// Nanny periodically nudges devices that went quiet.
type Nanny struct {
	cache     Cache
	issuer    Issuer
	store     Store
	publisher Publisher
	tr        Translator
	cfg       Config
}

// NewNanny returns a Nanny.
func NewNanny(c Cache, issuer Issuer, s Store, p Publisher, tr Translator, cfg Config) *Nanny {
	return &Nanny{cache: c, issuer: issuer, store: s, publisher: p, tr: tr, cfg: cfg}
}

// Run ticks once immediately and then every PollPeriod until ctx is cancelled.
func (n *Nanny) Run(ctx context.Context) {
	slog.Info("nanny started", "poll_period", n.cfg.PollPeriod.String(),
		"online_threshold", n.cfg.OnlineThreshold.String(), "offline_cut_off", n.cfg.OfflineCutOff.String())

	ticker := time.NewTicker(n.cfg.PollPeriod)
	defer ticker.Stop()
	for {
		if _, err := n.Tick(ctx, time.Now()); err != nil {
			slog.Warn("nanny tick failed", "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			slog.Info("nanny stopped")
			return
		}
	}
}

// Tick issues one refresh command to every user last seen within
// [now-OfflineCutOff, now-OnlineThreshold] and returns how many were issued.
// Per-user failures are logged and skipped; only the scan itself can fail.
func (n *Nanny) Tick(ctx context.Context, now time.Time) (int, error) {
	users, err := n.cache.StaleUsers(ctx, now.Add(-n.cfg.OfflineCutOff), now.Add(-n.cfg.OnlineThreshold))
	if err != nil {
		return 0, fmt.Errorf("scanning stale users: %w", err)
	}

	issued := 0
	for _, u := range users {
		if ctx.Err() != nil {
			return issued, ctx.Err()
		}
		resp, err := n.issuer.Issue(ctx, Requester, u)
		if err != nil {
			slog.Error("nanny refresh failed", "username", u, "error", err)
			continue
		}
		issued++
		if resp.CommandStatus == model.CommandError {
			slog.Warn("nanny refresh not delivered", "username", u, "correlation_id", *resp.CorrelationID)
		}

		retries, err := n.cache.RecordRetry(ctx, u)
		if err != nil {
			slog.Warn("recording nanny retry", "username", u, "error", err)
			continue
		}
		if n.cfg.EscalateAfter > 0 && retries == n.cfg.EscalateAfter {
			if err := n.escalate(ctx, u); err != nil {
				slog.Error("nanny escalation failed", "username", u, "error", err)
			}
		}
	}

	if len(users) > 0 {
		slog.Debug("nanny tick complete", "stale", len(users), "issued", issued)
	}
	return issued, nil
}

// escalate tells the owner their phone stopped reporting and asks each
// emergency contact to check on them, in one batch.
func (n *Nanny) escalate(ctx context.Context, username string) error {
	owner, err := n.store.UserDetails(ctx, username)
	if err != nil {
		return fmt.Errorf("loading owner: %w", err)
	}

	var batch []notify.PushNotification
	devices, err := n.store.DevicesFor(ctx, username)
	if err != nil {
		return fmt.Errorf("loading owner devices: %w", err)
	}
	lang := owner.Lang()
	batch = append(batch, notify.PushNotifications(notify.NotificationData{
		Username: username,
		Title:    n.tr.Translate(i18n.NannyNotificationAttention, lang),
		Body:     n.tr.Translate(i18n.NannyNotificationOfflinePhoneOwnerBody, lang),
	}, devices, notify.PriorityHigh)...)

	contacts, err := n.store.EmergencyContacts(ctx, username)
	if err != nil {
		return fmt.Errorf("loading emergency contacts: %w", err)
	}
	for _, c := range contacts {
		recipient, err := n.store.UserDetails(ctx, c.Username)
		if err != nil {
			slog.Warn("skipping emergency contact", "username", username, "contact", c.Username, "error", err)
			continue
		}
		devices, err := n.store.DevicesFor(ctx, c.Username)
		if err != nil {
			slog.Warn("loading contact devices", "contact", c.Username, "error", err)
			continue
		}
		lang := recipient.Lang()
		batch = append(batch, notify.PushNotifications(notify.NotificationData{
			Username: c.Username,
			Title:    n.tr.Translate(i18n.NannyNotificationAttention, lang),
			Body:     n.tr.Translatef(i18n.NannyNotificationBody, lang, owner.FirstName, owner.LastName),
		}, devices, notify.PriorityHigh)...)
	}

	if len(batch) == 0 {
		return nil
	}
	slog.Info("nanny escalated", "username", username, "notifications", len(batch))
	return n.publisher.Publish(ctx, batch)
}
