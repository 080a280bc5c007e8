package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/MGallo-Code/argus/internal/api"
	"github.com/MGallo-Code/argus/internal/broker"
	"github.com/MGallo-Code/argus/internal/command"
	"github.com/MGallo-Code/argus/internal/config"
	"github.com/MGallo-Code/argus/internal/effect"
	"github.com/MGallo-Code/argus/internal/emergency"
	"github.com/MGallo-Code/argus/internal/i18n"
	"github.com/MGallo-Code/argus/internal/invitation"
	"github.com/MGallo-Code/argus/internal/notify"
	"github.com/MGallo-Code/argus/internal/store"
	"github.com/MGallo-Code/argus/internal/telemetry"
	"github.com/MGallo-Code/argus/internal/watchdog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/pflag"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

// Process modes selected with --mode.
const (
	modeGateway = "gateway"
	modeNanny   = "nanny"
	modeRelay   = "relay"
	modeAll     = "all"
)

func main() {
	mode := pflag.String("mode", modeAll, "what to run: gateway | nanny | relay | all")
	pflag.Parse()

	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes always execute before os.Exit.
	if err := run(ctx, cfg, *mode, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all process logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, mode string, ready chan<- string) error {
	switch mode {
	case modeGateway, modeNanny, modeAll:
	case modeRelay:
		return runRelay(ctx, cfg)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	// Create new postgres store, return errors if any
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	// Close at end of run func
	defer ps.Close()

	// Run database migrations
	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to set up redis client: %w", err)
	}
	defer rdb.Close()
	rs := store.NewRedisStore(rdb)

	b, err := broker.New(ctx, cfg.BrokerURL, cfg.QueueMaxSize)
	if err != nil {
		return fmt.Errorf("failed to set up broker: %w", err)
	}
	defer b.Close()

	tr, err := i18n.LoadEmbedded()
	if err != nil {
		return fmt.Errorf("failed to load translations: %w", err)
	}

	pub := notify.NewPublisher(b)
	// Effects still in flight finish before the broker closes.
	effects := effect.NewRunner(effect.DefaultTimeout)
	defer effects.Wait()

	commands := command.NewService(ps, pub)

	// Background workers stop when workerCtx is cancelled on return.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	defer func() {
		cancelWorkers()
		workers.Wait()
	}()

	if mode == modeNanny || mode == modeAll {
		nanny := watchdog.NewNanny(rs, commands, ps, pub, tr, watchdog.Config{
			OnlineThreshold: cfg.OnlineThreshold(),
			OfflineCutOff:   cfg.OfflineCutOff(),
			PollPeriod:      cfg.PollPeriod(),
			EscalateAfter:   cfg.NannyEscalateAfter,
		})
		workers.Add(1)
		go func() {
			defer workers.Done()
			nanny.Run(workerCtx)
		}()
	}

	// In all-in-one mode the queue is drained in-process when a relay target is configured.
	if mode == modeAll && cfg.RelayAMQPURL != "" && isRedisURL(cfg.BrokerURL) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := runRelay(workerCtx, cfg); err != nil {
				slog.Error("relay stopped", "error", err)
			}
		}()
	}

	if mode == modeNanny {
		<-ctx.Done()
		slog.Info("shutting down nanny...")
		return nil
	}

	h := api.NewHandler(api.Deps{
		Telemetry:   telemetry.NewService(ps, rs, commands, pub, effects),
		Commands:    commands,
		Emergency:   emergency.NewService(ps, pub, tr, effects, emailTemplate(cfg), cfg.HistoryMaxAge),
		Invitations: invitation.NewService(ps, pub, commands, tr, effects, cfg.InvitationEndpoint),
		DBHealth:    ps,
		CacheHealth: rs,
		Translator:  tr,
	})

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(h)}

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("argus listening", "addr", ln.Addr().String(), "mode", mode)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting, then waits for in-flight requests or the timeout.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// runRelay drains the Redis notification queue into RabbitMQ until ctx is cancelled.
func runRelay(ctx context.Context, cfg *config.Config) error {
	if cfg.RelayAMQPURL == "" {
		return fmt.Errorf("relay mode requires RELAY_AMQP_URL")
	}
	if !isRedisURL(cfg.BrokerURL) {
		return fmt.Errorf("relay mode requires a redis BROKER_URL, got %q", cfg.BrokerURL)
	}

	q, err := broker.DialRedisQueue(ctx, cfg.BrokerURL, cfg.QueueMaxSize)
	if err != nil {
		return fmt.Errorf("failed to set up redis queue: %w", err)
	}
	defer q.Close()

	dst, err := broker.DialAMQP(ctx, cfg.RelayAMQPURL)
	if err != nil {
		return fmt.Errorf("failed to connect to amqp: %w", err)
	}
	defer dst.Close()
	if err := broker.DeclareDefaults(ctx, dst); err != nil {
		return err
	}

	slog.Info("relay started")
	q.Relay(ctx, dst)
	slog.Info("relay stopped")
	return nil
}

func isRedisURL(raw string) bool {
	return strings.HasPrefix(raw, "redis://") || strings.HasPrefix(raw, "rediss://")
}

// emailTemplate maps deployment config onto the emergency email template.
func emailTemplate(cfg *config.Config) notify.EmailTemplate {
	return notify.EmailTemplate{
		ID:            cfg.EmailTemplateID,
		LinkTitle:     cfg.WebURL,
		PicturePrefix: strings.TrimSuffix(cfg.ProfileImagePath, "/"),
	}
}

// buildRouter wires all routes and middleware.
// Called from run() and by smoke tests.
func buildRouter(h *api.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Mount("/", h.Routes())
	return r
}
