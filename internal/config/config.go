// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all env configuration vars for argus.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,notEmpty"`
	RedisURL    string `env:"REDIS_URL,notEmpty"`
	Port        string `env:"PORT" envDefault:"7865"`

	// LOG_LEVEL is parsed into LogLevel by LoadConfig; unknown values mean info.
	LogLevelName string `env:"LOG_LEVEL" envDefault:"info"`
	LogLevel     slog.Level

	// BrokerURL selects the notification broker by scheme: amqp(s):// publishes to RabbitMQ,
	// redis:// queues onto Redis lists. Empty means queue on REDIS_URL.
	BrokerURL string `env:"BROKER_URL"`

	// RelayAMQPURL is the RabbitMQ target when running --mode relay.
	RelayAMQPURL string `env:"RELAY_AMQP_URL"`

	// QueueMaxSize caps each Redis notification queue. 0 = unlimited.
	QueueMaxSize int64 `env:"QUEUE_MAX_SIZE" envDefault:"10000"`

	// Watchdog window. A user last seen between OfflineCutOff and OnlineThreshold
	// minutes ago gets a refresh command every PollPeriod.
	OnlineThresholdMinutes int `env:"ONLINE_THRESHOLD_MINUTES" envDefault:"10"`
	OfflineCutOffMinutes   int `env:"OFFLINE_CUT_OFF_MINUTES" envDefault:"60"`
	PollPeriodSeconds      int `env:"POLL_PERIOD_SECONDS" envDefault:"60"`

	// NannyEscalateAfter is the number of unanswered watchdog refreshes after which
	// the owner and their emergency contacts get a visible alert. 0 disables it.
	NannyEscalateAfter int64 `env:"NANNY_ESCALATE_AFTER" envDefault:"3"`

	// Public links and email template data.
	InvitationEndpoint string `env:"INVITATION_ENDPOINT" envDefault:"https://armore.dev/invitations"`
	WebURL             string `env:"WEB_URL" envDefault:"https://armore.dev"`
	ProfileImagePath   string `env:"PROFILE_IMAGE_PATH" envDefault:"https://storage.cloud.google.com/rescuelink_user_pictures"`
	EmailTemplateID    string `env:"EMAIL_TEMPLATE_ID" envDefault:"d-f4c36d6358cd445e9a873e103c3efe05"`

	// HistoryMaxAge bounds how far back historical location queries may start.
	HistoryMaxAge time.Duration `env:"HISTORY_MAX_AGE" envDefault:"168h"`
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables (DATABASE_URL, REDIS_URL) are missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	switch strings.ToLower(cfg.LogLevelName) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	// Queue on the shared Redis when no broker is given.
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = cfg.RedisURL
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.OnlineThresholdMinutes <= 0 {
		return fmt.Errorf("ONLINE_THRESHOLD_MINUTES must be positive")
	}
	if c.OfflineCutOffMinutes <= c.OnlineThresholdMinutes {
		return fmt.Errorf("OFFLINE_CUT_OFF_MINUTES must be greater than ONLINE_THRESHOLD_MINUTES")
	}
	if c.PollPeriodSeconds <= 0 {
		return fmt.Errorf("POLL_PERIOD_SECONDS must be positive")
	}
	if c.NannyEscalateAfter < 0 {
		return fmt.Errorf("NANNY_ESCALATE_AFTER must not be negative")
	}
	if c.QueueMaxSize < 0 {
		return fmt.Errorf("QUEUE_MAX_SIZE must not be negative")
	}
	if c.HistoryMaxAge <= 0 {
		return fmt.Errorf("HISTORY_MAX_AGE must be positive")
	}
	// Links end up in emails and push notifications, never over plain HTTP.
	if !strings.HasPrefix(c.InvitationEndpoint, "https://") {
		return fmt.Errorf("INVITATION_ENDPOINT must start with https://")
	}
	if !strings.HasPrefix(c.WebURL, "https://") {
		return fmt.Errorf("WEB_URL must start with https://")
	}
	switch {
	case strings.HasPrefix(c.BrokerURL, "amqp://"), strings.HasPrefix(c.BrokerURL, "amqps://"),
		strings.HasPrefix(c.BrokerURL, "redis://"), strings.HasPrefix(c.BrokerURL, "rediss://"):
	default:
		return fmt.Errorf("BROKER_URL must use amqp://, amqps://, redis:// or rediss://")
	}
	return nil
}

// OnlineThreshold is how long a user stays "online" after their last telemetry.
func (c *Config) OnlineThreshold() time.Duration {
	return time.Duration(c.OnlineThresholdMinutes) * time.Minute
}

// OfflineCutOff is how long after the last telemetry the watchdog gives up on a user.
func (c *Config) OfflineCutOff() time.Duration {
	return time.Duration(c.OfflineCutOffMinutes) * time.Minute
}

// PollPeriod is the watchdog tick interval.
func (c *Config) PollPeriod() time.Duration {
	return time.Duration(c.PollPeriodSeconds) * time.Second
}
