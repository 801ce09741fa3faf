// Package config loads the push worker's configuration from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/qws941/safewallet/webpush/vapid"
)

// Config is the push worker configuration.
type Config struct {
	// VAPID key material. At most one of the raw pair, KeyFile or KMSKey
	// should be set; with none the worker runs unconfigured and hands every
	// batch back to the queue.
	VAPIDPublicKey  string        `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string        `env:"VAPID_PRIVATE_KEY"`
	KeyFile         string        `env:"VAPID_KEY_FILE"`
	KMSKey          string        `env:"VAPID_KMS_KEY"`
	Subject         string        `env:"VAPID_SUBJECT"`
	TokenExpiry     time.Duration `env:"VAPID_TOKEN_EXPIRY, default=12h"`

	DatabaseDriver string `env:"DATABASE_DRIVER, default=sqlite"`
	DatabaseURL    string `env:"DATABASE_URL, default=webpush.db"`

	// Without RedisAddr the worker uses an in-process queue.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB, default=0"`
	QueueName     string `env:"QUEUE_NAME, default=webpush:notifications"`

	BatchSize    int           `env:"BATCH_SIZE, default=10"`
	PollInterval time.Duration `env:"POLL_INTERVAL, default=1s"`
	Concurrency  int           `env:"DELIVERY_CONCURRENCY, default=0"`
	RateLimit    float64       `env:"DELIVERY_RATE_LIMIT, default=0"`
	RateBurst    int           `env:"DELIVERY_RATE_BURST, default=1"`
	HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT, default=30s"`

	// MaxFailCount > 0 enables a periodic sweep deleting subscriptions that
	// failed that many times in a row.
	MaxFailCount  int           `env:"MAX_FAIL_COUNT, default=0"`
	PruneInterval time.Duration `env:"PRUNE_INTERVAL, default=1h"`

	ListenAddr string `env:"LISTEN_ADDR, default=:8080"`
	LogLevel   string `env:"LOG_LEVEL, default=info"`
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom reads the configuration from l.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks for inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together"))
	}
	sources := 0
	for _, set := range []bool{c.VAPIDPrivateKey != "", c.KeyFile != "", c.KMSKey != ""} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		errs = append(errs, errors.New("only one of VAPID_PRIVATE_KEY, VAPID_KEY_FILE and VAPID_KMS_KEY may be set"))
	}
	if sources > 0 && c.Subject == "" {
		errs = append(errs, errors.New("VAPID_SUBJECT is required when VAPID keys are configured"))
	}
	if c.Subject != "" && !strings.HasPrefix(c.Subject, "mailto:") && !strings.HasPrefix(c.Subject, "https://") {
		errs = append(errs, fmt.Errorf("VAPID_SUBJECT %q must be a mailto: or https: URL", c.Subject))
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be positive, got %v", c.PollInterval))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HTTP_TIMEOUT must be positive, got %v", c.HTTPTimeout))
	}
	if c.MaxFailCount < 0 {
		errs = append(errs, fmt.Errorf("MAX_FAIL_COUNT must not be negative, got %d", c.MaxFailCount))
	}
	if c.MaxFailCount > 0 && c.PruneInterval <= 0 {
		errs = append(errs, fmt.Errorf("PRUNE_INTERVAL must be positive when MAX_FAIL_COUNT is set, got %v", c.PruneInterval))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Keys returns the raw VAPID key pair, which may be unconfigured.
func (c *Config) Keys() vapid.Keys {
	return vapid.Keys{PublicKey: c.VAPIDPublicKey, PrivateKey: c.VAPIDPrivateKey}
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	return l, nil
}
