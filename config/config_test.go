package config

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.TokenExpiry != 12*time.Hour {
		t.Errorf("TokenExpiry = %v, want 12h", cfg.TokenExpiry)
	}
	if cfg.DatabaseDriver != "sqlite" || cfg.DatabaseURL != "webpush.db" {
		t.Errorf("database = %s %s", cfg.DatabaseDriver, cfg.DatabaseURL)
	}
	if cfg.BatchSize != 10 || cfg.PollInterval != time.Second {
		t.Errorf("BatchSize = %d, PollInterval = %v", cfg.BatchSize, cfg.PollInterval)
	}
	if cfg.Keys().Configured() {
		t.Error("Keys().Configured() = true with no keys set")
	}
	if l, _ := cfg.Level(); l != slog.LevelInfo {
		t.Errorf("Level() = %v, want info", l)
	}
}

func TestLoadFrom(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"VAPID_PUBLIC_KEY":     "BPub",
		"VAPID_PRIVATE_KEY":    "priv",
		"VAPID_SUBJECT":        "mailto:safety@example.com",
		"DATABASE_DRIVER":      "postgres",
		"DATABASE_URL":         "postgres://localhost/webpush",
		"REDIS_ADDR":           "localhost:6379",
		"DELIVERY_CONCURRENCY": "16",
		"DELIVERY_RATE_LIMIT":  "50",
		"POLL_INTERVAL":        "250ms",
		"LOG_LEVEL":            "debug",
	}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if !cfg.Keys().Configured() {
		t.Error("Keys().Configured() = false")
	}
	if cfg.Concurrency != 16 || cfg.RateLimit != 50 {
		t.Errorf("Concurrency = %d, RateLimit = %v", cfg.Concurrency, cfg.RateLimit)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if l, _ := cfg.Level(); l != slog.LevelDebug {
		t.Errorf("Level() = %v, want debug", l)
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "half a key pair",
			env:     map[string]string{"VAPID_PRIVATE_KEY": "priv", "VAPID_SUBJECT": "mailto:a@b.c"},
			wantErr: "must be set together",
		},
		{
			name:    "two key sources",
			env:     map[string]string{"VAPID_KEY_FILE": "/keys/vapid.pem", "VAPID_KMS_KEY": "projects/p/locations/l/keyRings/r/cryptoKeys/k/cryptoKeyVersions/1", "VAPID_SUBJECT": "mailto:a@b.c"},
			wantErr: "only one of",
		},
		{
			name:    "keys without subject",
			env:     map[string]string{"VAPID_KEY_FILE": "/keys/vapid.pem"},
			wantErr: "VAPID_SUBJECT is required",
		},
		{
			name:    "bad subject",
			env:     map[string]string{"VAPID_SUBJECT": "admin@example.com"},
			wantErr: "mailto: or https:",
		},
		{
			name:    "unknown driver",
			env:     map[string]string{"DATABASE_DRIVER": "mysql"},
			wantErr: "unsupported DATABASE_DRIVER",
		},
		{
			name:    "bad batch size",
			env:     map[string]string{"BATCH_SIZE": "0"},
			wantErr: "BATCH_SIZE",
		},
		{
			name:    "zero poll interval",
			env:     map[string]string{"POLL_INTERVAL": "0s"},
			wantErr: "POLL_INTERVAL must be positive",
		},
		{
			name:    "zero http timeout",
			env:     map[string]string{"HTTP_TIMEOUT": "0s"},
			wantErr: "HTTP_TIMEOUT must be positive",
		},
		{
			name:    "negative max fail count",
			env:     map[string]string{"MAX_FAIL_COUNT": "-1"},
			wantErr: "MAX_FAIL_COUNT",
		},
		{
			name:    "pruning without interval",
			env:     map[string]string{"MAX_FAIL_COUNT": "5", "PRUNE_INTERVAL": "0s"},
			wantErr: "PRUNE_INTERVAL must be positive",
		},
		{
			name:    "bad log level",
			env:     map[string]string{"LOG_LEVEL": "loud"},
			wantErr: "LOG_LEVEL",
		},
		{
			name:    "unparseable duration",
			env:     map[string]string{"POLL_INTERVAL": "soon"},
			wantErr: "POLL_INTERVAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(context.Background(), envconfig.MapLookuper(tt.env))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadFrom() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFrom_PruneIntervalIgnoredWithoutPruning(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"PRUNE_INTERVAL": "0s",
	}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.MaxFailCount != 0 {
		t.Errorf("MaxFailCount = %d, want 0", cfg.MaxFailCount)
	}
}
