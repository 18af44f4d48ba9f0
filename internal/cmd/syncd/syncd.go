// Package syncd parses syncd command flags and launches the offline
// intake runtime.
package syncd

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/repairhub/intake/internal/platform/cmd"
	syncserver "github.com/repairhub/intake/internal/services/offline/app"
)

// Config holds syncd command configuration.
type Config struct {
	Port          int           `env:"REPAIRHUB_SYNC_PORT" envDefault:"8095"`
	APIBaseURL    string        `env:"REPAIRHUB_SYNC_API_URL"`
	DBPath        string        `env:"REPAIRHUB_SYNC_DB_PATH" envDefault:"data/intake.db"`
	CredentialTTL time.Duration `env:"REPAIRHUB_SYNC_CREDENTIAL_TTL" envDefault:"168h"`
	MaxAttempts   int           `env:"REPAIRHUB_SYNC_MAX_ATTEMPTS" envDefault:"8"`
	RetryBackoff  time.Duration `env:"REPAIRHUB_SYNC_RETRY_BACKOFF" envDefault:"5s"`
	RetryMaxDelay time.Duration `env:"REPAIRHUB_SYNC_RETRY_MAX_DELAY" envDefault:"10m"`
	ProbeInterval time.Duration `env:"REPAIRHUB_SYNC_PROBE_INTERVAL" envDefault:"15s"`
	CleanupGrace  time.Duration `env:"REPAIRHUB_SYNC_CLEANUP_GRACE" envDefault:"5s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The syncd health gRPC server port")
	fs.StringVar(&cfg.APIBaseURL, "api-url", cfg.APIBaseURL, "The backend API base URL")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The intake SQLite database path")
	fs.DurationVar(&cfg.CredentialTTL, "credential-ttl", cfg.CredentialTTL, "Cached credential lifetime")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Maximum sync attempts before staff review")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base retry backoff delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum retry delay")
	fs.DurationVar(&cfg.ProbeInterval, "probe-interval", cfg.ProbeInterval, "Backend reachability probe interval")
	fs.DurationVar(&cfg.CleanupGrace, "cleanup-grace", cfg.CleanupGrace, "Delay before removing synced items")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the offline intake runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSyncd, func(context.Context) error {
		return syncserver.Run(ctx, syncserver.RuntimeConfig{
			Port:          cfg.Port,
			APIBaseURL:    cfg.APIBaseURL,
			DBPath:        cfg.DBPath,
			CredentialTTL: cfg.CredentialTTL,
			MaxAttempts:   cfg.MaxAttempts,
			RetryBackoff:  cfg.RetryBackoff,
			RetryMaxDelay: cfg.RetryMaxDelay,
			ProbeInterval: cfg.ProbeInterval,
			CleanupGrace:  cfg.CleanupGrace,
		})
	})
}
