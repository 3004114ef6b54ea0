package credstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Options selects and configures a backend.
type Options struct {
	Backend      string // file, redis or postgres
	FilePath     string
	Key          string
	RedisURL     string
	DatabaseURL  string
	PollInterval time.Duration
}

// Open returns the configured backend. An empty Backend means "file".
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (Store, error) {
	logger = logger.With().Str("component", "credstore").Str("backend", opts.Backend).Logger()

	switch opts.Backend {
	case "", "file":
		return NewFileStore(opts.FilePath, logger)
	case "redis":
		return NewRedisStore(ctx, opts.RedisURL, opts.Key, opts.PollInterval, logger)
	case "postgres":
		return OpenPostgres(ctx, opts.DatabaseURL, opts.Key, opts.PollInterval, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
