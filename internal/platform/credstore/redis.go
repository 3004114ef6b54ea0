package credstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/session"
)

// RedisStore keeps the credential under one Redis key. The key expires with
// the credential when it carries an expiry.
type RedisStore struct {
	client   redis.UniversalClient
	key      string
	interval time.Duration
	logger   zerolog.Logger
	owned    bool
}

// NewRedisStore connects using a redis:// URL.
func NewRedisStore(ctx context.Context, url, key string, interval time.Duration, logger zerolog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	s := NewRedisStoreWithClient(client, key, interval, logger)
	s.owned = true
	return s, nil
}

// NewRedisStoreWithClient wraps an existing client; Close leaves it open.
func NewRedisStoreWithClient(client redis.UniversalClient, key string, interval time.Duration, logger zerolog.Logger) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &RedisStore{client: client, key: key, interval: interval, logger: logger}
}

func (s *RedisStore) Load(ctx context.Context) (*session.Credential, error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return decode(b)
}

func (s *RedisStore) Save(ctx context.Context, cred session.Credential) error {
	b, err := encode(cred)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if !cred.ExpiresAt.IsZero() {
		ttl = time.Until(cred.ExpiresAt)
		if ttl <= 0 {
			return s.Delete(ctx)
		}
	}
	if err := s.client.Set(ctx, s.key, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.key, err)
	}
	return nil
}

// Watch polls the key. Keyspace notifications would need server-side
// configuration that a client cannot assume.
func (s *RedisStore) Watch(ctx context.Context) (<-chan Change, error) {
	last, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return poll(ctx, s.interval, last, s.Load, s.logger), nil
}

func (s *RedisStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

// poll is shared by the network backends.
func poll(ctx context.Context, every time.Duration, last *session.Credential,
	load func(context.Context) (*session.Credential, error), logger zerolog.Logger) <-chan Change {
	out := make(chan Change, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			cur, err := load(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("credential poll failed")
				continue
			}
			if sameCredential(last, cur) {
				continue
			}
			last = cur
			select {
			case out <- Change{Credential: cur}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
