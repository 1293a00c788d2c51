package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SkynetNext/stagepool/internal/circuitbreaker"
	"github.com/SkynetNext/stagepool/internal/config"
	"github.com/SkynetNext/stagepool/internal/copier"
	"github.com/SkynetNext/stagepool/internal/logger"
	"github.com/SkynetNext/stagepool/internal/metrics"
	"github.com/SkynetNext/stagepool/internal/pool"
	"github.com/SkynetNext/stagepool/internal/retry"
	"github.com/SkynetNext/stagepool/internal/sink"
	"github.com/SkynetNext/stagepool/internal/tracing"
)

// ErrNotFound is returned by Load when no snapshot exists under the key
var ErrNotFound = errors.New("snapshot not found")

// Cmdable is the subset of the Redis client used by the store
type Cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// NewClient creates a Redis client from configuration
func NewClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// Store saves encoded values in Redis, staging the encoding in a pooled buffer
type Store struct {
	rdb     Cmdable
	pool    *pool.Pool
	codec   copier.Codec
	prefix  string
	ttl     time.Duration
	retry   retry.RetryConfig
	breaker *circuitbreaker.Breaker
}

// NewStore creates a snapshot store. A nil codec selects Gob.
func NewStore(rdb Cmdable, p *pool.Pool, codec copier.Codec, cfg config.SnapshotConfig, prefix string) *Store {
	if codec == nil {
		codec = copier.Gob{}
	}
	return &Store{
		rdb:    rdb,
		pool:   p,
		codec:  codec,
		prefix: prefix,
		ttl:    cfg.TTL,
		retry: retry.RetryConfig{
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			Permanent:  retry.IsAny(redis.Nil, circuitbreaker.ErrOpen),
		},
		breaker: circuitbreaker.NewBreaker("redis", cfg.BreakerMaxFailures, cfg.BreakerTimeout),
	}
}

// key generates full key with prefix
func (s *Store) key(suffix string) string {
	return s.prefix + "snapshot:" + suffix
}

// Breaker returns the circuit breaker guarding Redis
func (s *Store) Breaker() *circuitbreaker.Breaker {
	return s.breaker
}

// call runs a Redis command with retries behind the circuit breaker
func (s *Store) call(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, s.retry, func() error {
		return s.breaker.Execute(fn, isNil)
	})
}

func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Ping checks Redis connection
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Save encodes v and stores it under key
func (s *Store) Save(ctx context.Context, key string, v any) (err error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Save")
	defer span.End()
	defer func() { metrics.IncSnapshotOp("save", err) }()

	data, err := s.stage(ctx, v)
	if err != nil {
		return err
	}

	err = s.call(ctx, func() error {
		return s.rdb.Set(ctx, s.key(key), data, s.ttl).Err()
	})
	if err != nil {
		logger.WarnWithTrace(ctx, "failed to save snapshot",
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to save snapshot %s: %w", key, err)
	}

	logger.DebugWithTrace(ctx, "snapshot saved",
		zap.String("key", key),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// stage encodes v into a pooled sink and returns an exact-size copy of the staged bytes.
// The buffer is back in the pool before any network call is made.
func (s *Store) stage(ctx context.Context, v any) ([]byte, error) {
	sk, err := sink.New(ctx, s.pool)
	if err != nil {
		return nil, err
	}
	defer sk.Close()

	if err := s.codec.Encode(sk, v); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	view, err := sk.ReadView()
	if err != nil {
		return nil, err
	}

	data := make([]byte, view.Len())
	if _, err := io.ReadFull(view, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Load decodes the snapshot stored under key into dst
func (s *Store) Load(ctx context.Context, key string, dst any) (err error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Load")
	defer span.End()
	defer func() { metrics.IncSnapshotOp("load", err) }()

	var data []byte
	err = s.call(ctx, func() error {
		var getErr error
		data, getErr = s.rdb.Get(ctx, s.key(key)).Bytes()
		return getErr
	})
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}

	if err := s.codec.Decode(bytes.NewReader(data), dst); err != nil {
		logger.ErrorWithTrace(ctx, "corrupt snapshot",
			zap.String("key", key),
			zap.String("codec", s.codec.Name()),
			zap.Int("bytes", len(data)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return nil
}

// Delete removes the snapshot stored under key, reporting whether it existed
func (s *Store) Delete(ctx context.Context, key string) (deleted bool, err error) {
	defer func() { metrics.IncSnapshotOp("delete", err) }()

	var n int64
	err = s.call(ctx, func() error {
		var delErr error
		n, delErr = s.rdb.Del(ctx, s.key(key)).Result()
		return delErr
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete snapshot %s: %w", key, err)
	}
	return n > 0, nil
}
