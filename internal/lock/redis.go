package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Options configures how a Redis lock is acquired.
type Options struct {
	// Expiry bounds how long a crashed holder can keep the lock.
	Expiry time.Duration
	// Tries is the number of acquisition attempts before ErrNotAcquired.
	Tries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// DefaultOptions waits roughly one second for a busy account and lets a
// lock outlive its holder by at most fifteen seconds.
func DefaultOptions() Options {
	return Options{
		Expiry:     15 * time.Second,
		Tries:      5,
		RetryDelay: 200 * time.Millisecond,
	}
}

// RedisLocker is a Locker backed by Redis using the RedLock algorithm.
// It is safe for concurrent use.
type RedisLocker struct {
	rs   *redsync.Redsync
	opts Options
	log  zerolog.Logger
}

// NewRedisLocker creates a locker on top of client.
func NewRedisLocker(client redis.UniversalClient, opts Options, log zerolog.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("NewRedisLocker: redis client is nil")
	}
	if opts.Tries < 1 {
		return nil, fmt.Errorf("NewRedisLocker: tries must be at least 1")
	}
	if opts.Expiry <= 0 {
		return nil, fmt.Errorf("NewRedisLocker: expiry must be greater than 0")
	}

	return &RedisLocker{
		rs:   redsync.New(goredis.NewPool(client)),
		opts: opts,
		log:  log,
	}, nil
}

// WithLock implements Locker.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}

	mutex := l.rs.NewMutex(
		key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		l.log.Warn().Err(err).Str("lock_key", key).Msg("Failed to acquire lock")
		return fmt.Errorf("lock %s: %w", key, ErrNotAcquired)
	}

	defer func() {
		// The caller's ctx may already be done; release on a fresh one.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			l.log.Error().Err(err).Str("lock_key", key).Bool("unlock_ok", ok).Msg("Failed to release lock")
		}
	}()

	return fn(ctx)
}

// Ensure RedisLocker implements Locker.
var _ Locker = (*RedisLocker)(nil)
