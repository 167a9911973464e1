package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Redis is a lease backed by a Redis lock, shared by every process pointed
// at the same key. The lock is refreshed in the background while held so a
// long checkout never outlives its TTL; a crashed holder frees the session
// once the TTL lapses.
type Redis struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// RedisOption configures a Redis lease.
type RedisOption func(*Redis)

// WithTTL sets the lock TTL. The lock is refreshed every TTL/2.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

// WithWait bounds how long Acquire waits for a held lock.
func WithWait(d time.Duration) RedisOption {
	return func(r *Redis) { r.wait = d }
}

// WithRetryInterval sets how often a held lock is polled.
func WithRetryInterval(d time.Duration) RedisOption {
	return func(r *Redis) { r.retry = d }
}

// NewRedis creates a lease on key.
func NewRedis(client redis.UniversalClient, key string, opts ...RedisOption) *Redis {
	r := &Redis{
		locker: redislock.New(client),
		key:    key,
		ttl:    30 * time.Second,
		wait:   10 * time.Minute,
		retry:  250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}

// Acquire obtains the lock, waiting up to the configured wait.
func (r *Redis) Acquire(ctx context.Context) (Release, error) {
	obtainCtx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	lock, err := r.locker.Obtain(obtainCtx, r.key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.retry),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("%w: %s", ErrBusy, r.key)
		}
		return nil, fmt.Errorf("obtain session lock %s: %w", r.key, err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.keepAlive(lock, stop)
	}()

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			close(stop)
			wg.Wait()
			if rerr := lock.Release(ctx); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) {
				err = fmt.Errorf("release session lock %s: %w", r.key, rerr)
			}
		})
		return err
	}, nil
}

func (r *Redis) keepAlive(lock *redislock.Lock, stop <-chan struct{}) {
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/2)
			err := lock.Refresh(ctx, r.ttl, nil)
			cancel()
			if err != nil {
				slog.Warn("session lock refresh failed", "key", r.key, "error", err)
			}
		}
	}
}
