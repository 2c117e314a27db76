package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLockLost cancels a held lane context when the lock could not be kept.
var ErrLockLost = errors.New("lane lock lost")

// Locker serialises a lane across processes. Lock blocks until the lock is
// held or fails. The returned context is derived from ctx and is cancelled
// with ErrLockLost if the lock expires or is taken over while held; release
// gives the lock back and cancels it.
type Locker interface {
	Lock(ctx context.Context, key string) (held context.Context, release func(context.Context) error, err error)
}

// NopLocker is used by single-process deployments.
type NopLocker struct{}

func (NopLocker) Lock(ctx context.Context, _ string) (context.Context, func(context.Context) error, error) {
	held, cancel := context.WithCancel(ctx)
	return held, func(context.Context) error {
		cancel()
		return nil
	}, nil
}

const lockPrefix = "dispatch:lock:"

// RedisLocker takes a redsync mutex per lane key and keeps extending it
// while the lane is held, so a job may run longer than the expiry.
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	logger *slog.Logger
}

// NewRedisLocker builds a locker over client. expiry bounds how long a lane
// stays locked after its holder died; a live holder extends it every expiry/2.
func NewRedisLocker(client redis.UniversalClient, expiry time.Duration, logger *slog.Logger) *RedisLocker {
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	return &RedisLocker{rs: redsync.New(goredis.NewPool(client)), expiry: expiry, logger: logger}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (context.Context, func(context.Context) error, error) {
	mutex := l.rs.NewMutex(lockPrefix+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(64),
		redsync.WithRetryDelay(250*time.Millisecond),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, nil, fmt.Errorf("lock lane %s: %w", key, err)
	}

	held, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(mutex, key, cancel, stop, done)

	release := func(ctx context.Context) error {
		close(stop)
		<-done
		defer cancel(context.Canceled)
		ok, err := mutex.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("unlock lane %s: %w", key, err)
		}
		if !ok {
			return errors.New("unlock lane " + key + ": lock no longer held")
		}
		return nil
	}
	return held, release, nil
}

// keepAlive extends the mutex every expiry/2 until stop is closed. A failed
// extension cancels the held context; the holder must stop touching the lane.
func (l *RedisLocker) keepAlive(mutex *redsync.Mutex, key string, cancel context.CancelCauseFunc, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.expiry / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancelExtend := context.WithTimeout(context.Background(), interval)
		ok, err := mutex.ExtendContext(ctx)
		cancelExtend()
		if err == nil && ok {
			continue
		}
		if err == nil {
			err = errors.New("extend refused")
		}
		if l.logger != nil {
			l.logger.Error("lane lock lost", "lane", key, "error", err)
		}
		cancel(fmt.Errorf("%w: %s: %v", ErrLockLost, key, err))
		return
	}
}
