// Package dispatch runs background jobs on serial lanes. Jobs sharing a key
// run one at a time in submission order; different keys run concurrently.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by Submit after Close has been called.
	ErrClosed = errors.New("dispatcher closed")
	// ErrAbandoned is passed to OnAbandon hooks of jobs dropped at shutdown.
	ErrAbandoned = errors.New("dispatch abandoned at shutdown")
)

const abandonTimeout = 30 * time.Second

// Job is a unit of background work. It receives the dispatcher's context,
// never the submitting request's.
type Job func(ctx context.Context) error

// SubmitOption customises one submitted job.
type SubmitOption func(*queued)

// OnAbandon registers fn to run if the job is dropped at shutdown before it
// started. fn gets a fresh context bounded by a timeout, so it can still
// persist the outcome.
func OnAbandon(fn func(ctx context.Context, cause error)) SubmitOption {
	return func(q *queued) { q.onAbandon = fn }
}

type queued struct {
	name      string
	job       Job
	at        time.Time
	onAbandon func(ctx context.Context, cause error)
}

type lane struct {
	key    string
	mu     sync.Mutex
	queue  []queued
	wake   chan struct{}
	closed bool
}

// Dispatcher owns one worker goroutine per lane key.
type Dispatcher struct {
	ctx       context.Context
	cancel    context.CancelFunc
	locker    Locker
	lockRetry time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool

	inflight sync.WaitGroup // queued or running jobs
	workers  sync.WaitGroup
}

// New creates a dispatcher. A nil locker disables cross-process locking.
func New(logger *slog.Logger, locker Locker) *Dispatcher {
	if locker == nil {
		locker = NopLocker{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		ctx:       ctx,
		cancel:    cancel,
		locker:    locker,
		lockRetry: time.Second,
		logger:    logger,
		lanes:     make(map[string]*lane),
	}
}

// Submit enqueues job on the lane for key and returns immediately.
func (d *Dispatcher) Submit(key, name string, job Job, opts ...SubmitOption) error {
	item := queued{name: name, job: job, at: time.Now()}
	for _, opt := range opts {
		opt(&item)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	l, ok := d.lanes[key]
	if !ok {
		l = &lane{key: key, wake: make(chan struct{}, 1)}
		d.lanes[key] = l
		d.workers.Add(1)
		go d.work(l)
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		d.inflight.Done()
		return ErrClosed
	}
	l.queue = append(l.queue, item)
	depth := len(l.queue)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	l.mu.Unlock()

	d.logger.Debug("job queued", "lane", key, "job", name, "depth", depth)
	return nil
}

// Depth reports queued (not yet started) jobs on a lane.
func (d *Dispatcher) Depth(key string) int {
	d.mu.Lock()
	l, ok := d.lanes[key]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Flush blocks until every job submitted so far has finished.
func (d *Dispatcher) Flush() {
	d.inflight.Wait()
}

// Close stops accepting jobs and drains the queued ones until ctx expires,
// after which the jobs' context is cancelled and jobs that never started are
// handed to their OnAbandon hooks. Close returns once every hook has run.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	lanes := make([]*lane, 0, len(d.lanes))
	for _, l := range d.lanes {
		lanes = append(lanes, l)
	}
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		d.logger.Warn("dispatcher shutdown deadline reached with jobs pending")
	}
	d.cancel()
	for _, l := range lanes {
		l.mu.Lock()
		l.closed = true
		close(l.wake)
		l.mu.Unlock()
	}
	d.workers.Wait()
	return err
}

func (d *Dispatcher) work(l *lane) {
	defer d.workers.Done()
	for {
		item, ok := l.next()
		if !ok {
			if _, open := <-l.wake; !open {
				d.abandon(l)
				return
			}
			continue
		}
		d.run(l.key, item)
	}
}

func (l *lane) next() (queued, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return queued{}, false
	}
	item := l.queue[0]
	l.queue[0] = queued{}
	l.queue = l.queue[1:]
	return item, true
}

func (d *Dispatcher) run(key string, item queued) {
	defer d.inflight.Done()
	log := d.logger.With("lane", key, "job", item.name)

	if d.ctx.Err() != nil {
		d.drop(log, item, ErrAbandoned)
		return
	}

	held, unlock, err := d.lock(key, log)
	if err != nil {
		d.drop(log, item, fmt.Errorf("%w: %v", ErrAbandoned, err))
		return
	}
	defer func() {
		if err := unlock(context.WithoutCancel(d.ctx)); err != nil {
			log.Warn("lane unlock failed", "error", err)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "panic", r)
		}
	}()

	started := time.Now()
	if err := item.job(held); err != nil {
		log.Error("job failed", "error", err, "waited", started.Sub(item.at), "took", time.Since(started))
		return
	}
	log.Info("job finished", "waited", started.Sub(item.at), "took", time.Since(started))
}

// drop hands a job that will never run to its OnAbandon hook.
func (d *Dispatcher) drop(log *slog.Logger, item queued, cause error) {
	log.Error("job dropped at shutdown", "error", cause)
	if item.onAbandon == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("abandon hook panicked", "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), abandonTimeout)
	defer cancel()
	item.onAbandon(ctx, cause)
}

// lock retries until the lane lock is held or the dispatcher stops.
func (d *Dispatcher) lock(key string, log *slog.Logger) (context.Context, func(context.Context) error, error) {
	for attempt := 1; ; attempt++ {
		held, unlock, err := d.locker.Lock(d.ctx, key)
		if err == nil {
			return held, unlock, nil
		}
		wait := time.Duration(attempt) * d.lockRetry
		log.Warn("lane lock not acquired", "attempt", attempt, "retry_in", wait, "error", err)
		select {
		case <-d.ctx.Done():
			return nil, nil, d.ctx.Err()
		case <-time.After(wait):
		}
	}
}

// abandon releases queued jobs that will never run.
func (d *Dispatcher) abandon(l *lane) {
	l.mu.Lock()
	left := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, item := range left {
		d.drop(d.logger.With("lane", l.key, "job", item.name), item, ErrAbandoned)
		d.inflight.Done()
	}
}
