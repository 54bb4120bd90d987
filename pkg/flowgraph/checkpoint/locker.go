package checkpoint

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// UnlockFunc releases a lock acquired from a DistributedLocker.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker provides cross-process mutual exclusion per key.
type DistributedLocker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// lockEntry holds the per-thread semaphore and its reference count.
type lockEntry struct {
	sem  chan struct{}
	refs int
}

// Locker serializes load-mutate-save cycles per thread ID. Different
// threads never block each other. Entries are reference counted and
// removed once no goroutine holds or waits for them.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry

	distributed DistributedLocker
	ttl         time.Duration
	logger      *slog.Logger
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithDistributedLocker additionally takes a cross-process lock after the
// in-process one, for deployments with more than one server.
func WithDistributedLocker(d DistributedLocker, ttl time.Duration) LockerOption {
	return func(l *Locker) {
		l.distributed = d
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLockerLogger sets the logger used for release failures.
func WithLockerLogger(logger *slog.Logger) LockerOption {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLocker creates a Locker.
func NewLocker(opts ...LockerOption) *Locker {
	l := &Locker{
		locks:  make(map[string]*lockEntry),
		ttl:    30 * time.Second,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Locker) acquire(threadID string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[threadID]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[threadID] = entry
	}
	entry.refs++
	return entry
}

func (l *Locker) release(threadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[threadID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, threadID)
	}
}

// Lock blocks until the caller holds threadID or ctx is done.
// The returned function releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, threadID string) (func(), error) {
	entry := l.acquire(threadID)

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(threadID)
		return nil, ctx.Err()
	}

	var unlockRemote UnlockFunc
	if l.distributed != nil {
		var err error
		unlockRemote, err = l.distributed.Lock(ctx, threadID, l.ttl)
		if err != nil {
			<-entry.sem
			l.release(threadID)
			return nil, fmt.Errorf("acquire distributed lock: %w", err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if unlockRemote != nil {
				if err := unlockRemote(context.Background()); err != nil {
					l.logger.Warn("failed to release distributed lock (will expire via TTL)",
						"thread_id", threadID,
						"err", err,
					)
				}
			}
			<-entry.sem
			l.release(threadID)
		})
	}, nil
}

// WithLock runs fn while holding the lock for threadID.
func (l *Locker) WithLock(ctx context.Context, threadID string, fn func(context.Context) error) error {
	unlock, err := l.Lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// Held returns the number of thread IDs currently locked or awaited.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
