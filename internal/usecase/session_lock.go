package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pagelens/internal/domain"
)

// defaultBusyWait bounds how long a caller waits for a session that is
// already running another action before giving up busy.
const defaultBusyWait = 5 * time.Second

// SessionLocker provides operation-level mutual exclusion per session key.
// Actions on distinct keys run fully in parallel; a second action on the
// same key waits up to the configured bound and then fails with a busy
// error rather than queueing indefinitely.
type SessionLocker struct {
	mu       sync.Mutex
	busyWait time.Duration
	locks    map[string]*sessionMutex
}

type sessionMutex struct {
	mu       sync.Mutex
	refCount int
	// held reports whether the mutex is currently owned by a caller,
	// as opposed to merely having waiters. Guarded by SessionLocker.mu.
	held bool
}

// NewSessionLocker creates a session locker. busyWait bounds how long Lock
// waits behind a running action; zero means fail immediately when busy,
// negative means use the default.
func NewSessionLocker(busyWait time.Duration) *SessionLocker {
	if busyWait < 0 {
		busyWait = defaultBusyWait
	}
	return &SessionLocker{
		busyWait: busyWait,
		locks:    make(map[string]*sessionMutex),
	}
}

// Lock acquires the lock for the given session key. It blocks until the
// lock is acquired, the busy-wait bound elapses, or the context is
// cancelled. Returns an unlock function that MUST be called when the
// operation is complete.
func (sl *SessionLocker) Lock(ctx context.Context, key string) (unlock func(), err error) {
	// Get or create the per-session mutex.
	sl.mu.Lock()
	sm, ok := sl.locks[key]
	if !ok {
		sm = &sessionMutex{}
		sl.locks[key] = sm
	}
	sm.refCount++
	sl.mu.Unlock()

	// Fast path: the session is idle.
	if sm.mu.TryLock() {
		return sl.grant(key, sm), nil
	}
	if sl.busyWait == 0 {
		sl.release(key, sm)
		return nil, domain.NewDomainError("SessionLocker.Lock", domain.ErrSessionBusy,
			fmt.Sprintf("session %q is running another action", key))
	}

	// Slow path: wait behind the running action, bounded.
	acquired := make(chan struct{})
	go func() {
		sm.mu.Lock()
		close(acquired)
	}()

	timer := time.NewTimer(sl.busyWait)
	defer timer.Stop()

	select {
	case <-acquired:
		return sl.grant(key, sm), nil

	case <-timer.C:
		sl.abandon(key, sm, acquired)
		return nil, domain.NewDomainError("SessionLocker.Lock", domain.ErrSessionBusy,
			fmt.Sprintf("session %q still busy after %v", key, sl.busyWait))

	case <-ctx.Done():
		sl.abandon(key, sm, acquired)
		return nil, fmt.Errorf("session lock: %w", ctx.Err())
	}
}

// grant marks sm held and returns its unlock function.
func (sl *SessionLocker) grant(key string, sm *sessionMutex) func() {
	sl.mu.Lock()
	sm.held = true
	sl.mu.Unlock()
	return func() {
		sl.mu.Lock()
		sm.held = false
		sl.mu.Unlock()
		sm.mu.Unlock()
		sl.release(key, sm)
	}
}

// abandon cleans up after a wait that gave up: the acquire goroutine will
// still obtain the mutex eventually and must release it to prevent a
// permanently held lock.
func (sl *SessionLocker) abandon(key string, sm *sessionMutex, acquired chan struct{}) {
	go func() {
		<-acquired
		sm.mu.Unlock()
		sl.release(key, sm)
	}()
}

func (sl *SessionLocker) release(key string, sm *sessionMutex) {
	sl.mu.Lock()
	sm.refCount--
	if sm.refCount == 0 {
		delete(sl.locks, key)
	}
	sl.mu.Unlock()
}

// Busy reports whether the session currently has an action holding its
// lock. A session with only waiters is not considered busy.
func (sl *SessionLocker) Busy(key string) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sm, ok := sl.locks[key]
	return ok && sm.held
}

// ActiveCount returns the number of sessions with active or pending locks.
// Intended for testing.
func (sl *SessionLocker) ActiveCount() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.locks)
}
