package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"pagelens/internal/domain"
)

// Default registry settings.
const (
	defaultMaxSessions = 8

	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// RegistryConfig bounds the session pool and its construction breaker.
type RegistryConfig struct {
	// MaxSessions caps live plus under-construction sessions.
	MaxSessions int
	// BusyWait bounds how long an action waits behind another action on
	// the same session. Zero fails immediately, negative uses the default.
	BusyWait time.Duration

	// Construction circuit breaker settings. Zero values fall back to
	// the defaults.
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
	BreakerInterval    time.Duration

	// NavPerMinute rate-limits navigations per session; zero disables
	// the limit.
	NavPerMinute int
	NavBurst     int
}

// Registry owns the pool of live browser sessions, keyed by caller-chosen
// session keys. Concurrent Acquires of one key construct at most one
// browser; concurrent work on distinct keys proceeds fully in parallel.
// Repeated construction failures open a circuit breaker so a broken
// browser install fails fast instead of spawning doomed processes.
type Registry struct {
	factory domain.DriverFactory
	browser domain.SessionConfig
	cfg     RegistryConfig
	logger  *slog.Logger

	locker  *SessionLocker
	breaker *gobreaker.CircuitBreaker[domain.Driver]

	mu      sync.Mutex
	entries map[string]*sessionEntry
	closed  bool
}

// sessionEntry tracks one session from the moment its key is claimed.
// ready closes when construction finishes; exactly one of sess or err is
// set before that.
type sessionEntry struct {
	ready chan struct{}
	sess  *Session
	err   error
}

// NewRegistry creates a session registry around a driver factory. browser
// is the launch template applied to every constructed session.
func NewRegistry(factory domain.DriverFactory, browser domain.SessionConfig, cfg RegistryConfig, logger *slog.Logger) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.BreakerTimeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.BreakerInterval
	if interval == 0 {
		interval = defaultBreakerInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		factory: factory,
		browser: browser,
		cfg:     cfg,
		logger:  logger,
		locker:  NewSessionLocker(cfg.BusyWait),
		entries: make(map[string]*sessionEntry),
	}

	r.breaker = gobreaker.NewCircuitBreaker[domain.Driver](gobreaker.Settings{
		Name:        "browser-construction",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return r
}

// Acquire returns the live session for key, constructing a browser if the
// key is new. Concurrent callers of the same key share one construction:
// the first claims the key and builds, the rest wait on the result. A
// failed construction is returned to every waiting caller and leaves the
// key unregistered, so the next Acquire retries from scratch.
func (r *Registry) Acquire(ctx context.Context, key string) (*Session, error) {
	if err := validateSessionKey(key); err != nil {
		return nil, domain.NewDomainError("Registry.Acquire", domain.ErrInvalidInput, err.Error())
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, domain.NewDomainError("Registry.Acquire", domain.ErrDisabled, "registry is shut down")
	}
	if e, ok := r.entries[key]; ok {
		r.mu.Unlock()
		return r.await(ctx, e)
	}
	if n := len(r.entries); n >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return nil, domain.NewSubSystemError("registry", "Acquire", domain.ErrLimitReached,
			fmt.Sprintf("%d sessions live, max %d", n, r.cfg.MaxSessions))
	}
	e := &sessionEntry{ready: make(chan struct{})}
	r.entries[key] = e
	r.mu.Unlock()

	r.construct(ctx, key, e)
	return r.await(ctx, e)
}

// await blocks until the entry's construction finishes or ctx is done.
func (r *Registry) await(ctx context.Context, e *sessionEntry) (*Session, error) {
	select {
	case <-e.ready:
		if e.err != nil {
			return nil, e.err
		}
		return e.sess, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire session: %w", ctx.Err())
	}
}

// construct builds the browser for a freshly claimed key. It runs outside
// the registry mutex so slow browser startup never blocks work on other
// sessions.
func (r *Registry) construct(ctx context.Context, key string, e *sessionEntry) {
	start := time.Now()
	drv, err := r.breaker.Execute(func() (domain.Driver, error) {
		return r.factory(ctx, r.browser)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			err = domain.NewSubSystemError("registry", "Acquire", domain.ErrConstruction,
				"construction circuit open: "+err.Error())
		} else if !errors.Is(err, domain.ErrConstruction) {
			err = domain.NewSubSystemError("registry", "Acquire", domain.ErrConstruction, err.Error())
		}

		// Remove the claim before publishing the failure so the next
		// Acquire of this key starts a fresh construction.
		r.mu.Lock()
		if cur, ok := r.entries[key]; ok && cur == e {
			delete(r.entries, key)
		}
		r.mu.Unlock()

		e.err = err
		close(e.ready)
		r.logger.Error("session construction failed", "key", key, "error", err)
		return
	}

	sess := newSession(key, drv, r.newNavLimiter())

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		// Shutdown raced the construction; do not hand out a browser
		// nobody will close.
		e.err = domain.NewDomainError("Registry.Acquire", domain.ErrDisabled, "registry shut down during construction")
		close(e.ready)
		if cerr := drv.Close(context.Background()); cerr != nil {
			r.logger.Warn("orphaned browser close failed", "key", key, "error", cerr)
		}
		return
	}

	e.sess = sess
	close(e.ready)
	r.logger.Info("session constructed",
		"key", key,
		"id", sess.ID,
		"elapsed", time.Since(start),
	)
}

func (r *Registry) newNavLimiter() *rate.Limiter {
	if r.cfg.NavPerMinute <= 0 {
		return nil
	}
	burst := r.cfg.NavBurst
	if burst <= 0 {
		burst = 1
	}
	// NavPerMinute spread over 60 seconds.
	return rate.NewLimiter(rate.Limit(r.cfg.NavPerMinute)/60.0, burst)
}

// Peek returns the constructed session for key without building one.
// Sessions still under construction are reported as not found.
func (r *Registry) Peek(key string) (*Session, error) {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if ok {
		select {
		case <-e.ready:
			if e.err == nil && e.sess != nil {
				return e.sess, nil
			}
		default:
		}
	}
	return nil, domain.NewDomainError("Registry.Peek", domain.ErrSessionNotFound, key)
}

// Do runs fn against the session for key while holding its per-session
// lock, so driver use is serialized. The session's last-activity time is
// refreshed whether or not fn succeeds.
func (r *Registry) Do(ctx context.Context, key string, fn func(ctx context.Context, sess *Session) error) error {
	unlock, err := r.locker.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	sess, err := r.Peek(key)
	if err != nil {
		return err
	}

	err = fn(ctx, sess)
	sess.Touch()
	return err
}

// Release closes the session for key and forgets it. It is idempotent:
// releasing an unknown key reports false. A close failure is logged and
// swallowed so the key is always freed for reuse.
func (r *Registry) Release(ctx context.Context, key string) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return false
	}

	// An entry still under construction is awaited so the browser it may
	// produce is not orphaned.
	select {
	case <-e.ready:
	case <-ctx.Done():
		return false
	}

	r.mu.Lock()
	cur, live := r.entries[key]
	if live && cur == e {
		delete(r.entries, key)
	} else {
		live = false
	}
	r.mu.Unlock()

	if !live || e.err != nil || e.sess == nil {
		return false
	}
	r.closeSession(ctx, e.sess, "release")
	return true
}

// Sweep closes sessions idle for longer than idleThreshold and returns how
// many it closed. Sessions running an action and sessions still under
// construction are skipped.
func (r *Registry) Sweep(ctx context.Context, idleThreshold time.Duration) int {
	cutoff := time.Now().Add(-idleThreshold)

	r.mu.Lock()
	var stale []*Session
	for key, e := range r.entries {
		select {
		case <-e.ready:
		default:
			continue // under construction
		}
		if e.err != nil || e.sess == nil {
			continue
		}
		if r.locker.Busy(key) {
			continue
		}
		if e.sess.LastActivity().Before(cutoff) {
			stale = append(stale, e.sess)
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	if len(stale) == 0 {
		return 0
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sess := range stale {
		sess := sess
		g.Go(func() error {
			r.closeSession(gctx, sess, "idle sweep")
			return nil
		})
	}
	_ = g.Wait()
	return len(stale)
}

// Shutdown closes every session and rejects further Acquires. Safe to call
// more than once.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*sessionEntry)
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			select {
			case <-e.ready:
			case <-gctx.Done():
				return nil
			}
			if e.err == nil && e.sess != nil {
				r.closeSession(gctx, e.sess, "shutdown")
			}
			return nil
		})
	}
	_ = g.Wait()
	r.logger.Info("registry shut down", "sessions", len(entries))
}

func (r *Registry) closeSession(ctx context.Context, sess *Session, reason string) {
	if err := sess.Driver().Close(ctx); err != nil {
		r.logger.Warn("session close failed",
			"key", sess.Key,
			"id", sess.ID,
			"reason", reason,
			"error", err,
		)
		return
	}
	r.logger.Info("session closed", "key", sess.Key, "id", sess.ID, "reason", reason)
}

// Len returns the number of live or under-construction sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys returns the registered session keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Info snapshots one session's observable state.
func (r *Registry) Info(key string) (domain.SessionInfo, error) {
	sess, err := r.Peek(key)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	return sess.Info(r.locker.Busy(key)), nil
}

// Infos snapshots every constructed session, sorted by key.
func (r *Registry) Infos() []domain.SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.entries))
	for _, e := range r.entries {
		select {
		case <-e.ready:
			if e.err == nil && e.sess != nil {
				sessions = append(sessions, e.sess)
			}
		default:
		}
	}
	r.mu.Unlock()

	infos := make([]domain.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info(r.locker.Busy(sess.Key)))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// BreakerState exposes the construction breaker state for monitoring.
func (r *Registry) BreakerState() gobreaker.State {
	return r.breaker.State()
}
