// Package session implements the pool of identity/credential carriers with
// healthy/degraded/blocked states. Each Session's health transitions are
// driven by a github.com/sony/gobreaker circuit breaker: Closed maps to
// healthy, Open maps to degraded-during-cooldown, and HalfOpen is the
// probe-eligible state gobreaker enters once the cooldown elapses — exactly
// the "degraded sessions become eligible again once degradedUntil has
// passed" rule the core spec describes, for free, from the library.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// State is the externally observable health of a Session.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateBlocked  State = "blocked"
)

// Config configures the pool and every session constructed by it.
type Config struct {
	MaxPoolSize         int
	MaxUsageCount       int
	MaxAgeMs            int64
	CooldownMs          int64
	DegradedAfterErrors int
	// ProxyURLFactory optionally assigns a proxy URL to new sessions.
	ProxyURLFactory func() string
}

// Session is one identity/credential carrier in the pool.
type Session struct {
	ID                string
	ProxyURL          string
	UsageCount        int
	ConsecutiveErrors int
	CreatedAt         time.Time
	LastUsedAt        time.Time
	DegradedUntil     time.Time

	mu      sync.Mutex
	blocked bool
	cfg     Config
	breaker *gobreaker.CircuitBreaker
}

func newSession(cfg Config) *Session {
	s := &Session{
		ID:        newSessionID(),
		CreatedAt: time.Now(),
		cfg:       cfg,
	}
	if cfg.ProxyURLFactory != nil {
		s.ProxyURL = cfg.ProxyURLFactory()
	}
	s.breaker = newBreaker(cfg, s.ID)
	return s
}

func newBreaker(cfg Config, id string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     time.Duration(cfg.CooldownMs) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= cfg.DegradedAfterErrors
		},
	})
}

func newSessionID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// MarkGood resets ConsecutiveErrors and clears degraded back to healthy
// unconditionally, per the core spec's markGood semantics — it does not wait
// for the breaker's own cooldown timeout, so a fresh breaker replaces it
// rather than routing through Execute (which, while Open and mid-cooldown,
// would return ErrOpenState without running the callback and leave the
// session degraded).
func (s *Session) MarkGood() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.breaker = newBreaker(s.cfg, s.ID)
	s.ConsecutiveErrors = 0
	s.DegradedUntil = time.Time{}
	s.UsageCount++
	s.LastUsedAt = time.Now()
	s.autoRetireLocked()
}

// MarkBad increments ConsecutiveErrors and, once it reaches
// DegradedAfterErrors, trips the breaker into Open (degraded) for CooldownMs.
func (s *Session) MarkBad() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.breaker.Execute(func() (any, error) { return nil, errMarkBad }) //nolint:errcheck
	s.ConsecutiveErrors++
	s.UsageCount++
	s.LastUsedAt = time.Now()
	if s.breaker.State() == gobreaker.StateOpen {
		s.DegradedUntil = time.Now().Add(time.Duration(s.cfg.CooldownMs) * time.Millisecond)
	}
	s.autoRetireLocked()
}

var errMarkBad = markBadError{}

type markBadError struct{}

func (markBadError) Error() string { return "session: marked bad" }

// Retire unconditionally sets the session to blocked.
func (s *Session) Retire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = true
}

// autoRetireLocked blocks the session once its usage/age budget is spent.
// Caller must hold s.mu.
func (s *Session) autoRetireLocked() {
	if s.UsageCount >= s.cfg.MaxUsageCount {
		s.blocked = true
		return
	}
	if time.Since(s.CreatedAt) >= time.Duration(s.cfg.MaxAgeMs)*time.Millisecond {
		s.blocked = true
	}
}

// IsUsable reports whether the session may currently be acquired.
func (s *Session) IsUsable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isUsableLocked()
}

func (s *Session) isUsableLocked() bool {
	if s.blocked {
		return false
	}
	if s.breaker.State() == gobreaker.StateOpen {
		return false
	}
	return true
}

// State returns the externally observable health state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocked {
		return StateBlocked
	}
	if s.breaker.State() == gobreaker.StateOpen {
		return StateDegraded
	}
	return StateHealthy
}

// Pool is the bounded, fixed-size pool of Sessions.
type Pool struct {
	mu       sync.Mutex
	cfg      Config
	sessions []*Session
}

// NewPool constructs a Pool, eagerly instantiating MaxPoolSize sessions.
func NewPool(cfg Config) *Pool {
	p := &Pool{cfg: cfg}
	p.sessions = make([]*Session, cfg.MaxPoolSize)
	for i := range p.sessions {
		p.sessions[i] = newSession(cfg)
	}
	return p
}

// Acquire replaces every blocked session with a fresh one (keeping pool
// length constant), then returns a uniformly-random usable session, or nil
// if none are usable. The whole operation is one critical section so the
// pool never observes more than MaxPoolSize sessions or hands back a
// just-blocked one.
func (p *Pool) Acquire() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, s := range p.sessions {
		if s.State() == StateBlocked {
			p.sessions[i] = newSession(p.cfg)
		}
	}

	usable := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		if s.IsUsable() {
			usable = append(usable, s)
		}
	}
	if len(usable) == 0 {
		return nil
	}
	idx := randIntn(len(usable))
	return usable[idx]
}

// Size returns the fixed pool size, MaxPoolSize.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// StateCounts returns how many pooled sessions are currently in each State,
// for status/health reporting.
func (p *Pool) StateCounts() map[State]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	counts := map[State]int{StateHealthy: 0, StateDegraded: 0, StateBlocked: 0}
	for _, s := range p.sessions {
		counts[s.State()]++
	}
	return counts
}

// Cleanup is a no-op hook kept for symmetry with EnginePool.Cleanup; sessions
// hold no external resources of their own.
func (p *Pool) Cleanup() {}

func randIntn(n int) int {
	if n <= 1 {
		return 0
	}
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
