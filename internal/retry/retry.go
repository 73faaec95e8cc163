// Package retry implements the pure error classifier and decision table
// that maps a failed handler attempt to a retry/backoff/rotate decision.
// The soft-block delay formula is reproduced deterministically with
// github.com/cenkalti/backoff/v4's ExponentialBackOff rather than hand-rolled
// arithmetic, the one pack dependency otherwise unused by the teacher.
package retry

import (
	"math/rand"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Kind is one of the five error classes the core vocabulary recognizes.
type Kind string

const (
	KindHardBlock Kind = "hard-block"
	KindSoftBlock Kind = "soft-block"
	KindNetwork   Kind = "network"
	KindParse     Kind = "parse"
	KindSystem    Kind = "system"
)

// Signal is the input to Classify: the last engine response observed (if
// any) and the error message surfaced by the handler.
type Signal struct {
	ErrorCode    string // mirrors FetchResponse.errorCode when the last response was a failure
	ErrorMessage string
}

// Classify maps a Signal to an error Kind using the classifier triggers in
// the core spec, checked in priority order (hard-block first).
func Classify(sig Signal) Kind {
	msg := strings.ToLower(sig.ErrorMessage)

	if sig.ErrorCode == "blocked" || strings.Contains(msg, "403") || strings.Contains(msg, "captcha") {
		return KindHardBlock
	}
	if strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") {
		return KindSoftBlock
	}
	for _, needle := range []string{"timeout", "econnreset", "econnrefused", "enotfound", "socket hang up", "network"} {
		if strings.Contains(msg, needle) {
			return KindNetwork
		}
	}
	if sig.ErrorCode == "unsupported-interaction" || strings.Contains(msg, "parse") ||
		strings.Contains(msg, "extract") || strings.Contains(msg, "selector") {
		return KindParse
	}
	return KindSystem
}

// Decision is the outcome of applying the decision table to a Kind and a
// request's current retry count.
type Decision struct {
	Kind          Kind
	DelayMs       int64
	RotateSession bool
	ShouldRetry   bool
}

// Strategy evaluates the decision table. It carries its own PRNG so
// hard-block jitter is seedable and reproducible in tests, per the core
// spec's design notes.
type Strategy struct {
	MaxRetries int
	rand       *rand.Rand
}

// New constructs a Strategy with maxRetries and a time-seeded PRNG.
func New(maxRetries int) *Strategy {
	return &Strategy{MaxRetries: maxRetries, rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewSeeded constructs a Strategy with a fixed seed, for deterministic tests.
func NewSeeded(maxRetries int, seed int64) *Strategy {
	return &Strategy{MaxRetries: maxRetries, rand: rand.New(rand.NewSource(seed))}
}

// Decide applies the decision table to kind given the entry's current
// retryCount (before this attempt).
func (s *Strategy) Decide(kind Kind, retryCount int) Decision {
	bounded := retryCount < s.MaxRetries

	switch kind {
	case KindHardBlock:
		return Decision{Kind: kind, DelayMs: s.hardBlockDelayMs(), RotateSession: true, ShouldRetry: bounded}
	case KindSoftBlock:
		return Decision{Kind: kind, DelayMs: softBlockDelayMs(retryCount), RotateSession: false, ShouldRetry: bounded}
	case KindNetwork:
		return Decision{Kind: kind, DelayMs: 0, RotateSession: false, ShouldRetry: bounded}
	case KindParse:
		return Decision{Kind: kind, DelayMs: 0, RotateSession: false, ShouldRetry: false}
	default: // KindSystem
		return Decision{Kind: kind, DelayMs: 0, RotateSession: false, ShouldRetry: false}
	}
}

// hardBlockDelayMs draws a uniform random delay in [2000, 4000] ms.
func (s *Strategy) hardBlockDelayMs() int64 {
	return 2000 + s.rand.Int63n(2001)
}

// softBlockDelayMs reproduces min(1000*2^retryCount, 4000) by stepping a
// deterministic exponential backoff (no randomization, multiplier 2,
// initial 1s, max 4s) retryCount+1 times.
func softBlockDelayMs(retryCount int) int64 {
	b := backoff.NewExponentialBackOff()
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 4 * time.Second
	b.MaxElapsedTime = 0 // never stop producing terms
	b.Reset()            // NewExponentialBackOff's internal Reset() already ran against the
	// pre-override 500ms default; re-run it now so currentInterval picks up InitialInterval.

	var d time.Duration
	for i := 0; i <= retryCount; i++ {
		d = b.NextBackOff()
	}
	return d.Milliseconds()
}
