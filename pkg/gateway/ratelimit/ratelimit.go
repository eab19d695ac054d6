// Package ratelimit bounds per-principal throughput and concurrency for a
// single gateway process. State lives in memory; in a multi-node deployment
// each node enforces its own share.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentRequests int
	MaxConcurrentStreams  int

	// Bounds for the in-memory principal map.
	MaxEntries int
	EntryTTL   time.Duration
}

// Limiter tracks one entry per principal: a token bucket for throughput plus
// semaphores for in-flight requests and streams.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu       sync.Mutex
	tokens   float64
	refilled time.Time
	lastSeen time.Time

	requests chan struct{}
	streams  chan struct{}
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		entries: make(map[string]*entry),
	}
}

// PrincipalKeyFromAPIKey derives a stable map key from an API key without
// holding the key itself in memory.
func PrincipalKeyFromAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "k_" + hex.EncodeToString(sum[:16])
}

// PrincipalKeyFromUserID derives a stable map key from a portal user id.
func PrincipalKeyFromUserID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return "u_" + hex.EncodeToString(sum[:16])
}

// Permit is a held concurrency slot. Release is idempotent.
type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AcquireRequest admits one short-lived request: the token bucket charges
// throughput, then the request semaphore caps concurrency.
func (l *Limiter) AcquireRequest(principal string, now time.Time) Decision {
	e := l.entryFor(principal, now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		if ok, retryAfter := e.take(now, l.cfg.RPS, l.cfg.Burst); !ok {
			return Decision{RetryAfter: retryAfter}
		}
	}
	if l.cfg.MaxConcurrentRequests > 0 {
		return admit(e.requests)
	}
	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

// AcquireStream admits one long-lived stream. Streams are not charged against
// the token bucket; they hold a slot on the stream semaphore for their whole
// life instead.
func (l *Limiter) AcquireStream(principal string, now time.Time) Decision {
	e := l.entryFor(principal, now)

	if l.cfg.MaxConcurrentStreams > 0 {
		return admit(e.streams)
	}
	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

func admit(sem chan struct{}) Decision {
	select {
	case sem <- struct{}{}:
		return Decision{Allowed: true, Permit: &Permit{release: func() { <-sem }}}
	default:
		return Decision{RetryAfter: 1}
	}
}

func (l *Limiter) entryFor(principal string, now time.Time) *entry {
	if principal == "" {
		principal = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.cfg.MaxEntries {
		l.evictLocked(now)
	}

	e, ok := l.entries[principal]
	if !ok {
		e = &entry{
			requests: make(chan struct{}, max(1, l.cfg.MaxConcurrentRequests)),
			streams:  make(chan struct{}, max(1, l.cfg.MaxConcurrentStreams)),
		}
		l.entries[principal] = e
	}
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
	return e
}

// evictLocked drops idle entries, and if none were idle drops an arbitrary
// one so the map stays bounded.
func (l *Limiter) evictLocked(now time.Time) {
	for key, e := range l.entries {
		e.mu.Lock()
		idle := now.Sub(e.lastSeen) > l.cfg.EntryTTL
		e.mu.Unlock()
		if idle {
			delete(l.entries, key)
		}
	}
	if len(l.entries) >= l.cfg.MaxEntries {
		for key := range l.entries {
			delete(l.entries, key)
			break
		}
	}
}

// take charges one token, refilling by elapsed time first. On denial it
// reports how many whole seconds until a token is available.
func (e *entry) take(now time.Time, rps float64, burst int) (bool, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	capacity := float64(burst)
	if e.refilled.IsZero() {
		e.tokens = capacity
		e.refilled = now
	}
	if elapsed := now.Sub(e.refilled).Seconds(); elapsed > 0 {
		e.tokens = math.Min(capacity, e.tokens+elapsed*rps)
		e.refilled = now
	}

	if e.tokens >= 1 {
		e.tokens--
		return true, 0
	}

	retryAfter := int(math.Ceil((1 - e.tokens) / rps))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}
