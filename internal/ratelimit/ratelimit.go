// Package ratelimit implements a fixed-window rate limiter with
// pluggable storage. The window opens on the first hit for a key and
// keeps its end time until it elapses, so the Reset header is stable.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Store persists hit counters per opaque key.
type Store interface {
	// Hit adds count hits to the key's current window, opening a new
	// window of the given length when none is active. It returns the
	// total hits in the window and the window end. A zero count reads
	// without persisting anything, so the window opens on the first
	// real hit rather than the first peek.
	Hit(key string, window time.Duration, count int) (int, time.Time, error)
}

// Result describes the outcome of one Check call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is the window end, exposed as epoch seconds in the
	// X-RateLimit-Reset header.
	Reset time.Time
}

// Limiter evaluates hits against a Store.
type Limiter struct {
	store Store
}

// New builds a Limiter over the given store.
func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// Key derives the storage key for one (identifier, method, scope)
// triple. The identifier is the username when authenticated, the remote
// IP otherwise.
func Key(identifier, method, scope string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{identifier, method, scope}, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Check consumes hit tokens for the triple and reports whether the
// caller is still within limit. hit == 0 peeks without consuming:
// allowed then means one more hit would still fit. A zero or negative
// limit disables the check.
func (l *Limiter) Check(identifier, method, scope string, window time.Duration, limit, hit int) (Result, error) {
	if limit <= 0 {
		return Result{Allowed: true, Limit: limit}, nil
	}
	if hit < 0 {
		hit = 1
	}
	total, reset, errHit := l.store.Hit(Key(identifier, method, scope), window, hit)
	if errHit != nil {
		return Result{}, errHit
	}
	remaining := limit - total
	if remaining < 0 {
		remaining = 0
	}
	allowed := total <= limit
	if hit == 0 {
		allowed = total < limit
	}
	return Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}
