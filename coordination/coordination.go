// Package coordination implements the CoordinationService from spec.md §2:
// a key/value store with TTL, atomic increment, lock acquire/release and
// pop, backing sync locks, rate limiters, session tokens and single-use
// signed-URL nonces.
//
// The interface is substitutable (spec.md §9 "Global mutable state"): tests
// use the in-process Map implementation, production uses the buntdb-backed
// Store. Neither consumer needs to change.
package coordination

import (
	"context"
	"time"
)

// Service is the CoordinationService surface. Every method is individually
// atomic; composed invariants (e.g. "only one sync holder") are expressed
// as a single call (AcquireLock) rather than a read-modify-write pair.
type Service interface {
	// SetValue stores value under key. ttl <= 0 means no expiry.
	SetValue(ctx context.Context, key, value string, ttl time.Duration) error
	GetValue(ctx context.Context, key string) (value string, ok bool, err error)
	DeleteValue(ctx context.Context, key string) error
	// PopValue atomically gets and deletes key in one step.
	PopValue(ctx context.Context, key string) (value string, ok bool, err error)
	// Increment atomically adds delta to the integer stored at key
	// (treating a missing key as 0), refreshing its TTL, and returns the
	// new value. Used for rate-limit counters.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	// AcquireLock attempts to claim key for holder with the given TTL. If
	// the key is unheld or held by holder already, it (re)claims it and
	// returns true. If held by a different holder and unexpired, returns
	// false with the current holder's value. Expired locks are claimed
	// lazily — there is no background sweep (spec.md §5).
	AcquireLock(ctx context.Context, key, holder string, ttl time.Duration) (acquired bool, currentHolder string, err error)
	// ReleaseLock releases key only if it is currently held by holder.
	ReleaseLock(ctx context.Context, key, holder string) (released bool, err error)
	Close() error
}
