package callbackd

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Decision is the outcome of a verification attempt. Locked is distinct
// from Rejected so callers can render a different message and a different
// audit action.
type Decision int

const (
	// DecisionRejected means the credential did not match (or the identity
	// is unknown).
	DecisionRejected Decision = iota
	// DecisionAccepted means the credential matched and the failure counter
	// was reset.
	DecisionAccepted
	// DecisionLocked means the identity is under a timed lockout and the
	// credential was not checked.
	DecisionLocked
)

func (d Decision) String() string {
	switch d {
	case DecisionAccepted:
		return "accepted"
	case DecisionLocked:
		return "locked"
	default:
		return "rejected"
	}
}

// ErrStoreUnavailable reports a backing-store failure during verification.
// It is surfaced, never masked as a rejection: treating a store outage as
// "wrong password" would hide the outage behind lockouts.
var ErrStoreUnavailable = errors.New("credential store unavailable")

// ErrContention is returned when the lockout record kept changing under a
// verification attempt and the retry budget ran out.
var ErrContention = errors.New("lockout record contention")

const (
	// DefaultLockoutThreshold is the consecutive-failure count that
	// triggers a lock.
	DefaultLockoutThreshold = 5
	// DefaultLockoutDuration is how long a triggered lock holds.
	DefaultLockoutDuration = 30 * time.Minute

	casRetries = 16
)

// dummy credential burned on unknown identities so the lookup path costs
// the same whether or not the identity exists.
var timingDummy = Credential{
	PasswordHash: "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy",
	Salt:         "0000000000000000",
}

// Guard enforces the brute-force lockout policy in front of a credential
// store. All state lives in the LockoutStore; Guard itself is stateless and
// safe for concurrent use.
type Guard struct {
	creds     CredentialStore
	lockouts  LockoutStore
	threshold int
	lockFor   time.Duration
	now       func() time.Time
}

// NewGuard builds a Guard. Threshold and duration are policy parameters;
// non-positive values fall back to the defaults.
func NewGuard(creds CredentialStore, lockouts LockoutStore, threshold int, lockFor time.Duration) *Guard {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if lockFor <= 0 {
		lockFor = DefaultLockoutDuration
	}
	return &Guard{
		creds:     creds,
		lockouts:  lockouts,
		threshold: threshold,
		lockFor:   lockFor,
		now:       time.Now,
	}
}

// Verify checks secret against the stored credential for identity, under
// the lockout policy:
//
//   - a live lock rejects the attempt as DecisionLocked without touching
//     the credential and without changing the counter;
//   - an expired lock is cleared lazily on this attempt, counter reset;
//   - a match resets the counter and returns DecisionAccepted;
//   - a mismatch increments the counter; reaching the threshold arms a lock
//     until now+duration (the arming attempt itself reports
//     DecisionRejected — the next one observes the lock).
//
// The read-increment-write on the lockout record is a compare-and-swap
// loop, so two concurrent failures cannot both observe a sub-threshold
// counter and neither arm the lock. A cancelled context aborts before the
// write, leaving the record unchanged.
func (g *Guard) Verify(ctx context.Context, identity, secret string) (Decision, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		rec, err := g.lockouts.Get(ctx, identity)
		if err != nil {
			return DecisionRejected, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		now := g.now()
		if !rec.LockedUntil.IsZero() {
			if now.Before(rec.LockedUntil) {
				return DecisionLocked, nil
			}
			ok, err := g.lockouts.CompareAndSwap(ctx, identity, rec, LockoutRecord{})
			if err != nil {
				return DecisionRejected, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			if !ok {
				continue
			}
			rec = LockoutRecord{}
		}

		cred, found, err := g.creds.Lookup(ctx, identity)
		if err != nil {
			return DecisionRejected, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !found {
			CheckPassword(timingDummy.PasswordHash, secret, timingDummy.Salt)
			return DecisionRejected, nil
		}

		if CheckPassword(cred.PasswordHash, secret, cred.Salt) {
			if rec.Equal(LockoutRecord{}) {
				return DecisionAccepted, nil
			}
			ok, err := g.lockouts.CompareAndSwap(ctx, identity, rec, LockoutRecord{})
			if err != nil {
				return DecisionRejected, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			if !ok {
				continue
			}
			return DecisionAccepted, nil
		}

		if err := ctx.Err(); err != nil {
			// No partial increment on cancellation.
			return DecisionRejected, err
		}

		next := LockoutRecord{FailedAttempts: rec.FailedAttempts + 1}
		if next.FailedAttempts >= g.threshold {
			next.LockedUntil = now.Add(g.lockFor)
		}
		ok, err := g.lockouts.CompareAndSwap(ctx, identity, rec, next)
		if err != nil {
			return DecisionRejected, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !ok {
			continue
		}
		return DecisionRejected, nil
	}
	return DecisionRejected, ErrContention
}

// Threshold returns the configured consecutive-failure threshold.
func (g *Guard) Threshold() int { return g.threshold }

// LockoutDuration returns the configured lock duration.
func (g *Guard) LockoutDuration() time.Duration { return g.lockFor }
