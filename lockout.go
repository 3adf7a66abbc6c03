package callbackd

import (
	"context"
	"time"
)

// Credential is the stored, comparable form of a login secret.
type Credential struct {
	PasswordHash string
	Salt         string
}

// LockoutRecord is the per-identity brute-force state. The zero value means
// no recorded failures and no lock.
type LockoutRecord struct {
	FailedAttempts int
	LockedUntil    time.Time
}

// Equal compares records by value. time.Time carries a monotonic reading
// that breaks ==, so stores must use this for compare-and-swap matching.
func (r LockoutRecord) Equal(other LockoutRecord) bool {
	return r.FailedAttempts == other.FailedAttempts && r.LockedUntil.Equal(other.LockedUntil)
}

// CredentialStore resolves an identity to its stored credential. The bool
// result distinguishes "unknown identity" from a store failure.
type CredentialStore interface {
	Lookup(ctx context.Context, identity string) (Credential, bool, error)
}

// LockoutStore holds the mutable per-identity lockout state. Get returns
// the zero record for identities with no recorded failures.
//
// CompareAndSwap must atomically replace the record only when the stored
// value still equals old, reporting false on a lost race. That single
// primitive is what serializes concurrent verification attempts for the
// same identity, in any concurrency model; attempts for different
// identities never contend.
type LockoutStore interface {
	Get(ctx context.Context, identity string) (LockoutRecord, error)
	CompareAndSwap(ctx context.Context, identity string, old, updated LockoutRecord) (bool, error)
}
