package callbackd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newTestGuard(t *testing.T) (*Guard, *MemoryStore, *time.Time) {
	t.Helper()
	store := NewMemoryStore()

	salt, err := NewSalt()
	if err != nil {
		t.Fatal(err)
	}
	hash, err := HashPasswordCost("hunter2", salt, bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	store.PutCredential("alice", Credential{PasswordHash: hash, Salt: salt})

	g := NewGuard(store, store, 5, 30*time.Minute)
	now := time.Date(2025, 11, 18, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, store, &now
}

func TestGuard_AcceptsCorrectPassword(t *testing.T) {
	g, _, _ := newTestGuard(t)

	d, err := g.Verify(context.Background(), "alice", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionAccepted {
		t.Errorf("decision = %v, want accepted", d)
	}
}

func TestGuard_RejectsWrongPassword(t *testing.T) {
	g, store, _ := newTestGuard(t)

	d, err := g.Verify(context.Background(), "alice", "wrong")
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionRejected {
		t.Errorf("decision = %v, want rejected", d)
	}
	rec, _ := store.Get(context.Background(), "alice")
	if rec.FailedAttempts != 1 {
		t.Errorf("failed attempts = %d, want 1", rec.FailedAttempts)
	}
}

func TestGuard_RejectsUnknownIdentity(t *testing.T) {
	g, store, _ := newTestGuard(t)

	d, err := g.Verify(context.Background(), "nobody", "whatever")
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionRejected {
		t.Errorf("decision = %v, want rejected", d)
	}
	// Unknown identities accrue no lockout state.
	rec, _ := store.Get(context.Background(), "nobody")
	if !rec.Equal(LockoutRecord{}) {
		t.Errorf("unknown identity has lockout state %+v", rec)
	}
}

func TestGuard_LocksAtThreshold(t *testing.T) {
	g, store, _ := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := g.Verify(ctx, "alice", "wrong")
		if err != nil {
			t.Fatal(err)
		}
		// The arming attempt itself still reports rejected; only the next
		// one observes the lock.
		if d != DecisionRejected {
			t.Fatalf("attempt %d: decision = %v, want rejected", i+1, d)
		}
	}

	rec, _ := store.Get(ctx, "alice")
	if rec.FailedAttempts != 5 {
		t.Errorf("failed attempts = %d, want 5", rec.FailedAttempts)
	}
	if rec.LockedUntil.IsZero() {
		t.Fatal("lock not armed at threshold")
	}

	// Even the correct password is refused while the lock holds, without
	// touching the counter.
	d, err := g.Verify(ctx, "alice", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionLocked {
		t.Errorf("decision = %v, want locked", d)
	}
	after, _ := store.Get(ctx, "alice")
	if !after.Equal(rec) {
		t.Errorf("locked attempt mutated the record: %+v -> %+v", rec, after)
	}
}

func TestGuard_LazyUnlockAfterExpiry(t *testing.T) {
	g, store, now := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := g.Verify(ctx, "alice", "wrong"); err != nil {
			t.Fatal(err)
		}
	}

	*now = now.Add(31 * time.Minute)

	d, err := g.Verify(ctx, "alice", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionAccepted {
		t.Errorf("decision = %v, want accepted after lock expiry", d)
	}
	rec, _ := store.Get(ctx, "alice")
	if !rec.Equal(LockoutRecord{}) {
		t.Errorf("record not reset after expiry: %+v", rec)
	}
}

func TestGuard_FailureAfterExpiryStartsFresh(t *testing.T) {
	g, store, now := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := g.Verify(ctx, "alice", "wrong"); err != nil {
			t.Fatal(err)
		}
	}
	*now = now.Add(31 * time.Minute)

	if _, err := g.Verify(ctx, "alice", "wrong"); err != nil {
		t.Fatal(err)
	}
	rec, _ := store.Get(ctx, "alice")
	if rec.FailedAttempts != 1 {
		t.Errorf("failed attempts = %d, want 1 (fresh count after expiry)", rec.FailedAttempts)
	}
	if !rec.LockedUntil.IsZero() {
		t.Error("fresh failure after expiry should not re-arm the lock")
	}
}

func TestGuard_SuccessResetsCounter(t *testing.T) {
	g, store, _ := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := g.Verify(ctx, "alice", "wrong"); err != nil {
			t.Fatal(err)
		}
	}
	d, err := g.Verify(ctx, "alice", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionAccepted {
		t.Fatalf("decision = %v, want accepted", d)
	}
	rec, _ := store.Get(ctx, "alice")
	if !rec.Equal(LockoutRecord{}) {
		t.Errorf("counter not reset on success: %+v", rec)
	}
}

// faultStore wraps a MemoryStore and fails lockout reads on demand.
type faultStore struct {
	*MemoryStore
	failGet bool
}

func (s *faultStore) Get(ctx context.Context, identity string) (LockoutRecord, error) {
	if s.failGet {
		return LockoutRecord{}, errors.New("backend down")
	}
	return s.MemoryStore.Get(ctx, identity)
}

func TestGuard_StoreFailureSurfaced(t *testing.T) {
	store := &faultStore{MemoryStore: NewMemoryStore(), failGet: true}
	g := NewGuard(store, store, 5, 30*time.Minute)

	_, err := g.Verify(context.Background(), "alice", "hunter2")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestGuard_CancelledContextLeavesRecordUnchanged(t *testing.T) {
	g, store, _ := newTestGuard(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Verify(ctx, "alice", "wrong")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	rec, _ := store.Get(context.Background(), "alice")
	if rec.FailedAttempts != 0 {
		t.Errorf("cancelled attempt incremented the counter to %d", rec.FailedAttempts)
	}
}

func TestGuard_ConcurrentFailuresCountExactly(t *testing.T) {
	// The CAS loop must not lose increments: N concurrent wrong-password
	// attempts leave the counter at exactly N.
	g, store, _ := newTestGuard(t)
	ctx := context.Background()

	const n = 4
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Verify(ctx, "alice", "wrong"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	rec, _ := store.Get(ctx, "alice")
	if rec.FailedAttempts != n {
		t.Errorf("failed attempts = %d, want %d", rec.FailedAttempts, n)
	}
}

func TestDecisionString(t *testing.T) {
	tests := []struct {
		d    Decision
		want string
	}{
		{DecisionRejected, "rejected"},
		{DecisionAccepted, "accepted"},
		{DecisionLocked, "locked"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("Decision(%d).String() = %q, want %q", tt.d, got, tt.want)
		}
	}
}
