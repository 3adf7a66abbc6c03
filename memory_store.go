package callbackd

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps credentials, lockout state, callbacks, and the audit
// trail in process memory. It backs tests and throwaway deployments; the
// SQLite store is the durable alternative with the same interfaces.
type MemoryStore struct {
	mu        sync.Mutex
	creds     map[string]Credential
	lockouts  map[string]LockoutRecord
	callbacks []CallbackRecord
	audit     []AuditEntry
	nextID    int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds:    make(map[string]Credential),
		lockouts: make(map[string]LockoutRecord),
		nextID:   1,
	}
}

// PutCredential creates or replaces the stored credential for identity.
func (s *MemoryStore) PutCredential(identity string, cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[identity] = cred
}

// Lookup implements CredentialStore.
func (s *MemoryStore) Lookup(_ context.Context, identity string) (Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[identity]
	return cred, ok, nil
}

// Get implements LockoutStore. Unknown identities yield the zero record.
func (s *MemoryStore) Get(_ context.Context, identity string) (LockoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockouts[identity], nil
}

// CompareAndSwap implements LockoutStore. The swap applies only when the
// stored record still equals old.
func (s *MemoryStore) CompareAndSwap(_ context.Context, identity string, old, updated LockoutRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lockouts[identity].Equal(old) {
		return false, nil
	}
	if updated.Equal(LockoutRecord{}) {
		delete(s.lockouts, identity)
	} else {
		s.lockouts[identity] = updated
	}
	return true, nil
}

// SaveReport implements CallbackStore.
func (s *MemoryStore) SaveReport(_ context.Context, rec CallbackRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.nextID
	s.nextID++
	s.callbacks = append(s.callbacks, rec)
	return rec.ID, nil
}

// TouchHeartbeat implements CallbackStore.
func (s *MemoryStore) TouchHeartbeat(_ context.Context, hostname, source string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.callbacks) - 1; i >= 0; i-- {
		if s.callbacks[i].Report.Hostname == hostname && s.callbacks[i].SourceAddr == source {
			s.callbacks[i].LastSeen = at
			return true, nil
		}
	}
	return false, nil
}

// List implements CallbackStore, newest first.
func (s *MemoryStore) List(_ context.Context, limit int) ([]CallbackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.callbacks)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]CallbackRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.callbacks[i])
	}
	return out, nil
}

// Stats implements CallbackStore.
func (s *MemoryStore) Stats(_ context.Context) (CallbackStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := CallbackStats{OSDistribution: make(map[string]int)}
	sources := make(map[string]struct{})
	cutoff := time.Now().Add(-24 * time.Hour)
	for _, rec := range s.callbacks {
		stats.Total++
		sources[rec.SourceAddr] = struct{}{}
		if rec.Verified {
			stats.Verified++
		}
		if rec.Time.After(cutoff) {
			stats.Last24h++
		}
		if rec.Report.OSType != "" {
			stats.OSDistribution[rec.Report.OSType]++
		}
	}
	stats.UniqueSources = len(sources)
	return stats, nil
}

// Append implements AuditSink.
func (s *MemoryStore) Append(entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// Entries implements AuditReader, oldest first.
func (s *MemoryStore) Entries(_ context.Context, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.audit)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]AuditEntry, limit)
	copy(out, s.audit[:limit])
	return out, nil
}
