package callbackd

import (
	"context"
	"crypto/subtle"
)

// Tamper verification is a read-time, on-demand operation: the trail never
// re-checks entries automatically. An external verifier pulls stored
// entries and recomputes each integrity hash independently.

// AuditReader is the read side of an audit store, used by verifiers and the
// export path. Entries are returned oldest first; limit <= 0 means all.
type AuditReader interface {
	Entries(ctx context.Context, limit int) ([]AuditEntry, error)
}

// VerifyEntry reports whether an entry's stored integrity hash matches a
// recomputation over its fields. Any mutated field makes this false.
func VerifyEntry(e AuditEntry) bool {
	want := EntryHash(e)
	return subtle.ConstantTimeCompare([]byte(want), []byte(e.IntegrityHash)) == 1
}

// VerifyEntries checks a batch and returns the indices of entries whose
// recomputed hash disagrees with the stored one. An empty result means no
// tampering was detected.
func VerifyEntries(entries []AuditEntry) []int {
	var tampered []int
	for i, e := range entries {
		if !VerifyEntry(e) {
			tampered = append(tampered, i)
		}
	}
	return tampered
}

// VerifyStored pulls every entry from reader and checks it, returning the
// entries alongside the indices that failed.
func VerifyStored(ctx context.Context, reader AuditReader) ([]AuditEntry, []int, error) {
	entries, err := reader.Entries(ctx, 0)
	if err != nil {
		return nil, nil, err
	}
	return entries, VerifyEntries(entries), nil
}
