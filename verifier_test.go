package callbackd

import (
	"context"
	"errors"
	"testing"
	"time"
)

func hashedEntry(actor, action string) AuditEntry {
	e := AuditEntry{
		Time:       time.Date(2025, 11, 18, 12, 0, 0, 0, time.UTC),
		Actor:      actor,
		Action:     action,
		SourceAddr: "192.0.2.10",
	}
	e.IntegrityHash = EntryHash(e)
	return e
}

func TestVerifyEntry(t *testing.T) {
	good := hashedEntry("alice", ActionLoginSuccess)
	if !VerifyEntry(good) {
		t.Error("intact entry failed verification")
	}

	tampered := good
	tampered.Actor = "mallory"
	if VerifyEntry(tampered) {
		t.Error("tampered entry passed verification")
	}

	unhashed := good
	unhashed.IntegrityHash = ""
	if VerifyEntry(unhashed) {
		t.Error("entry without hash passed verification")
	}
}

func TestVerifyEntries_ReportsTamperedIndices(t *testing.T) {
	entries := []AuditEntry{
		hashedEntry("alice", ActionLoginSuccess),
		hashedEntry("bob", ActionLoginFailed),
		hashedEntry("carol", ActionLogout),
	}
	entries[1].Details = "inserted after the fact"

	got := VerifyEntries(entries)
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("tampered indices = %v, want [1]", got)
	}

	if got := VerifyEntries(nil); got != nil {
		t.Errorf("empty batch: got %v, want nil", got)
	}
}

func TestVerifyStored(t *testing.T) {
	store := NewMemoryStore()
	trail := NewAuditTrail(store, nil)
	trail.Record("alice", ActionLoginSuccess, "192.0.2.10", "")
	trail.Record("bob", ActionLoginFailed, "192.0.2.11", "bad password")

	entries, tampered, err := VerifyStored(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if len(tampered) != 0 {
		t.Errorf("tampered = %v, want none", tampered)
	}
}

type failingReader struct{}

func (failingReader) Entries(context.Context, int) ([]AuditEntry, error) {
	return nil, errors.New("read failed")
}

func TestVerifyStored_ReaderError(t *testing.T) {
	if _, _, err := VerifyStored(context.Background(), failingReader{}); err == nil {
		t.Error("reader error not surfaced")
	}
}
