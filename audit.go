package callbackd

import (
	"crypto/sha512"
	"encoding/hex"
	"log/slog"
	"time"
)

// Audit action tags recorded by the service.
const (
	ActionAPIAuthFailed      = "API_AUTH_FAILED"
	ActionDecryptError       = "DECRYPT_ERROR"
	ActionCallbackRegistered = "CALLBACK_REGISTERED"
	ActionCallbackError      = "CALLBACK_ERROR"
	ActionHeartbeat          = "HEARTBEAT"
	ActionLoginSuccess       = "LOGIN_SUCCESS"
	ActionLoginFailed        = "LOGIN_FAILED"
	ActionLoginLocked        = "LOGIN_LOCKED"
	ActionLogout             = "LOGOUT"
)

// AuditEntry is one immutable, append-only event record. IntegrityHash is a
// one-way digest over the other fields in a fixed order; recomputing it
// later and comparing flags post-hoc tampering.
type AuditEntry struct {
	Time          time.Time `json:"time"`
	Actor         string    `json:"actor,omitempty"`
	Action        string    `json:"action"`
	SourceAddr    string    `json:"source_addr,omitempty"`
	Details       string    `json:"details,omitempty"`
	IntegrityHash string    `json:"integrity_hash"`
}

// canonical returns the fixed-order concatenation the integrity hash is
// computed over. Changing this format invalidates every stored hash.
func (e AuditEntry) canonical() string {
	return e.Time.UTC().Format(time.RFC3339Nano) + "|" + e.Actor + "|" + e.Action + "|" + e.SourceAddr + "|" + e.Details
}

// EntryHash computes the SHA-384 integrity hash for an entry. Pure; ignores
// any hash already present on the entry.
func EntryHash(e AuditEntry) string {
	sum := sha512.Sum384([]byte(e.canonical()))
	return hex.EncodeToString(sum[:])
}

// AuditSink is the append-only store behind the trail. Availability is the
// sink's own concern; the trail never propagates its errors.
type AuditSink interface {
	Append(entry AuditEntry) error
}

// AuditTrail appends integrity-hashed event records. Record never fails
// visibly: a sink error must not block the operation being audited, so it
// is logged and dropped.
type AuditTrail struct {
	sink   AuditSink
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditTrail binds a trail to a sink. A nil logger discards failure
// reports; a nil sink turns Record into a no-op.
func NewAuditTrail(sink AuditSink, logger *slog.Logger) *AuditTrail {
	return &AuditTrail{sink: sink, logger: orDiscard(logger), now: time.Now}
}

// Record appends one event. Fire-and-forget from the caller's perspective.
func (t *AuditTrail) Record(actor, action, source, details string) {
	if t == nil || t.sink == nil {
		return
	}
	entry := AuditEntry{
		Time:       t.now().UTC(),
		Actor:      actor,
		Action:     action,
		SourceAddr: source,
		Details:    details,
	}
	entry.IntegrityHash = EntryHash(entry)
	if err := t.sink.Append(entry); err != nil {
		t.logger.Warn("audit append failed", "action", action, "err", err)
	}
}
