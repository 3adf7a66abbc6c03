package callbackd

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"strconv"
	"time"
)

// Report is the free-form attribute map an agent sends when it registers.
// Only a handful of fields are lifted into columns; everything else rides
// in Extra.
type Report struct {
	Hostname     string            `json:"hostname"`
	Username     string            `json:"username,omitempty"`
	Port         int               `json:"port,omitempty"`
	OSType       string            `json:"os_type,omitempty"`
	OSVersion    string            `json:"os_version,omitempty"`
	Architecture string            `json:"architecture,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// CallbackRecord is a persisted registration.
type CallbackRecord struct {
	ID            int64     `json:"id"`
	Time          time.Time `json:"time"`
	SourceAddr    string    `json:"source_addr"`
	Report        Report    `json:"report"`
	UserAgent     string    `json:"user_agent,omitempty"`
	LastSeen      time.Time `json:"last_seen"`
	Verified      bool      `json:"verified"`
	IntegrityHash string    `json:"integrity_hash"`
}

// CallbackStats summarizes the stored registrations.
type CallbackStats struct {
	Total          int            `json:"total"`
	UniqueSources  int            `json:"unique_sources"`
	Verified       int            `json:"verified"`
	Last24h        int            `json:"last_24h"`
	OSDistribution map[string]int `json:"os_distribution"`
}

// CallbackStore persists agent registrations. Implementations are external
// collaborators from the core's point of view; the in-memory and SQLite
// stores in this package satisfy it.
type CallbackStore interface {
	SaveReport(ctx context.Context, rec CallbackRecord) (int64, error)
	// TouchHeartbeat updates LastSeen on the newest record matching
	// hostname+source, reporting whether one matched.
	TouchHeartbeat(ctx context.Context, hostname, source string, at time.Time) (bool, error)
	List(ctx context.Context, limit int) ([]CallbackRecord, error)
	Stats(ctx context.Context) (CallbackStats, error)
}

// ReportHash is the integrity digest stored with a registration, computed
// over the identifying fields in a fixed order.
func ReportHash(at time.Time, source string, r Report) string {
	canon := at.UTC().Format(time.RFC3339Nano) + "|" + source + "|" + r.Hostname + "|" + r.OSType + "|" + strconv.Itoa(r.Port)
	sum := sha512.Sum384([]byte(canon))
	return hex.EncodeToString(sum[:])
}
