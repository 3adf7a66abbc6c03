package callbackd

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// SQLiteStore is the durable backend: credentials with lockout state,
// callback registrations, and the audit log in one database file.
type SQLiteStore struct{ db *sql.DB }

// OpenSQLiteStore opens/creates the database and ensures schema + PRAGMAs.
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS users (
  username        TEXT PRIMARY KEY,
  password_hash   TEXT NOT NULL,
  salt            TEXT NOT NULL,
  failed_attempts INTEGER NOT NULL DEFAULT 0,
  locked_until    TEXT,
  created_at      TEXT NOT NULL,
  last_login      TEXT
);
CREATE TABLE IF NOT EXISTS callbacks (
  id             INTEGER PRIMARY KEY AUTOINCREMENT,
  ts             TEXT NOT NULL,
  source         TEXT NOT NULL,
  hostname       TEXT NOT NULL,
  username       TEXT,
  port           INTEGER,
  os_type        TEXT,
  os_version     TEXT,
  arch           TEXT,
  extra          TEXT,
  user_agent     TEXT,
  verified       INTEGER NOT NULL DEFAULT 1,
  last_seen      TEXT NOT NULL,
  integrity_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS callbacks_host_source ON callbacks(hostname, source);
CREATE TABLE IF NOT EXISTS audit_log (
  id             INTEGER PRIMARY KEY AUTOINCREMENT,
  ts             TEXT NOT NULL,
  actor          TEXT,
  action         TEXT NOT NULL,
  source         TEXT,
  details        TEXT,
  integrity_hash TEXT NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

const sqliteTimeFormat = time.RFC3339Nano

func encodeTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(sqliteTimeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// lockedUntil columns store '' for "no lock" so the compare-and-swap UPDATE
// can match on equality without NULL special cases.
func encodeLock(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return encodeTime(t)
}

// CreateUser inserts a credential row if the username is not taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, username string, cred Credential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, password_hash, salt, failed_attempts, locked_until, created_at)
		 VALUES(?, ?, ?, 0, '', ?)
		 ON CONFLICT(username) DO NOTHING`,
		username, cred.PasswordHash, cred.Salt, encodeTime(time.Now()))
	return err
}

// Lookup implements CredentialStore.
func (s *SQLiteStore) Lookup(ctx context.Context, identity string) (Credential, bool, error) {
	var cred Credential
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash, salt FROM users WHERE username=?`, identity).
		Scan(&cred.PasswordHash, &cred.Salt)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, err
	}
	return cred, true, nil
}

// Get implements LockoutStore. Unknown identities yield the zero record.
func (s *SQLiteStore) Get(ctx context.Context, identity string) (LockoutRecord, error) {
	var failed int
	var locked string
	err := s.db.QueryRowContext(ctx,
		`SELECT failed_attempts, COALESCE(locked_until, '') FROM users WHERE username=?`, identity).
		Scan(&failed, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return LockoutRecord{}, nil
	}
	if err != nil {
		return LockoutRecord{}, err
	}
	return LockoutRecord{FailedAttempts: failed, LockedUntil: decodeTime(locked)}, nil
}

// CompareAndSwap implements LockoutStore. The guarded UPDATE only matches
// when the stored state still equals old, which makes the
// read-increment-write sequence atomic for concurrent attempts on the same
// identity.
func (s *SQLiteStore) CompareAndSwap(ctx context.Context, identity string, old, updated LockoutRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET failed_attempts=?, locked_until=?
		 WHERE username=? AND failed_attempts=? AND COALESCE(locked_until, '')=?`,
		updated.FailedAttempts, encodeLock(updated.LockedUntil),
		identity, old.FailedAttempts, encodeLock(old.LockedUntil))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TouchLogin stamps last_login after a successful verification.
func (s *SQLiteStore) TouchLogin(ctx context.Context, identity string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login=? WHERE username=?`, encodeTime(at), identity)
	return err
}

// SaveReport implements CallbackStore.
func (s *SQLiteStore) SaveReport(ctx context.Context, rec CallbackRecord) (int64, error) {
	extra, err := json.Marshal(rec.Report.Extra)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO callbacks(ts, source, hostname, username, port, os_type, os_version, arch, extra,
		                       user_agent, verified, last_seen, integrity_hash)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		encodeTime(rec.Time), rec.SourceAddr, rec.Report.Hostname, rec.Report.Username,
		rec.Report.Port, rec.Report.OSType, rec.Report.OSVersion, rec.Report.Architecture,
		string(extra), rec.UserAgent, boolToInt(rec.Verified), encodeTime(rec.LastSeen), rec.IntegrityHash)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// TouchHeartbeat implements CallbackStore: newest matching row only.
func (s *SQLiteStore) TouchHeartbeat(ctx context.Context, hostname, source string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE callbacks SET last_seen=? WHERE id=(
		   SELECT id FROM callbacks WHERE hostname=? AND source=? ORDER BY ts DESC, id DESC LIMIT 1)`,
		encodeTime(at), hostname, source)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List implements CallbackStore, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]CallbackRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, source, hostname, username, port, os_type, os_version, arch, extra,
		        user_agent, verified, last_seen, integrity_hash
		 FROM callbacks ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallbackRecord
	for rows.Next() {
		var rec CallbackRecord
		var ts, lastSeen, extra string
		var verified int
		if err := rows.Scan(&rec.ID, &ts, &rec.SourceAddr, &rec.Report.Hostname, &rec.Report.Username,
			&rec.Report.Port, &rec.Report.OSType, &rec.Report.OSVersion, &rec.Report.Architecture,
			&extra, &rec.UserAgent, &verified, &lastSeen, &rec.IntegrityHash); err != nil {
			return nil, err
		}
		rec.Time = decodeTime(ts)
		rec.LastSeen = decodeTime(lastSeen)
		rec.Verified = verified != 0
		if extra != "" && extra != "null" {
			if err := json.Unmarshal([]byte(extra), &rec.Report.Extra); err != nil {
				return nil, fmt.Errorf("decode extra for callback %d: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats implements CallbackStore.
func (s *SQLiteStore) Stats(ctx context.Context) (CallbackStats, error) {
	stats := CallbackStats{OSDistribution: make(map[string]int)}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT source), COALESCE(SUM(verified), 0) FROM callbacks`).
		Scan(&stats.Total, &stats.UniqueSources, &stats.Verified)
	if err != nil {
		return stats, err
	}
	cutoff := encodeTime(time.Now().Add(-24 * time.Hour))
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM callbacks WHERE ts > ?`, cutoff).Scan(&stats.Last24h); err != nil {
		return stats, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT os_type, COUNT(*) FROM callbacks WHERE os_type != '' GROUP BY os_type`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var osType string
		var n int
		if err := rows.Scan(&osType, &n); err != nil {
			return stats, err
		}
		stats.OSDistribution[osType] = n
	}
	return stats, rows.Err()
}

// Append implements AuditSink.
func (s *SQLiteStore) Append(entry AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log(ts, actor, action, source, details, integrity_hash)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		encodeTime(entry.Time), entry.Actor, entry.Action, entry.SourceAddr, entry.Details, entry.IntegrityHash)
	return err
}

// Entries implements AuditReader, oldest first.
func (s *SQLiteStore) Entries(ctx context.Context, limit int) ([]AuditEntry, error) {
	query := `SELECT ts, actor, action, source, details, integrity_hash FROM audit_log ORDER BY id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts string
		if err := rows.Scan(&ts, &e.Actor, &e.Action, &e.SourceAddr, &e.Details, &e.IntegrityHash); err != nil {
			return nil, err
		}
		e.Time = decodeTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
