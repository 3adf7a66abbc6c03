package callbackd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// FileAuditSink appends audit entries to a POSIX file, one JSON object per
// line. Entries are immutable once written; the integrity hash inside each
// line is what a verifier checks, so the file needs no framing beyond
// newlines. It is the zero-dependency alternative to the SQLite store for
// the audit trail.
type FileAuditSink struct {
	mu   sync.Mutex
	path string
	file *os.File
}

const auditFileName = "audit.log"

// OpenFileAuditSink creates or opens the audit file inside dir.
func OpenFileAuditSink(dir string) (*FileAuditSink, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	path := filepath.Join(dir, auditFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileAuditSink{path: path, file: f}, nil
}

// Append implements AuditSink. The write is flocked and synced so
// concurrent processes sharing the file cannot interleave partial lines.
func (s *FileAuditSink) Append(entry AuditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := syscall.Flock(int(s.file.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock audit file: %w", err)
	}
	defer syscall.Flock(int(s.file.Fd()), syscall.LOCK_UN)

	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}
	return nil
}

// Entries implements AuditReader, oldest first. It reads from a fresh
// handle so appends keep going while a verifier scans.
func (s *FileAuditSink) Entries(ctx context.Context, limit int) ([]AuditEntry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("corrupt audit line %d: %w", len(out)+1, err)
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying file.
func (s *FileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
