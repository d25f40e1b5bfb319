// Package observability provides the engine's append-only audit trail:
// dispatch outcomes, risk transitions, and normalization warnings, written
// as JSONL so the record survives the in-memory stores.
package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// AuditEntry is a single audit record.
type AuditEntry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"` // INFO, WARN, ERROR
	Type      string         `json:"type"`  // e.g. "action.dispatched", "risk.transition"
	SessionID string         `json:"session_id,omitempty"`
	Message   string         `json:"msg"`
	Data      map[string]any `json:"data,omitempty"`
}

// AuditFilter specifies criteria for reading entries back.
type AuditFilter struct {
	Since     *time.Time
	Until     *time.Time
	Type      string
	Level     string
	SessionID string
}

// AuditLog is the interface for writing and reading audit entries.
type AuditLog interface {
	Write(entry AuditEntry) error
	Read(filter AuditFilter) ([]AuditEntry, error)
	Close() error
}

// jsonlAuditLog implements AuditLog using an append-only JSONL file.
type jsonlAuditLog struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewJSONLAuditLog creates an AuditLog backed by a JSONL file at path.
func NewJSONLAuditLog(path string) (AuditLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &jsonlAuditLog{path: path, file: f}, nil
}

// Write appends a JSON-encoded entry followed by a newline.
func (l *jsonlAuditLog) Write(entry AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshalling audit entry: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Read scans the log file line by line and returns entries matching the
// filter. A missing file yields no entries rather than an error.
func (l *jsonlAuditLog) Read(filter AuditFilter) ([]AuditEntry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit log for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// Skip corrupt lines; the log must stay readable even
			// after a partial write.
			continue
		}
		if matchesFilter(entry, filter) {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning audit log: %w", err)
	}
	return entries, nil
}

// Close closes the underlying file.
func (l *jsonlAuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func matchesFilter(entry AuditEntry, filter AuditFilter) bool {
	if filter.Type != "" && entry.Type != filter.Type {
		return false
	}
	if filter.Level != "" && entry.Level != filter.Level {
		return false
	}
	if filter.SessionID != "" && entry.SessionID != filter.SessionID {
		return false
	}
	if filter.Since != nil && entry.Time.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && entry.Time.After(*filter.Until) {
		return false
	}
	return true
}

// NopAuditLog returns an AuditLog that discards writes. Used when auditing
// is disabled and by tests that do not assert on the log.
func NopAuditLog() AuditLog {
	return nopAuditLog{}
}

type nopAuditLog struct{}

func (nopAuditLog) Write(AuditEntry) error                 { return nil }
func (nopAuditLog) Read(AuditFilter) ([]AuditEntry, error) { return nil, nil }
func (nopAuditLog) Close() error                           { return nil }
