package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mapfolio/place-crawler/internal/place"
)

// AuditLog is a mutex-guarded append-only place.AuditLog.
type AuditLog struct {
	mu      sync.Mutex
	entries []place.AuditEntry
}

// NewAuditLog constructs an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Insert appends one crawl attempt record.
func (l *AuditLog) Insert(_ context.Context, entry place.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries (test helper).
func (l *AuditLog) Entries() []place.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]place.AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
