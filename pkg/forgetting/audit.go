package forgetting

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
)

// AuditRecord is one entry in the append-only audit log. Every permanent
// deletion, scheduled or immediate, and every anonymization emits exactly
// one record.
type AuditRecord struct {
	// RecordID uniquely identifies the audit entry itself.
	RecordID string `json:"record_id"`

	// MemoryID is the affected memory.
	MemoryID string `json:"memory_id"`

	// UserID is the memory's owner at the time of the action.
	UserID string `json:"user_id,omitempty"`

	// Timestamp is when the action was taken.
	Timestamp time.Time `json:"timestamp"`

	// Reason is the tier reason that led to the action.
	Reason Reason `json:"reason"`

	// Recoverable reports whether the memory can still be restored
	// before its purge time. Immediate privacy deletions are not
	// recoverable.
	Recoverable bool `json:"recoverable"`
}

// NewAuditRecord builds a record for the given memory and action.
func NewAuditRecord(m *core.Memory, reason Reason, recoverable bool, now time.Time) AuditRecord {
	return AuditRecord{
		RecordID:    uuid.NewString(),
		MemoryID:    m.ID,
		UserID:      m.UserID,
		Timestamp:   now,
		Reason:      reason,
		Recoverable: recoverable,
	}
}

// AuditSink receives audit records. Append must be durable before it
// returns; a sink never rewrites or drops prior entries.
type AuditSink interface {
	Append(rec AuditRecord) error
}

// FileAuditSink appends records as JSON lines to a file.
type FileAuditSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileAuditSink opens (or creates) the audit log at path in append-only
// mode.
func NewFileAuditSink(path string) (*FileAuditSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, core.NewLifecycleError("audit.open", err)
	}
	return &FileAuditSink{f: f}, nil
}

// Append writes one record as a JSON line and syncs it to disk.
func (s *FileAuditSink) Append(rec AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return core.NewLifecycleError("audit.append", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(data, '\n')); err != nil {
		return core.NewLifecycleError("audit.append", err)
	}
	return s.f.Sync()
}

// Close closes the underlying file.
func (s *FileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// LogAuditSink emits records through a zap logger. Useful when the audit
// trail is collected by the logging pipeline.
type LogAuditSink struct {
	logger *zap.Logger
}

// NewLogAuditSink creates a sink over the given logger.
func NewLogAuditSink(l *zap.Logger) *LogAuditSink {
	return &LogAuditSink{logger: l}
}

// Append logs the record at info level.
func (s *LogAuditSink) Append(rec AuditRecord) error {
	s.logger.Info("audit",
		zap.String("record_id", rec.RecordID),
		zap.String("memory_id", rec.MemoryID),
		zap.String("user_id", rec.UserID),
		zap.Time("timestamp", rec.Timestamp),
		zap.String("reason", string(rec.Reason)),
		zap.Bool("recoverable", rec.Recoverable),
	)
	return nil
}

// MemoryAuditSink collects records in memory, for tests and for building
// compliance reports in-process.
type MemoryAuditSink struct {
	mu      sync.Mutex
	records []AuditRecord
}

// NewMemoryAuditSink creates an empty in-memory sink.
func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

// Append stores the record.
func (s *MemoryAuditSink) Append(rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything appended so far.
func (s *MemoryAuditSink) Records() []AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}
