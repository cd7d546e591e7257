package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// AuditLogLevel defines the verbosity of audit logging
type AuditLogLevel string

const (
	// AuditLogLevelMinimal logs only warnings and errors, without content
	AuditLogLevelMinimal AuditLogLevel = "minimal"

	// AuditLogLevelStandard logs every event with a truncated redacted output
	AuditLogLevelStandard AuditLogLevel = "standard"

	// AuditLogLevelVerbose logs every event with the full redacted output
	AuditLogLevelVerbose AuditLogLevel = "verbose"
)

// AuditLogSeverity defines the severity of audit log events
type AuditLogSeverity string

const (
	// SeverityInfo for normal operations
	SeverityInfo AuditLogSeverity = "info"

	// SeverityWarning for rejected requests
	SeverityWarning AuditLogSeverity = "warning"

	// SeverityError for failed operations
	SeverityError AuditLogSeverity = "error"
)

// standardTruncate is the number of output bytes kept at the standard level
const standardTruncate = 100

// AuditEvent is one line of the audit trail. The raw input is never
// recorded, only its SHA-256.
type AuditEvent struct {
	RequestID string           `json:"request_id"`
	Timestamp string           `json:"timestamp"`
	EventType string           `json:"event_type"`
	Source    string           `json:"source"` // http, mcp, cli
	Severity  AuditLogSeverity `json:"severity"`

	ClientIP string `json:"client_ip,omitempty"`
	Language string `json:"language,omitempty"`
	Policy   string `json:"policy,omitempty"`
	KeyID    string `json:"key_id,omitempty"`

	InputHash   string         `json:"input_hash,omitempty"`
	InputBytes  int            `json:"input_bytes"`
	Transformed string         `json:"transformed,omitempty"`
	Entities    map[string]int `json:"entities,omitempty"`
	Applied     int            `json:"applied"`
	Skipped     int            `json:"skipped"`

	Error         string        `json:"error,omitempty"`
	ErrorCategory ErrorCategory `json:"error_category,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// HashInput fingerprints an input for the audit trail
func HashInput(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NewRequestID returns a fresh request identifier
func NewRequestID() string {
	return uuid.NewString()
}

// AuditConfig configures an AuditLogger
type AuditConfig struct {
	// Path of the JSON Lines file
	Path string

	Level AuditLogLevel

	// RotationSize in bytes after which the file is rotated; zero disables rotation
	RotationSize int64

	// RetentionDays after which rotated files are removed; zero keeps them
	RetentionDays int

	// Mirror receives a copy of every line when set
	Mirror io.Writer
}

// AuditLogger appends audit events to a JSON Lines file
type AuditLogger struct {
	mu          sync.Mutex
	cfg         AuditConfig
	file        *os.File
	writer      io.Writer
	currentSize int64
	now         func() time.Time
}

// NewAuditLogger opens or creates the audit file described by cfg.
func NewAuditLogger(cfg AuditConfig) (*AuditLogger, error) {
	if cfg.Path == "" {
		return nil, configErr("audit.path", "audit log path is empty")
	}
	switch cfg.Level {
	case "":
		cfg.Level = AuditLogLevelStandard
	case AuditLogLevelMinimal, AuditLogLevelStandard, AuditLogLevelVerbose:
	default:
		return nil, configErr("audit.level", "unknown audit level %q", cfg.Level)
	}

	l := &AuditLogger{cfg: cfg, now: time.Now}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

// open the log file with current settings
func (l *AuditLogger) open() error {
	dir := filepath.Dir(l.cfg.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to get audit log info: %w", err)
	}

	l.file = f
	l.currentSize = info.Size()
	if l.cfg.Mirror != nil {
		l.writer = io.MultiWriter(f, l.cfg.Mirror)
	} else {
		l.writer = f
	}
	return nil
}

// maybeRotate rotates the file once it reached the rotation size
func (l *AuditLogger) maybeRotate() error {
	if l.cfg.RotationSize <= 0 || l.currentSize < l.cfg.RotationSize {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log: %w", err)
	}

	rotated := fmt.Sprintf("%s.%s", l.cfg.Path, l.now().Format("20060102-150405.000000000"))
	if err := os.Rename(l.cfg.Path, rotated); err != nil {
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}

	l.cleanupOld()
	return l.open()
}

// cleanupOld removes rotated files older than the retention period
func (l *AuditLogger) cleanupOld() {
	if l.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := l.now().AddDate(0, 0, -l.cfg.RetentionDays)

	files, err := filepath.Glob(l.cfg.Path + ".*")
	if err != nil {
		return
	}
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(file)
		}
	}
}

// Log appends an event, applying the configured level.
func (l *AuditLogger) Log(event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit logger is closed")
	}

	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if l.cfg.Level == AuditLogLevelMinimal && event.Severity == SeverityInfo {
		return nil
	}

	if err := l.maybeRotate(); err != nil {
		return err
	}

	if event.Timestamp == "" {
		event.Timestamp = l.now().UTC().Format(time.RFC3339Nano)
	}
	if event.RequestID == "" {
		event.RequestID = NewRequestID()
	}

	switch l.cfg.Level {
	case AuditLogLevelMinimal:
		event.Transformed = ""
	case AuditLogLevelStandard:
		event.Transformed = truncateOutput(event.Transformed, standardTruncate)
	}

	entry, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	n, err := fmt.Fprintln(l.writer, string(entry))
	if err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	l.currentSize += int64(n)
	return nil
}

// truncateOutput cuts s to at most limit bytes without splitting a rune
func truncateOutput(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "... [truncated]"
}

// Close flushes and closes the audit file
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
