package guard

import (
	"context"
	"time"
)

// AuditEntry is one decision record. Written as a JSON line by the default
// sink; consumers must treat Record as fire-and-forget.
type AuditEntry struct {
	RequestID   string    `json:"request_id,omitempty"`
	Command     string    `json:"command"`
	WorkingDir  string    `json:"working_dir,omitempty"`
	RiskLevel   RiskLevel `json:"risk_level"`
	RiskReasons []string  `json:"risk_reasons,omitempty"`
	Decision    string    `json:"decision"`
	DecidedBy   string    `json:"decided_by,omitempty"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	LatencyMS   int64     `json:"latency_ms"`
	Timestamp   time.Time `json:"ts"`
}

type AuditSink interface {
	Record(ctx context.Context, e AuditEntry) error
	Close() error
}
