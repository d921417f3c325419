package approval

import (
	"time"

	"github.com/polucas/clawshell/guard"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTimeout  Status = "timeout"
)

const (
	DecidedByUser    = "user"
	DecidedByAuto    = "auto"
	DecidedByTimeout = "timeout"
)

// Request is the caller's input to Add. A supplied ID must be unique within
// the ledger's lifetime; leave it empty to have one generated.
type Request struct {
	ID          string
	Command     string
	WorkingDir  string
	RiskLevel   guard.RiskLevel
	RiskReasons []string
}

// Outcome is delivered exactly once per request via the completion channel
// returned by Add. DecidedBy is "user", "auto", "timeout" or a channel name.
type Outcome struct {
	Approved  bool   `json:"approved"`
	DecidedBy string `json:"decided_by"`
	Reason    string `json:"reason,omitempty"`
}

// Snapshot is the read-only projection returned by Get and List. The live
// record additionally carries the completion channel and the timer; those
// never cross the ledger boundary.
type Snapshot struct {
	ID          string          `json:"id"`
	Command     string          `json:"command"`
	WorkingDir  string          `json:"working_dir,omitempty"`
	RiskLevel   guard.RiskLevel `json:"risk_level"`
	RiskReasons []string        `json:"risk_reasons,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Status      Status          `json:"status"`
}

// entry is the ledger-internal record.
type entry struct {
	snap       Snapshot
	done       chan Outcome
	timer      *time.Timer
	resolvedAt time.Time
}

func (e *entry) snapshot() Snapshot {
	s := e.snap
	s.RiskReasons = append([]string(nil), e.snap.RiskReasons...)
	return s
}
