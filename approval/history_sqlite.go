package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/polucas/clawshell/guard"
)

// HistoryEntry is one terminal approval outcome as persisted.
type HistoryEntry struct {
	ID          string          `json:"id"`
	Command     string          `json:"command"`
	WorkingDir  string          `json:"working_dir,omitempty"`
	RiskLevel   guard.RiskLevel `json:"risk_level"`
	RiskReasons []string        `json:"risk_reasons,omitempty"`
	Status      Status          `json:"status"`
	Approved    bool            `json:"approved"`
	DecidedBy   string          `json:"decided_by"`
	Reason      string          `json:"reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  time.Time       `json:"resolved_at"`
}

// HistoryStore persists terminal approval outcomes to SQLite for later
// querying. The in-memory ledger remains the source of truth for in-flight
// requests; the store only ever sees terminal states.
type HistoryStore struct {
	dsn string

	mu sync.Mutex
	db *sql.DB
}

func NewHistoryStore(dsn string) (*HistoryStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("missing sqlite dsn")
	}
	s := &HistoryStore{dsn: dsn}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *HistoryStore) RecordOutcome(ctx context.Context, snap Snapshot, oc Outcome) error {
	if s == nil {
		return nil
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if snap.Status == StatusPending {
		return fmt.Errorf("refusing to record pending request %q", snap.ID)
	}

	reasonsJSON, _ := json.Marshal(snap.RiskReasons)
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO approval_history (
  id, command, working_dir, risk_level, reasons_json,
  status, approved, decided_by, reason,
  created_at_unix, resolved_at_unix
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, snap.ID, snap.Command, snap.WorkingDir, string(snap.RiskLevel), string(reasonsJSON),
		string(snap.Status), boolInt(oc.Approved), strings.TrimSpace(oc.DecidedBy), strings.TrimSpace(oc.Reason),
		snap.CreatedAt.Unix(), time.Now().UTC().Unix(),
	)
	return err
}

func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if s == nil {
		return nil, nil
	}
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, command, working_dir, risk_level, reasons_json,
       status, approved, decided_by, reason,
       created_at_unix, resolved_at_unix
FROM approval_history
ORDER BY resolved_at_unix DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e              HistoryEntry
			riskLevel      string
			reasonsJSON    string
			status         string
			approved       int
			createdAtUnix  int64
			resolvedAtUnix int64
		)
		if err := rows.Scan(
			&e.ID, &e.Command, &e.WorkingDir, &riskLevel, &reasonsJSON,
			&status, &approved, &e.DecidedBy, &e.Reason,
			&createdAtUnix, &resolvedAtUnix,
		); err != nil {
			return nil, err
		}
		e.RiskLevel = guard.RiskLevel(riskLevel)
		e.Status = Status(status)
		e.Approved = approved != 0
		e.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
		e.ResolvedAt = time.Unix(resolvedAtUnix, 0).UTC()
		_ = json.Unmarshal([]byte(reasonsJSON), &e.RiskReasons)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *HistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *HistoryStore) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return err
	}
	s.db = db
	return s.migrate()
}

func (s *HistoryStore) ensureOpen() error {
	if s.db != nil {
		return nil
	}
	return s.open()
}

func (s *HistoryStore) migrate() error {
	if s.db == nil {
		return fmt.Errorf("sqlite db is not open")
	}
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS approval_history (
  id TEXT PRIMARY KEY,
  command TEXT NOT NULL,
  working_dir TEXT,
  risk_level TEXT,
  reasons_json TEXT,
  status TEXT NOT NULL,
  approved INTEGER NOT NULL,
  decided_by TEXT,
  reason TEXT,
  created_at_unix INTEGER NOT NULL,
  resolved_at_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_approval_history_resolved ON approval_history(resolved_at_unix);
`)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
