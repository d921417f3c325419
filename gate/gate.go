// Package gate wires the risk classifier, the approval ledger and a
// notification channel in front of a command executor. Gate.Handle is the
// single entry point for one command-execution request.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/polucas/clawshell/approval"
	"github.com/polucas/clawshell/guard"
	"github.com/polucas/clawshell/notify"
)

const (
	decisionAutoBlocked = "auto-blocked"
	decisionAutoAllowed = "auto-allowed"
	decisionApproved    = "approved"
	decisionDenied      = "denied"
	decisionExecuted    = "executed"
)

type Gate struct {
	classifier *guard.Classifier
	ledger     *approval.Ledger
	channel    notify.Channel
	executor   Executor

	audit    guard.AuditSink
	history  *approval.HistoryStore
	redactor *guard.Redactor
	log      *slog.Logger
}

type Option func(*Gate)

func WithAuditSink(sink guard.AuditSink) Option {
	return func(g *Gate) { g.audit = sink }
}

func WithHistory(store *approval.HistoryStore) Option {
	return func(g *Gate) { g.history = store }
}

func WithLogger(log *slog.Logger) Option {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

func WithRedactor(r *guard.Redactor) Option {
	return func(g *Gate) {
		if r != nil {
			g.redactor = r
		}
	}
}

func New(classifier *guard.Classifier, ledger *approval.Ledger, channel notify.Channel, executor Executor, opts ...Option) *Gate {
	g := &Gate{
		classifier: classifier,
		ledger:     ledger,
		channel:    channel,
		executor:   executor,
		redactor:   guard.NewRedactor(guard.RedactionRules{}),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handle classifies one command and either refuses it, delays it behind a
// human approval, or hands it to the executor.
func (g *Gate) Handle(ctx context.Context, command, workingDir string) (ExecutionResult, error) {
	start := time.Now()
	v := g.classifier.Classify(command, workingDir)

	switch v.Level {
	case guard.RiskCritical:
		g.record(ctx, guard.AuditEntry{
			Command:     v.Command,
			WorkingDir:  workingDir,
			RiskLevel:   v.Level,
			RiskReasons: v.Reasons,
			Decision:    decisionAutoBlocked,
			DecidedBy:   approval.DecidedByAuto,
			LatencyMS:   msSince(start),
		})
		return ExecutionResult{
			ExitCode: 1,
			Stderr:   fmt.Sprintf("command blocked (%s): %s", v.Level, strings.Join(v.Reasons, ", ")),
		}, nil

	case guard.RiskHigh:
		res, approved, err := g.awaitApproval(ctx, v, start)
		if err != nil || !approved {
			return res, err
		}

	case guard.RiskMedium:
		g.record(ctx, guard.AuditEntry{
			Command:     v.Command,
			WorkingDir:  workingDir,
			RiskLevel:   v.Level,
			RiskReasons: v.Reasons,
			Decision:    decisionAutoAllowed,
			DecidedBy:   approval.DecidedByAuto,
			LatencyMS:   msSince(start),
		})
	}

	return g.execute(ctx, v, start)
}

// awaitApproval registers the request, notifies the channel and awaits the
// ledger's completion. The ledger, not the raw poll, is the single source of
// truth: the channel poll and the ledger timer race and the loser's
// resolution attempt is a silent no-op.
func (g *Gate) awaitApproval(ctx context.Context, v guard.Verdict, start time.Time) (ExecutionResult, bool, error) {
	// The ledger carries the redacted command: every downstream consumer of
	// its snapshots (notification payloads, the pending list, the history
	// store) must never see raw credentials. Execution keeps v.Command.
	id, done := g.ledger.Add(approval.Request{
		Command:     g.redactor.Redact(v.Command),
		WorkingDir:  v.WorkingDir,
		RiskLevel:   v.Level,
		RiskReasons: v.Reasons,
	})

	snap, _ := g.ledger.Get(id)
	delivery, err := g.channel.SendApprovalRequest(ctx, snap)
	if err != nil {
		// Non-fatal: the timeout still governs resolution.
		g.log.Warn("approval_notify_failed", "id", id, "channel", g.channel.Name(), "error", err.Error())
	} else {
		go g.forwardDecision(ctx, id, delivery)
	}

	var oc approval.Outcome
	select {
	case oc = <-done:
	case <-ctx.Done():
		g.ledger.Settle(id, approval.Outcome{
			Approved:  false,
			DecidedBy: approval.DecidedByAuto,
			Reason:    "canceled",
		})
		oc = approval.Outcome{Approved: false, DecidedBy: approval.DecidedByAuto, Reason: "canceled"}
	}

	decision := decisionDenied
	if oc.Approved {
		decision = decisionApproved
	}
	g.record(ctx, guard.AuditEntry{
		RequestID:   id,
		Command:     v.Command,
		WorkingDir:  v.WorkingDir,
		RiskLevel:   v.Level,
		RiskReasons: v.Reasons,
		Decision:    decision,
		DecidedBy:   oc.DecidedBy,
		LatencyMS:   msSince(start),
	})
	g.recordHistory(ctx, id, oc)

	if !oc.Approved {
		reason := oc.Reason
		if reason == "" {
			reason = "rejected"
		}
		return ExecutionResult{
			ExitCode: 1,
			Stderr:   fmt.Sprintf("approval %s (decided by %s)", reason, oc.DecidedBy),
		}, false, nil
	}
	return ExecutionResult{}, true, nil
}

// forwardDecision runs the channel poll in the background and forwards its
// outcome to the ledger. Timeout outcomes are dropped: the ledger's own timer
// owns timeout attribution.
func (g *Gate) forwardDecision(ctx context.Context, id string, d notify.Delivery) {
	oc, err := g.channel.PollForResponse(ctx, d, g.ledger.Timeout())
	if err != nil {
		g.log.Debug("approval_poll_error", "id", id, "error", err.Error())
		return
	}
	if oc.DecidedBy == approval.DecidedByTimeout {
		return
	}
	g.ledger.Settle(id, oc)
}

func (g *Gate) execute(ctx context.Context, v guard.Verdict, start time.Time) (ExecutionResult, error) {
	res, err := g.executor.Execute(ctx, v.Command, v.WorkingDir)

	exitCode := res.ExitCode
	g.record(ctx, guard.AuditEntry{
		Command:     v.Command,
		WorkingDir:  v.WorkingDir,
		RiskLevel:   v.Level,
		RiskReasons: v.Reasons,
		Decision:    decisionExecuted,
		ExitCode:    &exitCode,
		LatencyMS:   msSince(start),
	})
	return res, err
}

// record is fire-and-forget: a failing audit sink never fails the command.
// Commands are redacted before they hit disk.
func (g *Gate) record(ctx context.Context, e guard.AuditEntry) {
	if g.audit == nil {
		return
	}
	e.Command = g.redactor.Redact(e.Command)
	if err := g.audit.Record(ctx, e); err != nil {
		g.log.Warn("audit_record_failed", "error", err.Error())
	}
}

func (g *Gate) recordHistory(ctx context.Context, id string, oc approval.Outcome) {
	if g.history == nil {
		return
	}
	snap, ok := g.ledger.Get(id)
	if !ok {
		return
	}
	if err := g.history.RecordOutcome(ctx, snap, oc); err != nil {
		g.log.Warn("history_record_failed", "id", id, "error", err.Error())
	}
}

func msSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
