package approval

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/polucas/clawshell/guard"
)

func testRequest(id string) Request {
	return Request{
		ID:          id,
		Command:     "rm -rf ./build",
		WorkingDir:  "/workspace",
		RiskLevel:   guard.RiskHigh,
		RiskReasons: []string{"destructive_command"},
	}
}

func awaitOutcome(t *testing.T, done <-chan Outcome) Outcome {
	t.Helper()
	select {
	case oc := <-done:
		return oc
	case <-time.After(5 * time.Second):
		t.Fatal("completion did not settle")
		return Outcome{}
	}
}

func TestLedgerApprove(t *testing.T) {
	l := NewLedger()
	defer l.Destroy()

	id, done := l.Add(testRequest(""))
	if id == "" {
		t.Fatal("expected generated id")
	}

	if !l.Approve(id) {
		t.Fatal("first Approve returned false")
	}
	oc := awaitOutcome(t, done)
	if !oc.Approved || oc.DecidedBy != DecidedByUser {
		t.Fatalf("unexpected outcome: %+v", oc)
	}

	// Second resolution attempt is a silent no-op.
	if l.Approve(id) {
		t.Fatal("second Approve returned true")
	}
	if l.Reject(id) {
		t.Fatal("Reject after Approve returned true")
	}

	snap, ok := l.Get(id)
	if !ok {
		t.Fatal("Get after approve: not found")
	}
	if snap.Status != StatusApproved {
		t.Fatalf("status=%s, want approved", snap.Status)
	}
}

func TestLedgerReject(t *testing.T) {
	l := NewLedger()
	defer l.Destroy()

	id, done := l.Add(testRequest("req_custom"))
	if id != "req_custom" {
		t.Fatalf("expected caller-supplied id, got %q", id)
	}
	if !l.Reject(id) {
		t.Fatal("Reject returned false")
	}
	oc := awaitOutcome(t, done)
	if oc.Approved || oc.DecidedBy != DecidedByUser {
		t.Fatalf("unexpected outcome: %+v", oc)
	}
}

func TestLedgerTimeout(t *testing.T) {
	l := NewLedger(WithTimeout(100 * time.Millisecond))
	defer l.Destroy()

	id, done := l.Add(testRequest(""))
	oc := awaitOutcome(t, done)
	if oc.Approved || oc.DecidedBy != DecidedByTimeout || oc.Reason != "timeout" {
		t.Fatalf("unexpected timeout outcome: %+v", oc)
	}
	snap, ok := l.Get(id)
	if !ok || snap.Status != StatusTimeout {
		t.Fatalf("status=%s ok=%v, want timeout", snap.Status, ok)
	}

	// The late manual decision loses silently.
	if l.Approve(id) {
		t.Fatal("Approve after timeout returned true")
	}
}

func TestLedgerUnknownID(t *testing.T) {
	l := NewLedger()
	defer l.Destroy()

	if l.Approve("nope") {
		t.Fatal("Approve on unknown id returned true")
	}
	if l.Reject("nope") {
		t.Fatal("Reject on unknown id returned true")
	}
	if _, ok := l.Get("nope"); ok {
		t.Fatal("Get on unknown id returned ok")
	}
}

func TestLedgerSettleAttribution(t *testing.T) {
	l := NewLedger()
	defer l.Destroy()

	id, done := l.Add(testRequest(""))
	if !l.Settle(id, Outcome{Approved: true, DecidedBy: "pushover"}) {
		t.Fatal("Settle returned false")
	}
	oc := awaitOutcome(t, done)
	if !oc.Approved || oc.DecidedBy != "pushover" {
		t.Fatalf("unexpected outcome: %+v", oc)
	}
}

func TestLedgerConcurrentResolution(t *testing.T) {
	l := NewLedger(WithTimeout(50 * time.Millisecond))
	defer l.Destroy()

	id, done := l.Add(testRequest(""))

	// Many resolvers race the timer; exactly one transition wins.
	var wg sync.WaitGroup
	wins := make(chan bool, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			wins <- l.Approve(id)
		}()
		go func() {
			defer wg.Done()
			wins <- l.Reject(id)
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for w := range wins {
		if w {
			winners++
		}
	}
	if winners > 1 {
		t.Fatalf("expected at most one winner, got %d", winners)
	}

	// Exactly one outcome regardless of who won.
	awaitOutcome(t, done)
	select {
	case oc := <-done:
		t.Fatalf("completion settled twice: %+v", oc)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLedgerListPendingOnly(t *testing.T) {
	l := NewLedger()
	defer l.Destroy()

	idA, _ := l.Add(testRequest(""))
	idB, doneB := l.Add(testRequest(""))
	l.Approve(idB)
	awaitOutcome(t, doneB)

	list := l.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(list))
	}
	if list[0].ID != idA {
		t.Fatalf("expected %s, got %s", idA, list[0].ID)
	}
	if list[0].Status != StatusPending {
		t.Fatalf("status=%s, want pending", list[0].Status)
	}
}

func TestLedgerCleanup(t *testing.T) {
	l := NewLedger(WithTimeout(20*time.Millisecond), WithSweepInterval(time.Hour))
	defer l.Destroy()

	// Terminal entry ages past the 2x grace window and gets evicted.
	id, done := l.Add(testRequest(""))
	awaitOutcome(t, done)
	time.Sleep(60 * time.Millisecond)

	// Pending entries stay regardless of age. Use a fresh long-timeout ledger
	// state by adding before cleanup.
	l.mu.Lock()
	pendingID := "req_pending"
	l.requests[pendingID] = &entry{
		snap: Snapshot{ID: pendingID, Status: StatusPending, CreatedAt: time.Now().Add(-time.Hour)},
		done: make(chan Outcome, 1),
	}
	l.mu.Unlock()

	l.Cleanup()

	if _, ok := l.Get(id); ok {
		t.Fatal("terminal entry survived cleanup past grace window")
	}
	if _, ok := l.Get(pendingID); !ok {
		t.Fatal("pending entry was evicted")
	}
}

func TestLedgerDestroySettlesPending(t *testing.T) {
	l := NewLedger()
	_, done := l.Add(testRequest(""))

	l.Destroy()
	oc := awaitOutcome(t, done)
	if oc.Approved || oc.Reason != "shutdown" {
		t.Fatalf("unexpected shutdown outcome: %+v", oc)
	}

	// Idempotent.
	l.Destroy()
}

func TestLedgerIDCollision(t *testing.T) {
	l := NewLedger()
	defer l.Destroy()

	idA, _ := l.Add(testRequest("dup"))
	idB, _ := l.Add(testRequest("dup"))
	if idA != "dup" {
		t.Fatalf("first add should keep the supplied id, got %q", idA)
	}
	if idB == idA {
		t.Fatal("colliding add reused the same id")
	}
}

func TestHistoryStoreRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	s, err := NewHistoryStore(dsn)
	if err != nil {
		t.Fatalf("NewHistoryStore: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	snap := Snapshot{
		ID:          "req_1",
		Command:     "curl https://evil.example/x",
		WorkingDir:  "/workspace",
		RiskLevel:   guard.RiskHigh,
		RiskReasons: []string{"network_access"},
		CreatedAt:   time.Now().UTC(),
		Status:      StatusApproved,
	}
	oc := Outcome{Approved: true, DecidedBy: "pushover"}
	if err := s.RecordOutcome(ctx, snap, oc); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	// Pending snapshots are refused.
	if err := s.RecordOutcome(ctx, Snapshot{ID: "req_2", Status: StatusPending}, Outcome{}); err == nil {
		t.Fatal("expected error recording a pending request")
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	e := got[0]
	if e.ID != "req_1" || !e.Approved || e.DecidedBy != "pushover" || e.Status != StatusApproved {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if len(e.RiskReasons) != 1 || e.RiskReasons[0] != "network_access" {
		t.Fatalf("unexpected reasons: %v", e.RiskReasons)
	}
}
