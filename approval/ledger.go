package approval

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTimeout       = 300 * time.Second
	defaultSweepInterval = time.Minute
)

// Ledger is the in-memory store of outstanding approval requests. Every
// request transitions to exactly one terminal status exactly once; concurrent
// resolution attempts (a human decision racing the timeout timer) produce one
// winner and the losers observe a false return.
type Ledger struct {
	mu       sync.Mutex
	requests map[string]*entry

	timeout       time.Duration
	sweepInterval time.Duration
	log           *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Ledger)

func WithTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.sweepInterval = d
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		requests:      make(map[string]*entry),
		timeout:       DefaultTimeout,
		sweepInterval: defaultSweepInterval,
		log:           slog.Default(),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.sweepLoop()
	return l
}

// Timeout returns the countdown duration applied to new requests.
func (l *Ledger) Timeout() time.Duration { return l.timeout }

// Add registers a pending request and starts its countdown timer. The
// returned channel settles exactly once with the request's Outcome.
func (l *Ledger) Add(req Request) (string, <-chan Outcome) {
	id := strings.TrimSpace(req.ID)

	l.mu.Lock()
	if id == "" {
		id = "req_" + uuid.NewString()
	} else if _, exists := l.requests[id]; exists {
		l.log.Warn("approval_id_collision", "id", id)
		id = "req_" + uuid.NewString()
	}
	e := &entry{
		snap: Snapshot{
			ID:          id,
			Command:     req.Command,
			WorkingDir:  req.WorkingDir,
			RiskLevel:   req.RiskLevel,
			RiskReasons: append([]string(nil), req.RiskReasons...),
			CreatedAt:   time.Now().UTC(),
			Status:      StatusPending,
		},
		done: make(chan Outcome, 1),
	}
	l.requests[id] = e
	e.timer = time.AfterFunc(l.timeout, func() { l.expire(id) })
	l.mu.Unlock()

	return id, e.done
}

// Approve transitions a pending request to approved and settles its
// completion. Returns false if the id is unknown or already terminal.
func (l *Ledger) Approve(id string) bool {
	return l.Settle(id, Outcome{Approved: true, DecidedBy: DecidedByUser})
}

// Reject transitions a pending request to rejected. Returns false if the id
// is unknown or already terminal.
func (l *Ledger) Reject(id string) bool {
	return l.Settle(id, Outcome{Approved: false, DecidedBy: DecidedByUser})
}

// Settle attempts the terminal transition with a caller-supplied outcome,
// preserving the decider's attribution (e.g. a notification channel name).
// First writer wins; all later attempts are no-ops returning false.
func (l *Ledger) Settle(id string, oc Outcome) bool {
	status := StatusRejected
	if oc.Approved {
		status = StatusApproved
	}
	if oc.DecidedBy == DecidedByTimeout {
		status = StatusTimeout
	}
	return l.transition(id, status, oc)
}

// expire is the timer's settle path. Identical outcome shape to an explicit
// rejection, with timeout attribution.
func (l *Ledger) expire(id string) {
	l.transition(id, StatusTimeout, Outcome{
		Approved:  false,
		DecidedBy: DecidedByTimeout,
		Reason:    "timeout",
	})
}

func (l *Ledger) transition(id string, status Status, oc Outcome) bool {
	l.mu.Lock()
	e, ok := l.requests[id]
	if !ok || e.snap.Status != StatusPending {
		l.mu.Unlock()
		return false
	}
	e.snap.Status = status
	e.resolvedAt = time.Now().UTC()
	if e.timer != nil {
		e.timer.Stop()
	}
	done := e.done
	l.mu.Unlock()

	// Buffered(1) and guarded by the status transition: exactly one send.
	done <- oc
	return true
}

// Get returns a read-only snapshot of a request.
func (l *Ledger) Get(id string) (Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.requests[id]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// List returns snapshots of all currently pending requests.
func (l *Ledger) List() []Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Snapshot, 0, len(l.requests))
	for _, e := range l.requests {
		if e.snap.Status == StatusPending {
			out = append(out, e.snapshot())
		}
	}
	return out
}

// Cleanup evicts terminal entries older than twice the timeout. Pending
// entries are never evicted regardless of age. Safe to call concurrently and
// idempotent.
func (l *Ledger) Cleanup() {
	grace := 2 * l.timeout
	now := time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, e := range l.requests {
		if e.snap.Status == StatusPending {
			continue
		}
		if now.Sub(e.resolvedAt) > grace {
			delete(l.requests, id)
		}
	}
}

// Destroy cancels all outstanding timers and the periodic sweep. Pending
// requests are settled as not approved so no caller is left waiting.
func (l *Ledger) Destroy() {
	l.closeOnce.Do(func() {
		close(l.done)

		l.mu.Lock()
		var settle []chan Outcome
		for _, e := range l.requests {
			if e.timer != nil {
				e.timer.Stop()
			}
			if e.snap.Status == StatusPending {
				e.snap.Status = StatusRejected
				e.resolvedAt = time.Now().UTC()
				settle = append(settle, e.done)
			}
		}
		l.mu.Unlock()

		for _, done := range settle {
			done <- Outcome{Approved: false, DecidedBy: DecidedByAuto, Reason: "shutdown"}
		}
	})
}

func (l *Ledger) sweepLoop() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-l.done:
			return
		}
	}
}
