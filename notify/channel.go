// Package notify delivers approval requests to a human and polls for their
// decision. Channels are pluggable: the orchestrator only sees the Channel
// interface and treats delivery failures as non-fatal (the approval ledger's
// own timeout still governs resolution).
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/polucas/clawshell/approval"
)

// Delivery describes one sent notification. Receipt is the correlation token
// for later polling; an empty Receipt means the delivery is not pollable and
// PollForResponse degrades to waiting out the timeout.
type Delivery struct {
	NotificationID string
	Receipt        string
	SentAt         time.Time
}

type Channel interface {
	Name() string
	SendApprovalRequest(ctx context.Context, req approval.Snapshot) (Delivery, error)
	PollForResponse(ctx context.Context, d Delivery, timeout time.Duration) (approval.Outcome, error)
}

// ErrMissingCredentials is returned by channel constructors; it is fatal at
// startup of that channel, never per-request.
var ErrMissingCredentials = errors.New("notify: missing credentials")

// DeliveryError wraps a failed remote send.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notify: %s delivery failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// timeoutOutcome is what every channel reports when the decision window
// closes without an acknowledgment.
func timeoutOutcome() approval.Outcome {
	return approval.Outcome{
		Approved:  false,
		DecidedBy: approval.DecidedByTimeout,
		Reason:    "timeout",
	}
}

// waitOut blocks until the timeout elapses or ctx is done, reporting timeout
// either way. Used for unpollable deliveries.
func waitOut(ctx context.Context, timeout time.Duration) (approval.Outcome, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	return timeoutOutcome(), nil
}
