package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/polucas/clawshell/approval"
	"github.com/polucas/clawshell/internal/strutil"
)

// NoopChannel is the channel for environments without notification
// credentials. It logs the request and returns an unpollable delivery, so
// resolution comes from the ledger: a manual Approve/Reject (e.g. via the
// daemon's HTTP endpoints) or the timeout.
type NoopChannel struct {
	log *slog.Logger
}

func NewNoopChannel(log *slog.Logger) *NoopChannel {
	if log == nil {
		log = slog.Default()
	}
	return &NoopChannel{log: log}
}

func (c *NoopChannel) Name() string { return "noop" }

func (c *NoopChannel) SendApprovalRequest(ctx context.Context, req approval.Snapshot) (Delivery, error) {
	_ = ctx
	c.log.Info("approval_requested",
		"id", req.ID,
		"risk_level", string(req.RiskLevel),
		"command", strutil.PreviewLine(req.Command, commandPreviewBytes),
		"reasons", strings.Join(req.RiskReasons, ","),
	)
	return Delivery{NotificationID: "noop-" + req.ID, SentAt: time.Now().UTC()}, nil
}

func (c *NoopChannel) PollForResponse(ctx context.Context, d Delivery, timeout time.Duration) (approval.Outcome, error) {
	return waitOut(ctx, timeout)
}
