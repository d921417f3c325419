package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/polucas/clawshell/approval"
	"github.com/polucas/clawshell/internal/strutil"
)

const (
	pushoverBaseURL      = "https://api.pushover.net"
	pushoverPollInterval = 5 * time.Second
	pushoverRetry        = 60 * time.Second
	pushoverMaxExpire    = 10800 * time.Second

	// Pushover message payloads cap at 1024 bytes; leave room for the frame.
	commandPreviewBytes = 512
)

// PushoverChannel delivers approval requests as emergency-priority push
// notifications and polls the acknowledgment receipt for the decision.
// Acknowledgment approves; receipt expiry reports timeout. Pushover has no
// explicit reject action.
type PushoverChannel struct {
	token   string
	userKey string

	baseURL      string
	client       *http.Client
	pollInterval time.Duration
	log          *slog.Logger
}

type PushoverOption func(*PushoverChannel)

func WithPushoverBaseURL(u string) PushoverOption {
	return func(c *PushoverChannel) {
		if strings.TrimSpace(u) != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithPushoverPollInterval(d time.Duration) PushoverOption {
	return func(c *PushoverChannel) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithPushoverLogger(log *slog.Logger) PushoverOption {
	return func(c *PushoverChannel) {
		if log != nil {
			c.log = log
		}
	}
}

func NewPushoverChannel(token, userKey string, opts ...PushoverOption) (*PushoverChannel, error) {
	token = strings.TrimSpace(token)
	userKey = strings.TrimSpace(userKey)
	if token == "" || userKey == "" {
		return nil, fmt.Errorf("%w: pushover token and user key are required", ErrMissingCredentials)
	}
	c := &PushoverChannel{
		token:        token,
		userKey:      userKey,
		baseURL:      pushoverBaseURL,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: pushoverPollInterval,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *PushoverChannel) Name() string { return "pushover" }

type pushoverMessageResponse struct {
	Status  int      `json:"status"`
	Request string   `json:"request"`
	Receipt string   `json:"receipt"`
	Errors  []string `json:"errors"`
}

func (c *PushoverChannel) SendApprovalRequest(ctx context.Context, req approval.Snapshot) (Delivery, error) {
	preview := strutil.PreviewLine(req.Command, commandPreviewBytes)
	msg := fmt.Sprintf("[%s] %s\n\nid: %s\nreasons: %s",
		req.RiskLevel, preview, req.ID, strings.Join(req.RiskReasons, ", "))

	form := url.Values{}
	form.Set("token", c.token)
	form.Set("user", c.userKey)
	form.Set("title", "Command approval requested")
	form.Set("message", msg)
	form.Set("priority", "2")
	form.Set("retry", strconv.Itoa(int(pushoverRetry.Seconds())))
	form.Set("expire", strconv.Itoa(int(pushoverMaxExpire.Seconds())))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/1/messages.json", strings.NewReader(form.Encode()))
	if err != nil {
		return Delivery{}, &DeliveryError{Channel: c.Name(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Delivery{}, &DeliveryError{Channel: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	var parsed pushoverMessageResponse
	if err := decodeBody(resp.Body, &parsed); err != nil {
		return Delivery{}, &DeliveryError{Channel: c.Name(), Err: err}
	}
	if parsed.Status != 1 {
		return Delivery{}, &DeliveryError{
			Channel: c.Name(),
			Err:     fmt.Errorf("status %d: %s", parsed.Status, strings.Join(parsed.Errors, "; ")),
		}
	}

	return Delivery{
		NotificationID: parsed.Request,
		Receipt:        parsed.Receipt,
		SentAt:         time.Now().UTC(),
	}, nil
}

type pushoverReceiptResponse struct {
	Status         int    `json:"status"`
	Acknowledged   int    `json:"acknowledged"`
	AcknowledgedBy string `json:"acknowledged_by"`
	Expired        int    `json:"expired"`
}

func (c *PushoverChannel) PollForResponse(ctx context.Context, d Delivery, timeout time.Duration) (approval.Outcome, error) {
	if d.Receipt == "" {
		return waitOut(ctx, timeout)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return timeoutOutcome(), nil
		case <-deadline.C:
			return timeoutOutcome(), nil
		case <-ticker.C:
		}

		rec, err := c.checkReceipt(ctx, d.Receipt)
		if err != nil {
			// Transient poll errors are retried, never surfaced.
			c.log.Debug("pushover_poll_error", "receipt", d.Receipt, "error", err.Error())
			continue
		}
		if rec.Acknowledged == 1 {
			return approval.Outcome{Approved: true, DecidedBy: c.Name()}, nil
		}
		if rec.Expired == 1 {
			return timeoutOutcome(), nil
		}
	}
}

func (c *PushoverChannel) checkReceipt(ctx context.Context, receipt string) (pushoverReceiptResponse, error) {
	var parsed pushoverReceiptResponse

	u := fmt.Sprintf("%s/1/receipts/%s.json?token=%s", c.baseURL, url.PathEscape(receipt), url.QueryEscape(c.token))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return parsed, err
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return parsed, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parsed, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := decodeBody(resp.Body, &parsed); err != nil {
		return parsed, err
	}
	if parsed.Status != 1 {
		return parsed, fmt.Errorf("receipt status %d", parsed.Status)
	}
	return parsed, nil
}

func decodeBody(r io.Reader, dst any) error {
	b, err := io.ReadAll(io.LimitReader(r, 64*1024))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
