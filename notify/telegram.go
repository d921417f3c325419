package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/polucas/clawshell/approval"
	"github.com/polucas/clawshell/internal/strutil"
)

const (
	telegramBaseURL      = "https://api.telegram.org"
	telegramPollInterval = 3 * time.Second

	callbackApprovePrefix = "apr:"
	callbackRejectPrefix  = "rej:"
)

// TelegramChannel delivers approval requests as chat messages with inline
// approve/reject buttons and polls getUpdates for the callback decision.
//
// One channel instance serves many concurrent in-flight requests: pollers
// take turns draining updates and every decision seen is parked in a shared
// map, so a callback consumed by one poller still reaches the request it
// belongs to.
type TelegramChannel struct {
	token  string
	chatID int64

	baseURL      string
	client       *http.Client
	pollInterval time.Duration
	log          *slog.Logger

	mu        sync.Mutex
	offset    int64
	decisions map[string]approval.Outcome // request id -> decision
}

type TelegramOption func(*TelegramChannel)

func WithTelegramBaseURL(u string) TelegramOption {
	return func(c *TelegramChannel) {
		if strings.TrimSpace(u) != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithTelegramPollInterval(d time.Duration) TelegramOption {
	return func(c *TelegramChannel) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithTelegramLogger(log *slog.Logger) TelegramOption {
	return func(c *TelegramChannel) {
		if log != nil {
			c.log = log
		}
	}
}

func NewTelegramChannel(token string, chatID int64, opts ...TelegramOption) (*TelegramChannel, error) {
	token = strings.TrimSpace(token)
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("%w: telegram bot token and chat id are required", ErrMissingCredentials)
	}
	c := &TelegramChannel{
		token:        token,
		chatID:       chatID,
		baseURL:      telegramBaseURL,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: telegramPollInterval,
		log:          slog.Default(),
		decisions:    make(map[string]approval.Outcome),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

type telegramSendResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Description string `json:"description"`
}

func (c *TelegramChannel) SendApprovalRequest(ctx context.Context, req approval.Snapshot) (Delivery, error) {
	preview := strutil.PreviewLine(req.Command, commandPreviewBytes)
	text := fmt.Sprintf("Approval requested [%s]\n%s\nreasons: %s",
		req.RiskLevel, preview, strings.Join(req.RiskReasons, ", "))

	payload := map[string]any{
		"chat_id": c.chatID,
		"text":    text,
		"reply_markup": map[string]any{
			"inline_keyboard": [][]map[string]string{{
				{"text": "Approve", "callback_data": callbackApprovePrefix + req.ID},
				{"text": "Reject", "callback_data": callbackRejectPrefix + req.ID},
			}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Delivery{}, &DeliveryError{Channel: c.Name(), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.methodURL("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return Delivery{}, &DeliveryError{Channel: c.Name(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Delivery{}, &DeliveryError{Channel: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	var parsed telegramSendResponse
	if err := decodeBody(resp.Body, &parsed); err != nil {
		return Delivery{}, &DeliveryError{Channel: c.Name(), Err: err}
	}
	if !parsed.OK {
		return Delivery{}, &DeliveryError{Channel: c.Name(), Err: fmt.Errorf("sendMessage: %s", parsed.Description)}
	}

	return Delivery{
		NotificationID: strconv.FormatInt(parsed.Result.MessageID, 10),
		Receipt:        req.ID,
		SentAt:         time.Now().UTC(),
	}, nil
}

func (c *TelegramChannel) PollForResponse(ctx context.Context, d Delivery, timeout time.Duration) (approval.Outcome, error) {
	if d.Receipt == "" {
		return waitOut(ctx, timeout)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if oc, ok := c.takeDecision(d.Receipt); ok {
			return oc, nil
		}
		select {
		case <-ctx.Done():
			return timeoutOutcome(), nil
		case <-deadline.C:
			return timeoutOutcome(), nil
		case <-ticker.C:
		}
		if err := c.drainUpdates(ctx); err != nil {
			c.log.Debug("telegram_poll_error", "error", err.Error())
		}
	}
}

func (c *TelegramChannel) takeDecision(id string) (approval.Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	oc, ok := c.decisions[id]
	if ok {
		delete(c.decisions, id)
	}
	return oc, ok
}

type telegramUpdatesResponse struct {
	OK     bool `json:"ok"`
	Result []struct {
		UpdateID      int64 `json:"update_id"`
		CallbackQuery *struct {
			ID   string `json:"id"`
			Data string `json:"data"`
			From struct {
				Username string `json:"username"`
			} `json:"from"`
		} `json:"callback_query"`
	} `json:"result"`
}

// drainUpdates fetches pending updates once and parks every decision found.
// Serialized so concurrent pollers do not fight over the update offset.
func (c *TelegramChannel) drainUpdates(ctx context.Context) error {
	c.mu.Lock()
	offset := c.offset
	c.mu.Unlock()

	u := fmt.Sprintf("%s?offset=%d&allowed_updates=%s",
		c.methodURL("getUpdates"), offset, url.QueryEscape(`["callback_query"]`))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var parsed telegramUpdatesResponse
	if err := decodeBody(resp.Body, &parsed); err != nil {
		return err
	}
	if !parsed.OK {
		return fmt.Errorf("getUpdates returned ok=false")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, upd := range parsed.Result {
		if upd.UpdateID >= c.offset {
			c.offset = upd.UpdateID + 1
		}
		cb := upd.CallbackQuery
		if cb == nil {
			continue
		}
		decidedBy := c.Name()
		if cb.From.Username != "" {
			decidedBy = cb.From.Username
		}
		switch {
		case strings.HasPrefix(cb.Data, callbackApprovePrefix):
			id := strings.TrimPrefix(cb.Data, callbackApprovePrefix)
			c.decisions[id] = approval.Outcome{Approved: true, DecidedBy: decidedBy}
		case strings.HasPrefix(cb.Data, callbackRejectPrefix):
			id := strings.TrimPrefix(cb.Data, callbackRejectPrefix)
			c.decisions[id] = approval.Outcome{Approved: false, DecidedBy: decidedBy, Reason: "rejected"}
		default:
			continue
		}
		go c.answerCallback(cb.ID)
	}
	return nil
}

// answerCallback dismisses the inline-button spinner. Best effort.
func (c *TelegramChannel) answerCallback(callbackID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	body, _ := json.Marshal(map[string]any{"callback_query_id": callbackID})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.methodURL("answerCallbackQuery"), bytes.NewReader(body))
	if err != nil {
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return
	}
	resp.Body.Close()
}

func (c *TelegramChannel) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}
