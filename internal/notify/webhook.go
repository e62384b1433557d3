package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/dispatchd/internal/logging"
)

// WebhookTransport posts each request as JSON to a provider gateway.
// The gateway answers {"id": "..."} on success and {"error": "..."} otherwise.
type WebhookTransport struct {
	URL    string
	Token  string
	Client *http.Client
}

// NewWebhookTransport returns a transport for url authenticated by token.
func NewWebhookTransport(url, token string) *WebhookTransport {
	return &WebhookTransport{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

type webhookPayload struct {
	Channel  Channel `json:"channel"`
	To       string  `json:"to"`
	Message  string  `json:"message"`
	MediaURL string  `json:"media_url,omitempty"`
}

type webhookResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Send implements Transport.
func (w *WebhookTransport) Send(ctx context.Context, req Request) Result {
	body, err := json.Marshal(webhookPayload{
		Channel:  req.Channel,
		To:       req.To,
		Message:  req.Message,
		MediaURL: req.MediaURL,
	})
	if err != nil {
		return Result{Error: fmt.Sprintf("encoding request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("building request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.Token)
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Error: "timeout: " + err.Error()}
		}
		return Result{Error: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var decoded webhookResponse
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		id := decoded.ID
		if id == "" {
			id = uuid.NewString()
		}
		return Result{Success: true, ID: id}
	}

	msg := decoded.Error
	if msg == "" {
		msg = string(bytes.TrimSpace(raw))
	}
	res := Result{Error: fmt.Sprintf("status %d: %s", resp.StatusCode, msg)}
	if resp.StatusCode == http.StatusTooManyRequests {
		res.RateLimited = true
	}
	if decoded.Code == "63030" {
		res.DailyLimit = true
	}
	return res
}

// LogTransport writes requests to the log and always succeeds.
type LogTransport struct {
	logger *logging.Logger
}

// NewLogTransport returns a dry-run transport.
func NewLogTransport(l *logging.Logger) *LogTransport {
	if l == nil {
		l = logging.Component("notify")
	}
	return &LogTransport{logger: l}
}

// Send implements Transport.
func (t *LogTransport) Send(_ context.Context, req Request) Result {
	t.logger.InfoCtx("dry-run send", logging.Fields{
		"channel": req.Channel,
		"to":      req.To,
		"message": req.Message,
		"media":   req.MediaURL,
	})
	return Result{Success: true, ID: "log-" + uuid.NewString()}
}
