// Package notify delivers outbound staff and guest messages through a
// pluggable transport with retry, channel failover and a simulate mode.
package notify

import (
	"context"
	"regexp"
	"strings"
)

// Channel is an outbound medium.
type Channel string

const (
	WhatsApp Channel = "whatsapp"
	SMS      Channel = "sms"
	Voice    Channel = "voice"
)

// Request is one message to one recipient.
type Request struct {
	TenantID string  `json:"tenant_id,omitempty"`
	Channel  Channel `json:"channel"`
	To       string  `json:"to"`
	Message  string  `json:"message"`
	MediaURL string  `json:"media_url,omitempty"`
}

// Result is a transport outcome. RateLimited and DailyLimit let a transport
// flag conditions it can detect structurally; error text is also inspected.
type Result struct {
	Success     bool    `json:"success"`
	ID          string  `json:"id,omitempty"`
	Error       string  `json:"error,omitempty"`
	RateLimited bool    `json:"rate_limited,omitempty"`
	DailyLimit  bool    `json:"daily_limit,omitempty"`
	Simulated   bool    `json:"simulated,omitempty"`
	Channel     Channel `json:"channel,omitempty"`
	Attempts    int     `json:"attempts,omitempty"`
}

// Transport performs a single send attempt.
type Transport interface {
	Send(ctx context.Context, req Request) Result
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) Result

func (f TransportFunc) Send(ctx context.Context, req Request) Result { return f(ctx, req) }

// Status codes only count as whole words, so numbers and ids quoted in
// provider errors do not trigger a retry.
var (
	transientPattern  = regexp.MustCompile(`(?i)\b(?:limit\w*|rate|429|50[0234]|timeout|timed out|temporarily|too many requests)\b`)
	dailyLimitPattern = regexp.MustCompile(`(?i)\b(?:63030|limit\w*|quota|daily)\b`)
)

// Transient reports whether a failed result is worth retrying.
func Transient(r Result) bool {
	if r.Success {
		return false
	}
	return r.RateLimited || transientPattern.MatchString(r.Error)
}

// DailyLimited reports whether a failed result signals an exhausted daily
// sending quota.
func DailyLimited(r Result) bool {
	if r.Success {
		return false
	}
	return r.DailyLimit || dailyLimitPattern.MatchString(r.Error)
}

// NormalizePhone strips separators and puts the number in international
// form: a leading 0 is replaced by prefix, and numbers without + get prefix.
func NormalizePhone(phone, prefix string) string {
	p := strings.NewReplacer("-", "", " ", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
	if p == "" {
		return ""
	}
	if strings.HasPrefix(p, "+") {
		return p
	}
	if prefix == "" {
		return "+" + strings.TrimLeft(p, "0")
	}
	if !strings.HasPrefix(prefix, "+") {
		prefix = "+" + prefix
	}
	if strings.HasPrefix(p, "0") && len(p) >= 9 {
		return prefix + p[1:]
	}
	if strings.HasPrefix(p, prefix[1:]) {
		return "+" + p
	}
	return prefix + p
}
