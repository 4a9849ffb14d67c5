// Package whatsapp delivers notification bodies to patients.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vdental/chairbook/libs/apperr"
	"github.com/vdental/chairbook/libs/runtime"
)

// Sender delivers one text message. Errors are *apperr.TransportError.
type Sender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

const (
	DefaultD360BaseURL = "https://waba.360dialog.io"
	defaultTimeout     = 10 * time.Second
	maxErrorBody       = 512
)

// D360Sender posts text messages to the 360dialog WhatsApp Business API.
type D360Sender struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewD360Sender(baseURL, apiKey string) *D360Sender {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultD360BaseURL
	}
	return &D360Sender{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

func (s *D360Sender) ProviderID() string {
	return "whatsapp-360dialog"
}

type d360Message struct {
	To   string `json:"to"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

func (s *D360Sender) Send(ctx context.Context, to string, body string) error {
	if s.apiKey == "" {
		return &apperr.TransportError{Err: errors.New("whatsapp api key not configured")}
	}
	msg := d360Message{To: to, Type: "text"}
	msg.Text.Body = body
	return post(ctx, s.http, s.baseURL+"/v1/messages", msg, func(h http.Header) {
		h.Set("D360-API-KEY", s.apiKey)
	})
}

// WebhookSender posts {to, body} to a relay, e.g. a staging inbox.
type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url string, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: defaultTimeout},
	}
}

func (s *WebhookSender) ProviderID() string {
	return "whatsapp-webhook"
}

func (s *WebhookSender) Send(ctx context.Context, to string, body string) error {
	if s.url == "" {
		return &apperr.TransportError{Err: errors.New("whatsapp webhook url not configured")}
	}
	return post(ctx, s.http, s.url, map[string]string{"to": to, "body": body}, func(h http.Header) {
		if s.token != "" {
			h.Set("Authorization", "Bearer "+s.token)
		}
	})
}

// NoopSender accepts everything. Used when no provider is configured.
type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "whatsapp-noop"
}

func (s *NoopSender) Send(_ context.Context, _ string, _ string) error {
	return nil
}

func post(ctx context.Context, client *http.Client, url string, payload any, headers func(http.Header)) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return &apperr.TransportError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return &apperr.TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	headers(req.Header)

	resp, err := client.Do(req)
	if err != nil {
		return &apperr.TransportError{Timeout: isTimeout(ctx, err), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &apperr.TransportError{Err: fmt.Errorf("whatsapp %d: %s", resp.StatusCode,
			strings.TrimSpace(runtime.TruncateUTF8(string(snippet), maxErrorBody)))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
