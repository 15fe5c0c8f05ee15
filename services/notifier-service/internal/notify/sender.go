package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Message is what gets delivered to the notification webhook: the WhatsApp
// deep link plus enough context to render it somewhere useful.
type Message struct {
	OwnerID      string `json:"owner_id"`
	Event        string `json:"event"`
	Text         string `json:"text"`
	WhatsAppLink string `json:"whatsapp_link,omitempty"`
}

type Sender interface {
	Deliver(ctx context.Context, msg Message) error
	ProviderID() string
}

type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url string, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *WebhookSender) ProviderID() string {
	return "notify-webhook"
}

func (s *WebhookSender) Deliver(ctx context.Context, msg Message) error {
	if s.url == "" {
		return errors.New("notification webhook url not configured")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New("notification webhook returned non-2xx")
	}
	return nil
}

type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "notify-noop"
}

func (s *NoopSender) Deliver(_ context.Context, _ Message) error {
	return nil
}
