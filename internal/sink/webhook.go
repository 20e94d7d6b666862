package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/sudorandom/hijackwatch/internal/alert"
)

// chatAttachment is a Slack-compatible incoming-webhook attachment.
type chatAttachment struct {
	Color    string `json:"color"`
	Text     string `json:"text"`
	Fallback string `json:"fallback"`
}

type chatPayload struct {
	Text        string           `json:"text"`
	Attachments []chatAttachment `json:"attachments"`
}

// colorForEvent mirrors the original project's per-event message
// color: hijacks are reported as danger, everything else as a softer
// warning.
func colorForEvent(event string) string {
	if event == alert.EventHijack {
		return "danger"
	}
	return "warning"
}

// Webhook posts alert messages to a Slack-compatible incoming
// webhook, optionally through an HTTP proxy.
type Webhook struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// NewWebhook constructs a Webhook sink. If proxyHost/proxyPort are
// set, requests are tunneled through that HTTPS proxy.
func NewWebhook(webhookURL, proxyHost string, proxyPort int, log *zap.Logger) *Webhook {
	client := &http.Client{Timeout: 10 * time.Second}
	if proxyHost != "" && proxyPort != 0 {
		proxyURL := &url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", proxyHost, proxyPort)}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}
	return &Webhook{url: webhookURL, client: client, log: log}
}

// Callback returns the function to register with alert.Engine.On.
func (s *Webhook) Callback() alert.Callback {
	return func(a alert.Alert) {
		if err := s.send(a); err != nil {
			s.log.Error("webhook sink failed", zap.Error(err), zap.String("event", a.Event))
		}
	}
}

func (s *Webhook) send(a alert.Alert) error {
	payload := chatPayload{
		Attachments: []chatAttachment{{
			Color: colorForEvent(a.Event),
			Text:  a.Message,
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sink: marshal webhook payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sink: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sink: webhook request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.log.Warn("error closing webhook response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sink: webhook returned status %s", resp.Status)
	}
	return nil
}
