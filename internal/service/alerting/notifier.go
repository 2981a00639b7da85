package alerting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/plugboard/analytics/internal/domain"
)

const defaultNotifyTimeout = 10 * time.Second

// EmailSender delivers alert emails. The production implementation lives in
// the delivery layer; LogEmailSender stands in when none is wired.
type EmailSender interface {
	Send(ctx context.Context, recipients []string, subject string, payload domain.NotificationPayload) error
}

// LogEmailSender records the email instead of sending it.
type LogEmailSender struct {
	Logger *slog.Logger
}

// Send logs the alert email.
func (s LogEmailSender) Send(_ context.Context, recipients []string, subject string, payload domain.NotificationPayload) error {
	s.Logger.Info("alert email",
		"recipients", strings.Join(recipients, ","),
		"subject", subject,
		"alert_id", payload.AlertID)
	return nil
}

// Notifier dispatches alert notifications per rule configuration. Delivery
// failures are logged and swallowed: an alert must never fail to exist
// because a webhook endpoint was down.
type Notifier struct {
	client *http.Client
	email  EmailSender
	secret string
	logger *slog.Logger
}

// NewNotifier constructs a notifier. A nil email sender falls back to
// logging; an empty secret sends webhooks unsigned.
func NewNotifier(client *http.Client, email EmailSender, secret string, timeout time.Duration, logger *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	} else if client.Timeout == 0 {
		client.Timeout = timeout
	}
	log := logger.With("component", "alert-notifier")
	if email == nil {
		email = LogEmailSender{Logger: log}
	}
	return &Notifier{client: client, email: email, secret: secret, logger: log}
}

// Dispatch delivers one alert to the rule's configured targets.
func (n *Notifier) Dispatch(ctx context.Context, rule domain.AlertRule, payload domain.NotificationPayload) {
	if len(rule.NotifyEmails) > 0 {
		subject := fmt.Sprintf("[%s] %s alert for component %s", payload.Severity, payload.AlertType, payload.ComponentID)
		if err := n.email.Send(ctx, rule.NotifyEmails, subject, payload); err != nil {
			n.logger.Warn("alert email delivery failed", "alert_id", payload.AlertID, "error", err)
		}
	}
	if rule.WebhookURL != "" {
		if err := n.postWebhook(ctx, rule.WebhookURL, payload); err != nil {
			n.logger.Warn("alert webhook delivery failed",
				"alert_id", payload.AlertID,
				"url", rule.WebhookURL,
				"error", err)
		}
	}
}

func (n *Notifier) postWebhook(ctx context.Context, url string, payload domain.NotificationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("X-Plugboard-Signature", Sign(body, []byte(n.secret)))
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook responded %s", resp.Status)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 signature receivers use to verify alert
// webhooks.
func Sign(payload, secret []byte) string {
	hasher := hmac.New(sha256.New, secret)
	hasher.Write(payload)
	return hex.EncodeToString(hasher.Sum(nil))
}
