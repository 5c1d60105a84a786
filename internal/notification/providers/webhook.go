package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/notification"
)

const (
	// ProviderNATS selects NATS publishing for a webhook channel.
	ProviderNATS = "nats"

	// HeaderMessageID is read from webhook responses as the external id and
	// sent on requests as the delivery's idempotency key.
	HeaderMessageID = "X-Message-Id"

	maxErrorBody = 512
)

// WebhookPayload is the JSON body posted to webhook endpoints and NATS
// subjects.
type WebhookPayload struct {
	MessageID      string            `json:"message_id"`
	DeliveryID     uint              `json:"delivery_id"`
	NotificationID uint              `json:"notification_id"`
	UserID         uint              `json:"user_id"`
	Priority       entities.Priority `json:"priority"`
	Subject        string            `json:"subject"`
	Body           string            `json:"body"`
	SentAt         time.Time         `json:"sent_at"`
}

// natsPublisher is the part of *nats.Conn the sender uses.
type natsPublisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
}

// WebhookSender posts deliveries to HTTP endpoints, or publishes them to a
// NATS subject when the channel's provider is "nats". The recipient address
// is the URL or subject.
type WebhookSender struct {
	client  *http.Client
	nats    natsPublisher
	timeout time.Duration
	log     logger.Logger
}

// NewWebhookSender creates a WebhookSender. nc may be nil when NATS is not
// configured.
func NewWebhookSender(timeout time.Duration, nc *nats.Conn, log logger.Logger) *WebhookSender {
	s := &WebhookSender{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     log.With(logger.String("provider", "webhook")),
	}
	if nc != nil {
		s.nats = nc
	}
	return s
}

// Send implements notification.ChannelSender.
func (s *WebhookSender) Send(ctx context.Context, msg notification.Message) (string, error) {
	payload := WebhookPayload{
		MessageID:      uuid.NewString(),
		DeliveryID:     msg.DeliveryID,
		NotificationID: msg.NotificationID,
		UserID:         msg.UserID,
		Priority:       msg.Priority,
		Subject:        msg.Subject,
		Body:           msg.Body,
		SentAt:         time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", notification.Permanent("encode webhook payload", err)
	}

	if strings.EqualFold(msg.Channel.Provider, ProviderNATS) {
		if err := s.publish(msg, body); err != nil {
			return "", err
		}
		return payload.MessageID, nil
	}
	return s.post(ctx, msg, payload.MessageID, body)
}

func (s *WebhookSender) publish(msg notification.Message, body []byte) error {
	if s.nats == nil {
		return notification.Permanent("nats is not configured", nil)
	}
	subject := msg.Address
	if subject == "" {
		subject = msg.Channel.ConfigString("subject")
	}
	if subject == "" {
		return notification.Permanent("no nats subject", nil)
	}
	if err := s.nats.Publish(subject, body); err != nil {
		return notification.Transient("nats publish", err)
	}
	if err := s.nats.FlushTimeout(s.timeout); err != nil {
		return notification.Transient("nats flush", err)
	}
	return nil
}

func (s *WebhookSender) post(ctx context.Context, msg notification.Message, messageID string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Address, bytes.NewReader(body))
	if err != nil {
		return "", notification.Permanent("build webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderMessageID, messageID)
	if secret := msg.Channel.ConfigString("auth_header"); secret != "" {
		req.Header.Set("Authorization", secret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", notification.Transient("webhook request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		if id := resp.Header.Get(HeaderMessageID); id != "" {
			messageID = id
		}
		s.log.Debug("webhook delivered",
			logger.Uint64("delivery_id", uint64(msg.DeliveryID)),
			logger.Int("status", resp.StatusCode))
		return messageID, nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := fmt.Errorf("webhook status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	if retryableStatus(resp.StatusCode) {
		return "", notification.Transient(resp.Status, statusErr)
	}
	return "", notification.Permanent(resp.Status, statusErr)
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}
