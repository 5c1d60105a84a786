// Package providers implements the channel senders used by the notification
// dispatcher: SMTP email, shoutrrr-backed SMS and push, the in-app websocket
// hub and HTTP or NATS webhooks.
package providers

import (
	"context"
	"fmt"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
	"github.com/k3a/html2text"
	gomail "gopkg.in/mail.v2"

	"github.com/MochamaB/FormReporting-sub006/internal/conf"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/notification"
)

// mailDialer is the part of *gomail.Dialer the sender uses.
type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender delivers over SMTP.
type EmailSender struct {
	from   string
	dialer mailDialer
	log    logger.Logger
}

// NewEmailSender creates an EmailSender from SMTP settings.
func NewEmailSender(cfg conf.SMTPSettings, log logger.Logger) *EmailSender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return newEmailSender(cfg.From, d, log)
}

func newEmailSender(from string, d mailDialer, log logger.Logger) *EmailSender {
	return &EmailSender{
		from:   from,
		dialer: d,
		log:    log.With(logger.String("provider", "smtp")),
	}
}

// Send builds a multipart message with a plain-text part and, when the body
// is HTML, an HTML alternative. The Message-ID is returned as external id.
func (s *EmailSender) Send(ctx context.Context, msg notification.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", notification.Transient("context done", err)
	}
	if _, err := mail.ParseAddress(msg.Address); err != nil {
		return "", notification.Permanent("invalid email address", err)
	}

	messageID := uuid.NewString()
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.Address)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@notifyd>", messageID))

	if isHTML(msg.Body) {
		m.SetBody("text/plain", html2text.HTML2Text(msg.Body))
		m.AddAlternative("text/html", msg.Body)
	} else {
		m.SetBody("text/plain", msg.Body)
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return "", classifySMTP(err)
	}
	s.log.Debug("email sent",
		logger.Uint64("delivery_id", uint64(msg.DeliveryID)),
		logger.String("message_id", messageID))
	return messageID, nil
}

func isHTML(body string) bool {
	return strings.Contains(body, "<") && strings.Contains(body, ">")
}

// classifySMTP marks 5xx replies permanent; everything else, including
// connection errors and 4xx replies, is retried.
func classifySMTP(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code >= 500 {
		return notification.Permanent(fmt.Sprintf("smtp %d", protoErr.Code), err)
	}
	return notification.Transient("smtp", err)
}
