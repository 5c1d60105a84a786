package providers

import (
	"github.com/nats-io/nats.go"

	"github.com/MochamaB/FormReporting-sub006/internal/conf"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/notification"
)

// Registrar is satisfied by *notification.Dispatcher.
type Registrar interface {
	Register(channel entities.ChannelType, sender notification.ChannelSender)
}

// Senders holds the constructed channel senders.
type Senders struct {
	Email    *EmailSender
	Shoutrrr *ShoutrrrSender
	Hub      *Hub
	Webhook  *WebhookSender
}

// New builds every sender from provider settings. nc may be nil.
func New(cfg conf.ProviderSettings, sendTimeout conf.Duration, nc *nats.Conn, log logger.Logger) *Senders {
	return &Senders{
		Email:    NewEmailSender(cfg.SMTP, log),
		Shoutrrr: NewShoutrrrSender(cfg.Shoutrrr, sendTimeout.Std(), log),
		Hub:      NewHub(log),
		Webhook:  NewWebhookSender(cfg.WebhookTimeout.Std(), nc, log),
	}
}

// RegisterAll installs the senders on r, one per channel type.
func (s *Senders) RegisterAll(r Registrar) {
	r.Register(entities.ChannelEmail, s.Email)
	r.Register(entities.ChannelSMS, s.Shoutrrr)
	r.Register(entities.ChannelPush, s.Shoutrrr)
	r.Register(entities.ChannelInApp, s.Hub)
	r.Register(entities.ChannelWebhook, s.Webhook)
}
