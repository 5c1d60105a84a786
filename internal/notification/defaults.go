package notification

import (
	"context"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
)

// TemplateDigest is the system template used for digest deliveries.
const TemplateDigest = "DIGEST"

// SystemTemplates returns the templates the notification core relies on.
func SystemTemplates() []entities.NotificationTemplate {
	return []entities.NotificationTemplate{
		{
			Code:             TemplateDigest,
			Name:             "Notification digest",
			NotificationType: "digest",
			SubjectTemplate:  "Your {{Frequency}} digest: {{Count}} notification(s)",
			BodyTemplate:     "You have {{Count}} new notification(s):\n{{Items}}",
			SmsTemplate:      "{{Count}} new notification(s) in your {{Frequency}} digest",
			PushTemplate:     "{{Count}} new notification(s)",
			Placeholders:     []string{"Count", "Items", "Frequency"},
			DefaultPriority:  entities.PriorityNormal,
			IsActive:         true,
			IsSystemTemplate: true,
		},
	}
}

// DefaultChannels returns one channel per type. Only in-app is enabled out
// of the box; the others need provider configuration first.
func DefaultChannels() []entities.NotificationChannel {
	return []entities.NotificationChannel{
		{Name: "in_app", Type: entities.ChannelInApp, IsEnabled: true, Provider: "websocket", PriorityRank: 1},
		{Name: "email", Type: entities.ChannelEmail, Provider: "smtp", MaxRetries: 3, RetryDelayMinutes: 5, PriorityRank: 2},
		{Name: "push", Type: entities.ChannelPush, Provider: "shoutrrr", MaxRetries: 3, RetryDelayMinutes: 2, PriorityRank: 3},
		{Name: "sms", Type: entities.ChannelSMS, Provider: "shoutrrr", MaxRetries: 3, RetryDelayMinutes: 5, PriorityRank: 4, DailySendLimit: 500},
		{Name: "webhook", Type: entities.ChannelWebhook, Provider: "http", MaxRetries: 5, RetryDelayMinutes: 1, PriorityRank: 5},
	}
}

// SeedDefaults inserts missing system templates and channels. Extra
// templates, e.g. from the alerting package, are seeded alongside.
func SeedDefaults(ctx context.Context, repos *repository.Repositories, log logger.Logger, extra ...entities.NotificationTemplate) error {
	templates := append(SystemTemplates(), extra...)
	created, err := repos.Templates.EnsureSystemTemplates(ctx, templates)
	if err != nil {
		return err
	}
	channels, err := repos.Channels.EnsureChannels(ctx, DefaultChannels())
	if err != nil {
		return err
	}
	if created > 0 || channels > 0 {
		log.Info("seeded notification defaults",
			logger.Int64("templates", created),
			logger.Int64("channels", channels))
	}
	return nil
}
