package alerting

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/notification"
)

// notificationTypeAlert is the notification type of every alert message.
const notificationTypeAlert = "alert"

// NotificationCreator abstracts the notification service for testability.
type NotificationCreator interface {
	CreateNotification(ctx context.Context, req notification.CreateRequest) (*notification.CreateResult, error)
}

// ActionDispatcher turns alert firings and escalations into notifications.
type ActionDispatcher struct {
	creator   NotificationCreator
	templates repository.TemplateRepository
	log       logger.Logger
}

// NewActionDispatcher creates an ActionDispatcher.
func NewActionDispatcher(creator NotificationCreator, templates repository.TemplateRepository, log logger.Logger) *ActionDispatcher {
	return &ActionDispatcher{creator: creator, templates: templates, log: log}
}

// NotifyTriggered sends the definition's template to its recipients and
// returns the notification id.
func (d *ActionDispatcher) NotifyTriggered(ctx context.Context, def *entities.AlertDefinition, history *entities.AlertHistory) (uint, error) {
	code, err := d.templateCode(ctx, def.TemplateID)
	if err != nil {
		return 0, err
	}
	priority := def.Severity.Priority()
	return d.create(ctx, notification.CreateRequest{
		TemplateCode:     code,
		SourceEntityType: SourceEntityAlertHistory,
		SourceEntityID:   strconv.FormatUint(uint64(history.ID), 10),
		Recipients:       def.Recipients.Data(),
		Placeholders:     firingPlaceholders(def, history),
		Overrides: notification.Overrides{
			Type:     notificationTypeAlert,
			Priority: &priority,
			Channels: slices.Clone([]entities.ChannelType(def.Channels)),
		},
	})
}

// NotifyEscalated sends the escalation notification for history. The
// escalation recipients default to the definition's recipients.
func (d *ActionDispatcher) NotifyEscalated(ctx context.Context, def *entities.AlertDefinition, history *entities.AlertHistory, now time.Time) (uint, error) {
	rules := def.EscalationRules.Data()

	code := rules.TemplateCode
	if code == "" {
		code = TemplateAlertEscalated
	}
	recipients := rules.Recipients
	if recipients.IsEmpty() {
		recipients = def.Recipients.Data()
	}
	priority := entities.PriorityUrgent
	if rules.Priority != "" {
		p, err := entities.ParsePriority(rules.Priority)
		if err != nil {
			return 0, errors.New(err).
				Component(componentAlerting).
				Category(errors.CategoryConfiguration).
				Context("alert_id", def.ID).
				Build()
		}
		priority = p
	}

	placeholders := firingPlaceholders(def, history)
	placeholders["EscalatedAt"] = now.UTC().Format(time.RFC3339)
	placeholders["MinutesOpen"] = strconv.Itoa(entities.MinutesBetween(history.TriggeredDate, now))

	return d.create(ctx, notification.CreateRequest{
		TemplateCode:     code,
		SourceEntityType: SourceEntityAlertHistory,
		SourceEntityID:   strconv.FormatUint(uint64(history.ID), 10),
		Recipients:       recipients,
		Placeholders:     placeholders,
		Overrides: notification.Overrides{
			Type:     notificationTypeAlert,
			Priority: &priority,
			Channels: slices.Clone(rules.Channels),
		},
	})
}

func (d *ActionDispatcher) create(ctx context.Context, req notification.CreateRequest) (uint, error) {
	if d.creator == nil {
		return 0, errors.Newf("notification service is not configured").
			Component(componentAlerting).
			Category(errors.CategoryConfiguration).
			Build()
	}
	result, err := d.creator.CreateNotification(ctx, req)
	if err != nil {
		return 0, err
	}
	if result == nil {
		return 0, nil
	}
	return result.NotificationID, nil
}

func (d *ActionDispatcher) templateCode(ctx context.Context, templateID uint) (string, error) {
	if templateID == 0 {
		return TemplateAlertTriggered, nil
	}
	tmpl, err := d.templates.GetByID(ctx, templateID)
	if err != nil {
		category := errors.CategoryDatabase
		if errors.Is(err, repository.ErrTemplateNotFound) {
			category = errors.CategoryConfiguration
		}
		return "", errors.New(err).
			Component(componentAlerting).
			Category(category).
			Context("template_id", templateID).
			Build()
	}
	return tmpl.Code, nil
}

// firingPlaceholders flattens the trigger detail into template values and
// adds a rendered Details list.
func firingPlaceholders(def *entities.AlertDefinition, history *entities.AlertHistory) map[string]string {
	out := make(map[string]string, len(history.TriggerDetails)+4)
	for k, v := range history.TriggerDetails {
		out[k] = fmt.Sprint(v)
	}
	out[DetailAlertName] = def.Name
	out[DetailSeverity] = string(def.Severity)
	out[DetailTriggeredAt] = history.TriggeredDate.UTC().Format(time.RFC3339)
	if _, ok := out["Details"]; !ok {
		out["Details"] = renderDetails(history.TriggerDetails)
	}
	return out
}

func renderDetails(detail map[string]any) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		switch k {
		case DetailAlertName, DetailSeverity, DetailTriggeredAt:
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "No metric details."
	}
	slices.Sort(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, detail[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
