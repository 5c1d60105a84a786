package alerting

import (
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
)

// ErrInvalidDefinition marks an alert definition that cannot be stored.
var ErrInvalidDefinition = errors.NewStd("invalid alert definition")

// ValidateDefinition checks the fields an operator supplies when creating or
// editing a definition. Evaluation bookkeeping is not inspected.
func ValidateDefinition(def *entities.AlertDefinition) error {
	switch {
	case def.Name == "":
		return invalidDefinition("name is required")
	case def.TriggerCondition.Data().IsZero():
		return invalidDefinition("trigger condition is required")
	case def.CheckFrequencyMinutes < 1:
		return invalidDefinition("check frequency must be at least one minute")
	case !def.Severity.Valid():
		return invalidDefinition("unknown severity %q", def.Severity)
	case def.TemplateID == 0:
		return invalidDefinition("template_id is required")
	case def.Recipients.Data().IsEmpty():
		return invalidDefinition("at least one recipient is required")
	case def.CooldownMinutes < 0:
		return invalidDefinition("cooldown cannot be negative")
	}

	for _, ch := range def.Channels {
		if !ch.Valid() {
			return invalidDefinition("unknown channel %q", ch)
		}
	}

	if err := ValidateCondition(def.TriggerCondition.Data()); err != nil {
		return err
	}
	if auto := def.AutoResolveCondition.Data(); !auto.IsZero() {
		if err := ValidateCondition(auto); err != nil {
			return err
		}
	}

	rules := def.EscalationRules.Data()
	if rules.AfterMinutes < 0 {
		return invalidDefinition("escalation delay cannot be negative")
	}
	if rules.Priority != "" {
		if _, err := entities.ParsePriority(rules.Priority); err != nil {
			return invalidDefinition("escalation priority: %v", err)
		}
	}
	for _, ch := range rules.Channels {
		if !ch.Valid() {
			return invalidDefinition("unknown escalation channel %q", ch)
		}
	}
	return nil
}

func invalidDefinition(format string, args ...any) error {
	return errors.Newf("%w: "+format, append([]any{ErrInvalidDefinition}, args...)...).
		Component(componentAlerting).
		Category(errors.CategoryValidation).
		Build()
}
