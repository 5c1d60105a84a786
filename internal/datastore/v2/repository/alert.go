package repository

import (
	"context"
	"time"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

// AlertRepository handles alert definitions and their firing history.
type AlertRepository interface {
	// Definition CRUD
	ListDefinitions(ctx context.Context, filter AlertDefinitionFilter) ([]entities.AlertDefinition, error)
	GetDefinition(ctx context.Context, id uint) (*entities.AlertDefinition, error)
	CreateDefinition(ctx context.Context, def *entities.AlertDefinition) error
	UpdateDefinition(ctx context.Context, def *entities.AlertDefinition) error
	DeleteDefinition(ctx context.Context, id uint) error
	ToggleDefinition(ctx context.Context, id uint, active bool) error
	CountDefinitionsByName(ctx context.Context, name string) (int64, error)

	// Evaluation bookkeeping
	ListActive(ctx context.Context) ([]entities.AlertDefinition, error)
	MarkChecked(ctx context.Context, id uint, at time.Time) error
	// RecordTrigger bumps the definition's trigger count and last-triggered
	// time and inserts history in one transaction. The update is conditional
	// on the trigger count the caller observed; ErrConcurrentTrigger when
	// another evaluation got there first.
	RecordTrigger(ctx context.Context, def *entities.AlertDefinition, history *entities.AlertHistory) error
	LinkNotification(ctx context.Context, historyID, notificationID uint) error

	// History
	GetHistory(ctx context.Context, id uint) (*entities.AlertHistory, error)
	ListHistory(ctx context.Context, filter AlertHistoryFilter) ([]entities.AlertHistory, int64, error)
	ListOpenHistory(ctx context.Context, alertID uint) ([]entities.AlertHistory, error)
	// ListEscalationCandidates returns unescalated triggered rows with their
	// definition preloaded.
	ListEscalationCandidates(ctx context.Context, limit int) ([]entities.AlertHistory, error)
	// TransitionHistory applies updates only when the status is one of from.
	TransitionHistory(ctx context.Context, id uint, from []entities.AlertStatus, updates map[string]any) error
	// MarkEscalated sets the escalation flag once. It returns false when the
	// row was already escalated or is no longer triggered.
	MarkEscalated(ctx context.Context, id uint, at time.Time) (bool, error)
	SetEscalationNotification(ctx context.Context, historyID, notificationID uint) error
	// DeleteHistoryBefore removes closed history triggered before the cutoff.
	DeleteHistoryBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertDefinitionFilter controls definition listing.
type AlertDefinitionFilter struct {
	Active   *bool
	Severity entities.Severity
}

// AlertHistoryFilter controls history listing.
type AlertHistoryFilter struct {
	AlertID uint
	Status  entities.AlertStatus
	Limit   int
	Offset  int
}
