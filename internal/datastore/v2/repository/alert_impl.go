package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
)

// alertRepository implements AlertRepository.
type alertRepository struct {
	db *gorm.DB
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(db *gorm.DB) AlertRepository {
	return &alertRepository{db: db}
}

// ListDefinitions returns alert definitions matching the filter.
func (r *alertRepository) ListDefinitions(ctx context.Context, filter AlertDefinitionFilter) ([]entities.AlertDefinition, error) {
	var defs []entities.AlertDefinition
	query := r.db.WithContext(ctx)
	if filter.Active != nil {
		query = query.Where("is_active = ?", *filter.Active)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if err := query.Order("id ASC").Find(&defs).Error; err != nil {
		return nil, fmt.Errorf("failed to list alert definitions: %w", err)
	}
	return defs, nil
}

// GetDefinition returns ErrAlertNotFound if the definition does not exist.
func (r *alertRepository) GetDefinition(ctx context.Context, id uint) (*entities.AlertDefinition, error) {
	var def entities.AlertDefinition
	if err := r.db.WithContext(ctx).First(&def, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert definition %d: %w", id, err)
	}
	return &def, nil
}

func (r *alertRepository) CreateDefinition(ctx context.Context, def *entities.AlertDefinition) error {
	if err := r.db.WithContext(ctx).Create(def).Error; err != nil {
		return fmt.Errorf("failed to create alert definition: %w", err)
	}
	return nil
}

// UpdateDefinition replaces the editable fields. Evaluation bookkeeping
// (last checked, last triggered, trigger count) is left untouched.
func (r *alertRepository) UpdateDefinition(ctx context.Context, def *entities.AlertDefinition) error {
	if def.ID == 0 {
		return fmt.Errorf("failed to update alert definition: missing definition ID")
	}
	result := r.db.WithContext(ctx).Model(def).
		Select("*").
		Omit("id", "created_at", "last_triggered_date", "last_check_date", "trigger_count").
		Updates(def)
	if result.Error != nil {
		return fmt.Errorf("failed to update alert definition %d: %w", def.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// DeleteDefinition deletes a definition and its history via cascade.
func (r *alertRepository) DeleteDefinition(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&entities.AlertDefinition{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete alert definition %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func (r *alertRepository) ToggleDefinition(ctx context.Context, id uint, active bool) error {
	if _, err := r.GetDefinition(ctx, id); err != nil {
		return err
	}
	err := r.db.WithContext(ctx).Model(&entities.AlertDefinition{}).Where("id = ?", id).Update("is_active", active).Error
	if err != nil {
		return fmt.Errorf("failed to toggle alert definition %d: %w", id, err)
	}
	return nil
}

func (r *alertRepository) CountDefinitionsByName(ctx context.Context, name string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.AlertDefinition{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count definitions by name: %w", err)
	}
	return count, nil
}

func (r *alertRepository) ListActive(ctx context.Context) ([]entities.AlertDefinition, error) {
	active := true
	return r.ListDefinitions(ctx, AlertDefinitionFilter{Active: &active})
}

func (r *alertRepository) MarkChecked(ctx context.Context, id uint, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&entities.AlertDefinition{}).Where("id = ?", id).Update("last_check_date", at).Error
	if err != nil {
		return fmt.Errorf("failed to mark alert definition %d checked: %w", id, err)
	}
	return nil
}

func (r *alertRepository) RecordTrigger(ctx context.Context, def *entities.AlertDefinition, history *entities.AlertHistory) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entities.AlertDefinition{}).
			Where("id = ? AND trigger_count = ?", def.ID, def.TriggerCount).
			Updates(map[string]any{
				"last_triggered_date": history.TriggeredDate,
				"trigger_count":       gorm.Expr("trigger_count + 1"),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to record trigger for alert %d: %w", def.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrConcurrentTrigger
		}

		history.AlertID = def.ID
		history.Status = entities.AlertTriggered
		if err := tx.Omit("Alert").Create(history).Error; err != nil {
			return fmt.Errorf("failed to save alert history: %w", err)
		}

		triggeredAt := history.TriggeredDate
		def.LastTriggeredDate = &triggeredAt
		def.TriggerCount++
		return nil
	})
}

func (r *alertRepository) LinkNotification(ctx context.Context, historyID, notificationID uint) error {
	err := r.db.WithContext(ctx).Model(&entities.AlertHistory{}).Where("id = ?", historyID).Update("notification_id", notificationID).Error
	if err != nil {
		return fmt.Errorf("failed to link notification to alert history %d: %w", historyID, err)
	}
	return nil
}

func (r *alertRepository) GetHistory(ctx context.Context, id uint) (*entities.AlertHistory, error) {
	var h entities.AlertHistory
	if err := r.db.WithContext(ctx).Preload("Alert").First(&h, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertHistoryNotFound
		}
		return nil, fmt.Errorf("failed to get alert history %d: %w", id, err)
	}
	return &h, nil
}

// ListHistory returns history entries matching the filter with pagination.
func (r *alertRepository) ListHistory(ctx context.Context, filter AlertHistoryFilter) ([]entities.AlertHistory, int64, error) {
	apply := func(q *gorm.DB) *gorm.DB {
		if filter.AlertID > 0 {
			q = q.Where("alert_id = ?", filter.AlertID)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		return q
	}

	var total int64
	if err := apply(r.db.WithContext(ctx).Model(&entities.AlertHistory{})).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alert history: %w", err)
	}

	var items []entities.AlertHistory
	query := apply(r.db.WithContext(ctx).Preload("Alert")).Order("triggered_date DESC, id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alert history: %w", err)
	}
	return items, total, nil
}

func (r *alertRepository) ListOpenHistory(ctx context.Context, alertID uint) ([]entities.AlertHistory, error) {
	var items []entities.AlertHistory
	err := r.db.WithContext(ctx).
		Where("alert_id = ? AND status IN ?", alertID, entities.OpenAlertStatuses).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open history for alert %d: %w", alertID, err)
	}
	return items, nil
}

func (r *alertRepository) ListEscalationCandidates(ctx context.Context, limit int) ([]entities.AlertHistory, error) {
	var items []entities.AlertHistory
	query := r.db.WithContext(ctx).Preload("Alert").
		Where("status = ? AND is_escalated = ?", entities.AlertTriggered, false).
		Order("triggered_date ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list escalation candidates: %w", err)
	}
	return items, nil
}

func (r *alertRepository) TransitionHistory(ctx context.Context, id uint, from []entities.AlertStatus, updates map[string]any) error {
	result := r.db.WithContext(ctx).Model(&entities.AlertHistory{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to transition alert history %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetHistory(ctx, id); err != nil {
			return err
		}
		return ErrStaleTransition
	}
	return nil
}

func (r *alertRepository) MarkEscalated(ctx context.Context, id uint, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entities.AlertHistory{}).
		Where("id = ? AND status = ? AND is_escalated = ?", id, entities.AlertTriggered, false).
		Updates(map[string]any{"is_escalated": true, "escalated_date": at})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark alert history %d escalated: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *alertRepository) SetEscalationNotification(ctx context.Context, historyID, notificationID uint) error {
	err := r.db.WithContext(ctx).Model(&entities.AlertHistory{}).
		Where("id = ?", historyID).
		Update("escalation_notification_id", notificationID).Error
	if err != nil {
		return fmt.Errorf("failed to link escalation notification to alert history %d: %w", historyID, err)
	}
	return nil
}

func (r *alertRepository) DeleteHistoryBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("triggered_date < ? AND status IN ?", before,
			[]entities.AlertStatus{entities.AlertResolved, entities.AlertAutoResolved, entities.AlertCancelled}).
		Delete(&entities.AlertHistory{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete alert history before %v: %w", before, result.Error)
	}
	return result.RowsAffected, nil
}
