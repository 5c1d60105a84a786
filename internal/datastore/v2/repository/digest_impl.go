package repository

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

type digestRepository struct {
	db *gorm.DB
}

// NewDigestRepository creates a new DigestRepository.
func NewDigestRepository(db *gorm.DB) DigestRepository {
	return &digestRepository{db: db}
}

func (r *digestRepository) Enqueue(ctx context.Context, entry *entities.DigestEntry) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "channel_id"}, {Name: "notification_id"}},
		DoNothing: true,
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to enqueue digest entry for user %d: %w", entry.UserID, err)
	}
	return nil
}

func (r *digestRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]entities.DigestEntry, error) {
	var entries []entities.DigestEntry
	query := r.db.WithContext(ctx).
		Where("flushed_date IS NULL AND due_date <= ?", now).
		Order("due_date ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list due digest entries: %w", err)
	}
	return entries, nil
}

func (r *digestRepository) MarkFlushed(ctx context.Context, ids []uint, at time.Time, digestNotificationID uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&entities.DigestEntry{}).
		Where("id IN ? AND flushed_date IS NULL", ids).
		Updates(map[string]any{"flushed_date": at, "delivery_notification_id": digestNotificationID})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark digest entries flushed: %w", result.Error)
	}
	return result.RowsAffected, nil
}


func (r *digestRepository) MarkFailed(ctx context.Context, ids []uint, at time.Time, reason string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&entities.DigestEntry{}).
		Where("id IN ? AND flushed_date IS NULL", ids).
		Updates(map[string]any{"flushed_date": at, "failure_reason": truncate(reason, 500)})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to retire digest entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *digestRepository) RecordAttempt(ctx context.Context, ids []uint, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&entities.DigestEntry{}).
		Where("id IN ? AND flushed_date IS NULL", ids).
		Updates(map[string]any{
			"attempts":       gorm.Expr("attempts + 1"),
			"failure_reason": truncate(reason, 500),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record digest attempt: %w", err)
	}
	return nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
