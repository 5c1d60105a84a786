package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
)

type templateRepository struct {
	db *gorm.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &templateRepository{db: db}
}

func (r *templateRepository) GetByCode(ctx context.Context, code string) (*entities.NotificationTemplate, error) {
	var tmpl entities.NotificationTemplate
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&tmpl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template %q: %w", code, err)
	}
	return &tmpl, nil
}

func (r *templateRepository) GetByID(ctx context.Context, id uint) (*entities.NotificationTemplate, error) {
	var tmpl entities.NotificationTemplate
	if err := r.db.WithContext(ctx).First(&tmpl, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template %d: %w", id, err)
	}
	return &tmpl, nil
}

func (r *templateRepository) List(ctx context.Context, filter TemplateFilter) ([]entities.NotificationTemplate, error) {
	var templates []entities.NotificationTemplate
	query := r.db.WithContext(ctx)
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	if filter.Type != "" {
		query = query.Where("notification_type = ?", filter.Type)
	}
	if err := query.Order("code ASC").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

func (r *templateRepository) Create(ctx context.Context, tmpl *entities.NotificationTemplate) error {
	if err := r.db.WithContext(ctx).Create(tmpl).Error; err != nil {
		return fmt.Errorf("failed to create template %q: %w", tmpl.Code, err)
	}
	return nil
}

func (r *templateRepository) Update(ctx context.Context, tmpl *entities.NotificationTemplate) error {
	if tmpl.ID == 0 {
		return fmt.Errorf("failed to update template: missing template ID")
	}
	result := r.db.WithContext(ctx).Model(tmpl).Select("*").Omit("id", "created_at").Updates(tmpl)
	if result.Error != nil {
		return fmt.Errorf("failed to update template %d: %w", tmpl.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *templateRepository) Delete(ctx context.Context, id uint) error {
	tmpl, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if tmpl.IsSystemTemplate {
		return ErrSystemTemplate
	}
	if err := r.db.WithContext(ctx).Delete(&entities.NotificationTemplate{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete template %d: %w", id, err)
	}
	return nil
}

func (r *templateRepository) EnsureSystemTemplates(ctx context.Context, templates []entities.NotificationTemplate) (int64, error) {
	if len(templates) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(&templates)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to seed system templates: %w", result.Error)
	}
	return result.RowsAffected, nil
}
