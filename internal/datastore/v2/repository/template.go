package repository

import (
	"context"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

// TemplateRepository stores notification templates.
type TemplateRepository interface {
	GetByCode(ctx context.Context, code string) (*entities.NotificationTemplate, error)
	GetByID(ctx context.Context, id uint) (*entities.NotificationTemplate, error)
	List(ctx context.Context, filter TemplateFilter) ([]entities.NotificationTemplate, error)
	Create(ctx context.Context, tmpl *entities.NotificationTemplate) error
	Update(ctx context.Context, tmpl *entities.NotificationTemplate) error
	// Delete refuses system templates with ErrSystemTemplate.
	Delete(ctx context.Context, id uint) error
	// EnsureSystemTemplates inserts every template whose code is missing and
	// returns how many were created.
	EnsureSystemTemplates(ctx context.Context, templates []entities.NotificationTemplate) (int64, error)
}

// TemplateFilter controls template listing.
type TemplateFilter struct {
	ActiveOnly bool
	Type       string
}
