// Package repository provides gorm-backed storage for the notification and
// alerting subsystem. State changes that can race are written as conditional
// updates so concurrent workers never overwrite each other.
package repository

import "gorm.io/gorm"

// Repositories bundles every repository over one connection.
type Repositories struct {
	Templates     TemplateRepository
	Notifications NotificationRepository
	Channels      ChannelRepository
	Deliveries    DeliveryRepository
	Preferences   PreferenceRepository
	Digests       DigestRepository
	Alerts        AlertRepository
}

// New creates every repository over db.
func New(db *gorm.DB) *Repositories {
	return &Repositories{
		Templates:     NewTemplateRepository(db),
		Notifications: NewNotificationRepository(db),
		Channels:      NewChannelRepository(db),
		Deliveries:    NewDeliveryRepository(db),
		Preferences:   NewPreferenceRepository(db),
		Digests:       NewDigestRepository(db),
		Alerts:        NewAlertRepository(db),
	}
}
