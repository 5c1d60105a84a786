package repository

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

var testDBSeq atomic.Int64

// setupTestDB creates a private in-memory SQLite database with the full
// schema. A single connection keeps every query on the same database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=ON", name, testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err, "failed to open in-memory database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "failed to get sql.DB")
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(
		&entities.NotificationTemplate{},
		&entities.NotificationChannel{},
		&entities.Notification{},
		&entities.NotificationRecipient{},
		&entities.NotificationDelivery{},
		&entities.UserNotificationPreference{},
		&entities.DigestEntry{},
		&entities.AlertDefinition{},
		&entities.AlertHistory{},
	)
	require.NoError(t, err, "failed to migrate tables")
	return db
}

var testNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func createTestTemplate(t *testing.T, db *gorm.DB, code string) *entities.NotificationTemplate {
	t.Helper()
	tmpl := &entities.NotificationTemplate{
		Code:            code,
		Name:            code,
		SubjectTemplate: "Subject {{Name}}",
		BodyTemplate:    "Body {{Name}}",
		Placeholders:    datatypes.JSONSlice[string]{"Name"},
		DefaultPriority: entities.PriorityNormal,
		IsActive:        true,
	}
	require.NoError(t, NewTemplateRepository(db).Create(t.Context(), tmpl))
	return tmpl
}

func createTestChannel(t *testing.T, db *gorm.DB, name string, typ entities.ChannelType) *entities.NotificationChannel {
	t.Helper()
	ch := &entities.NotificationChannel{
		Name:              name,
		Type:              typ,
		IsEnabled:         true,
		MaxRetries:        3,
		RetryDelayMinutes: 5,
	}
	require.NoError(t, NewChannelRepository(db).Create(t.Context(), ch))
	return ch
}

func createTestNotification(t *testing.T, db *gorm.DB, userIDs ...uint) *entities.Notification {
	t.Helper()
	n := &entities.Notification{
		Type:     "general",
		Title:    "title",
		Message:  "message",
		Priority: entities.PriorityNormal,
		IsActive: true,
	}
	require.NoError(t, NewNotificationRepository(db).CreateWithRecipients(t.Context(), n, userIDs))
	return n
}

func createTestDefinition(t *testing.T, db *gorm.DB, name string, templateID uint) *entities.AlertDefinition {
	t.Helper()
	def := &entities.AlertDefinition{
		Name: name,
		TriggerCondition: datatypes.NewJSONType(entities.ConditionSpec{
			Kind: "threshold", Metric: "system.cpu_usage", Operator: "greater_than", Value: "90",
		}),
		CheckFrequencyMinutes: 5,
		Severity:              entities.SeverityWarning,
		TemplateID:            templateID,
		Recipients:            datatypes.NewJSONType(entities.RecipientSpec{UserIDs: []uint{1, 2}}),
		CooldownMinutes:       60,
		EscalationRules: datatypes.NewJSONType(entities.EscalationRules{
			AfterMinutes: 30,
			Recipients:   entities.RecipientSpec{UserIDs: []uint{9}},
		}),
		AutoResolveCondition: datatypes.NewJSONType(entities.ConditionSpec{}),
		IsActive:             true,
	}
	require.NoError(t, NewAlertRepository(db).CreateDefinition(t.Context(), def))
	return def
}
