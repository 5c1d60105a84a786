package alerting

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/MochamaB/FormReporting-sub006/internal/clock"
	datastore "github.com/MochamaB/FormReporting-sub006/internal/datastore/v2"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/notification"
)

var (
	testDBSeq atomic.Int64
	testNow   = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=ON", name, testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gorm_logger.Default.LogMode(gorm_logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(datastore.Models()...))
	return db
}

// recordingCreator stands in for the notification service.
type recordingCreator struct {
	mu       sync.Mutex
	requests []notification.CreateRequest
	err      error
}

func (c *recordingCreator) CreateNotification(_ context.Context, req notification.CreateRequest) (*notification.CreateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.requests = append(c.requests, req)
	return &notification.CreateResult{NotificationID: uint(100 + len(c.requests)), Recipients: 1}, nil
}

func (c *recordingCreator) Requests() []notification.CreateRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notification.CreateRequest(nil), c.requests...)
}

// staticSource is a MetricSource with fixed samples and sustained answers.
type staticSource struct {
	samples   map[string]MetricSample
	sustained map[string]bool
}

func (s staticSource) Latest(name string) (MetricSample, bool) {
	v, ok := s.samples[name]
	return v, ok
}

func (s staticSource) IsSustained(name, _ string, _ float64, _ time.Duration, _ time.Time) bool {
	return s.sustained[name]
}

type testEnv struct {
	repos   *repository.Repositories
	clock   *clock.FakeClock
	creator *recordingCreator
	tracker *MetricTracker
	manager *Manager
	engine  *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repos := repository.New(setupTestDB(t))
	clk := clock.NewFake(testNow)
	creator := &recordingCreator{}
	tracker := NewMetricTracker()

	dispatcher := NewActionDispatcher(creator, repos.Templates, logger.Discard())
	manager := NewManager(repos.Alerts, dispatcher, clk, nil, logger.Discard())
	engine := NewEngine(EngineConfig{
		Alerts:    repos.Alerts,
		Evaluator: NewMetricEvaluator(tracker, DefaultMaxSampleAge),
		Notifier:  dispatcher,
		Lifecycle: manager,
		Clock:     clk,
		Logger:    logger.Discard(),
	})
	return &testEnv{
		repos:   repos,
		clock:   clk,
		creator: creator,
		tracker: tracker,
		manager: manager,
		engine:  engine,
	}
}

// record stores a sample stamped with the current fake time.
func (e *testEnv) record(name string, value float64) {
	e.tracker.Record(MetricSample{Name: name, Value: value, Timestamp: e.clock.Now()})
}

func threshold(metric, op, value string) entities.ConditionSpec {
	return entities.ConditionSpec{Kind: KindThreshold, Metric: metric, Operator: op, Value: value}
}

func (e *testEnv) definition(t *testing.T, name string, mutate ...func(*entities.AlertDefinition)) *entities.AlertDefinition {
	t.Helper()
	def := &entities.AlertDefinition{
		Name:                  name,
		TriggerCondition:      datatypes.NewJSONType(threshold(MetricCPUUsage, OperatorGreaterThan, "90")),
		CheckFrequencyMinutes: 1,
		Severity:              entities.SeverityWarning,
		Recipients: datatypes.NewJSONType(entities.RecipientSpec{
			Targets: []entities.RecipientTarget{{Type: entities.TargetRole, ID: "ops"}},
		}),
		CooldownMinutes: 60,
		IsActive:        true,
	}
	for _, m := range mutate {
		m(def)
	}
	require.NoError(t, e.repos.Alerts.CreateDefinition(t.Context(), def))
	return def
}

func (e *testEnv) reload(t *testing.T, id uint) *entities.AlertDefinition {
	t.Helper()
	def, err := e.repos.Alerts.GetDefinition(t.Context(), id)
	require.NoError(t, err)
	return def
}

func (e *testEnv) history(t *testing.T, alertID uint) []entities.AlertHistory {
	t.Helper()
	items, _, err := e.repos.Alerts.ListHistory(t.Context(), repository.AlertHistoryFilter{AlertID: alertID})
	require.NoError(t, err)
	return items
}

// fire records a trigger directly and returns the history row.
func (e *testEnv) fire(t *testing.T, def *entities.AlertDefinition) *entities.AlertHistory {
	t.Helper()
	h := &entities.AlertHistory{TriggeredDate: e.clock.Now(), TriggerDetails: datatypes.JSONMap{}}
	require.NoError(t, e.repos.Alerts.RecordTrigger(t.Context(), def, h))
	return h
}
