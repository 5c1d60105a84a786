package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/MochamaB/FormReporting-sub006/internal/clock"
	"github.com/MochamaB/FormReporting-sub006/internal/conf"
	datastore "github.com/MochamaB/FormReporting-sub006/internal/datastore/v2"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
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

// recordingSender records every message and fails according to script.
type recordingSender struct {
	mu       sync.Mutex
	messages []Message
	script   func(call int, msg Message) error
}

func (s *recordingSender) Send(_ context.Context, msg Message) (string, error) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	call := len(s.messages)
	s.mu.Unlock()
	if s.script != nil {
		if err := s.script(call, msg); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("ext-%d", msg.DeliveryID), nil
}

func (s *recordingSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *recordingSender) Last() Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[len(s.messages)-1]
}

type testEnv struct {
	db      *gorm.DB
	repos   *repository.Repositories
	clock   *clock.FakeClock
	svc     *Service
	senders map[entities.ChannelType]*recordingSender
}

func testDirectory() *StaticDirectory {
	return NewStaticDirectory([]conf.DirectoryUser{
		{ID: 1, Addresses: map[string]string{"email": "one@example.com", "sms": "+15550001"}, Roles: []string{"ops"}},
		{ID: 2, Addresses: map[string]string{"email": "two@example.com"}, Roles: []string{"ops"}, Departments: []string{"finance"}},
		{ID: 3, Addresses: map[string]string{"email": "three@example.com"}, Departments: []string{"finance"}},
	})
}

// failingDirectory wraps the test directory and fails lookups for the
// listed users and role/department ids.
type failingDirectory struct {
	*StaticDirectory
	users   map[uint]bool
	targets map[string]bool
}

func (d *failingDirectory) Address(ctx context.Context, userID uint, channel entities.ChannelType) (string, error) {
	if d.users[userID] {
		return "", fmt.Errorf("directory timeout for user %d", userID)
	}
	return d.StaticDirectory.Address(ctx, userID, channel)
}

func (d *failingDirectory) ExpandRoleOrDepartment(ctx context.Context, targetType, id string) ([]uint, error) {
	if d.targets[id] {
		return nil, fmt.Errorf("directory timeout for %s %s", targetType, id)
	}
	return d.StaticDirectory.ExpandRoleOrDepartment(ctx, targetType, id)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	directory := testDirectory()
	return newTestEnvWithDirectory(t, directory, directory)
}

func newTestEnvWithDirectory(t *testing.T, members MembershipLookup, addresses AddressBook) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	repos := repository.New(db)
	clk := clock.NewFake(testNow)

	cfg := DefaultDispatcherConfig()
	cfg.RatePerSecond = 0
	svc := NewService(&ServiceConfig{
		Repos:      repos,
		Members:    members,
		Addresses:  addresses,
		Dispatcher: cfg,
		Clock:      clk,
		Logger:     logger.Discard(),
	})

	env := &testEnv{
		db:      db,
		repos:   repos,
		clock:   clk,
		svc:     svc,
		senders: make(map[entities.ChannelType]*recordingSender),
	}
	for _, ch := range entities.AllChannelTypes {
		sender := &recordingSender{}
		env.senders[ch] = sender
		svc.Dispatcher().Register(ch, sender)
	}
	_, err := repos.Templates.EnsureSystemTemplates(t.Context(), SystemTemplates())
	require.NoError(t, err)
	return env
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	require.NoError(t, e.svc.Start(t.Context()))
}

func (e *testEnv) channel(t *testing.T, name string, typ entities.ChannelType, mutate ...func(*entities.NotificationChannel)) *entities.NotificationChannel {
	t.Helper()
	ch := &entities.NotificationChannel{
		Name:              name,
		Type:              typ,
		IsEnabled:         true,
		MaxRetries:        3,
		RetryDelayMinutes: 5,
	}
	for _, m := range mutate {
		m(ch)
	}
	require.NoError(t, e.repos.Channels.Create(t.Context(), ch))
	return ch
}

func (e *testEnv) template(t *testing.T, code string, channels ...entities.ChannelType) *entities.NotificationTemplate {
	t.Helper()
	tmpl := &entities.NotificationTemplate{
		Code:            code,
		Name:            code,
		SubjectTemplate: "Report {{ReportName}} due",
		BodyTemplate:    "{{ReportName}} is due on {{DueDate}}",
		Placeholders:    []string{"ReportName", "DueDate"},
		DefaultPriority: entities.PriorityNormal,
		DefaultChannels: channels,
		IsActive:        true,
	}
	require.NoError(t, e.repos.Templates.Create(t.Context(), tmpl))
	return tmpl
}

func (e *testEnv) delivery(t *testing.T, id uint) *entities.NotificationDelivery {
	t.Helper()
	d, err := e.repos.Deliveries.Get(t.Context(), id)
	require.NoError(t, err)
	return d
}

func dueValues() map[string]string {
	return map[string]string{"ReportName": "Q1", "DueDate": "2026-04-30"}
}
