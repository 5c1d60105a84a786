package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MochamaB/FormReporting-sub006/internal/clock"
	"github.com/MochamaB/FormReporting-sub006/internal/conf"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/notification"
)

func TestSeedDefaults(t *testing.T) {
	repos := repository.New(setupTestDB(t))

	require.NoError(t, SeedDefaults(t.Context(), repos, logger.Discard()))
	defs, err := repos.Alerts.ListDefinitions(t.Context(), repository.AlertDefinitionFilter{})
	require.NoError(t, err)
	require.Len(t, defs, len(DefaultDefinitions(0)))

	tmpl, err := repos.Templates.GetByCode(t.Context(), TemplateAlertTriggered)
	require.NoError(t, err)
	for _, d := range defs {
		assert.Equal(t, tmpl.ID, d.TemplateID)
	}
	_, err = repos.Templates.GetByCode(t.Context(), TemplateAlertEscalated)
	require.NoError(t, err)

	// A deleted default comes back; an edited one is left alone.
	require.NoError(t, repos.Alerts.DeleteDefinition(t.Context(), defs[0].ID))
	require.NoError(t, repos.Alerts.ToggleDefinition(t.Context(), defs[1].ID, false))

	require.NoError(t, SeedDefaults(t.Context(), repos, logger.Discard()))
	again, err := repos.Alerts.ListDefinitions(t.Context(), repository.AlertDefinitionFilter{})
	require.NoError(t, err)
	assert.Len(t, again, len(defs))

	edited, err := repos.Alerts.GetDefinition(t.Context(), defs[1].ID)
	require.NoError(t, err)
	assert.False(t, edited.IsActive)
}

// inboxSender records in-app messages per user.
type inboxSender struct {
	mu       sync.Mutex
	messages map[uint][]notification.Message
}

func (s *inboxSender) Send(_ context.Context, msg notification.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages == nil {
		s.messages = make(map[uint][]notification.Message)
	}
	s.messages[msg.UserID] = append(s.messages[msg.UserID], msg)
	return "inbox", nil
}

func (s *inboxSender) For(userID uint) []notification.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Message(nil), s.messages[userID]...)
}

func TestSystem_MetricToInbox(t *testing.T) {
	repos := repository.New(setupTestDB(t))
	clk := clock.NewFake(testNow)
	directory := notification.NewStaticDirectory([]conf.DirectoryUser{
		{ID: 1, Roles: []string{DefaultAdminRole}, Addresses: map[string]string{"email": "admin@example.com"}},
		{ID: 2, Roles: []string{"staff"}},
	})

	dispatcherCfg := notification.DefaultDispatcherConfig()
	dispatcherCfg.RatePerSecond = 0
	svc := notification.NewService(&notification.ServiceConfig{
		Repos:      repos,
		Members:    directory,
		Addresses:  directory,
		Dispatcher: dispatcherCfg,
		Clock:      clk,
		Logger:     logger.Discard(),
	})
	inbox := &inboxSender{}
	svc.Dispatcher().Register(entities.ChannelInApp, inbox)

	require.NoError(t, SeedDefaults(t.Context(), repos, logger.Discard()))
	require.NoError(t, svc.Start(t.Context()))

	sys := New(Config{Repos: repos, Notifications: svc, Clock: clk, Logger: logger.Discard()})
	t.Cleanup(sys.Stop)

	require.True(t, sys.Bus.Publish(MetricSample{Name: MetricOverdueReports, Value: 3, Timestamp: clk.Now()}))
	require.Eventually(t, func() bool {
		_, ok := sys.Tracker.Latest(MetricOverdueReports)
		return ok
	}, time.Second, 5*time.Millisecond)

	res, err := sys.Engine.Tick(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered(), "only the overdue-reports default has data")
	assert.Equal(t, 3, res.Outcomes[OutcomeUnavailable])

	msgs := inbox.For(1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "[warning] Overdue reports", msgs[0].Subject)
	assert.Contains(t, msgs[0].Body, "reports_overdue_count: 3")
	assert.Empty(t, inbox.For(2))

	items, total, err := svc.Inbox(t.Context(), 1, repository.InboxFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "alert", items[0].Notification.Type)

	// Nobody acknowledges: the escalation goes to the admin role as well.
	clk.Advance(31 * time.Minute)
	escalated, err := sys.Manager.EscalateDue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, escalated)
	require.Len(t, inbox.For(1), 2)
	assert.Contains(t, inbox.For(1)[1].Subject, "[ESCALATED] Overdue reports")
}

func TestNew_FallsBackToInstalledNotificationService(t *testing.T) {
	notification.ResetForTesting()
	t.Cleanup(notification.ResetForTesting)
	repos := repository.New(setupTestDB(t))

	sys := New(Config{Repos: repos, Logger: logger.Discard()})
	t.Cleanup(sys.Stop)
	assert.Nil(t, sys.Dispatcher.creator)

	svc := notification.Initialize(&notification.ServiceConfig{Repos: repos, Logger: logger.Discard()})
	installed := New(Config{Repos: repos, Logger: logger.Discard()})
	t.Cleanup(installed.Stop)
	assert.Same(t, svc, installed.Dispatcher.creator)

	creator := &recordingCreator{}
	overridden := New(Config{Repos: repos, Notifications: creator, Logger: logger.Discard()})
	t.Cleanup(overridden.Stop)
	assert.Same(t, creator, overridden.Dispatcher.creator)
}
