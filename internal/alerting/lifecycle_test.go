package alerting

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
)

func TestManager_Acknowledge(t *testing.T) {
	env := newTestEnv(t)
	def := env.definition(t, "cpu")
	h := env.fire(t, def)

	env.clock.Advance(12 * time.Minute)
	got, err := env.manager.Acknowledge(t.Context(), h.ID, 7, "looking")
	require.NoError(t, err)

	assert.Equal(t, entities.AlertAcknowledged, got.Status)
	require.NotNil(t, got.AcknowledgedBy)
	assert.EqualValues(t, 7, *got.AcknowledgedBy)
	assert.Equal(t, "looking", got.AcknowledgeNotes)
	require.NotNil(t, got.TimeToAcknowledgeMinutes)
	assert.Equal(t, 12, *got.TimeToAcknowledgeMinutes)
	require.NotNil(t, got.AcknowledgedDate)
	assert.True(t, got.AcknowledgedDate.Equal(env.clock.Now()))
}

func TestManager_Resolve(t *testing.T) {
	for _, acknowledgeFirst := range []bool{false, true} {
		name := "from triggered"
		if acknowledgeFirst {
			name = "from acknowledged"
		}
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			h := env.fire(t, env.definition(t, "cpu"))
			if acknowledgeFirst {
				_, err := env.manager.Acknowledge(t.Context(), h.ID, 7, "")
				require.NoError(t, err)
			}

			env.clock.Advance(45 * time.Minute)
			got, err := env.manager.Resolve(t.Context(), h.ID, 8, "restarted worker")
			require.NoError(t, err)
			assert.Equal(t, entities.AlertResolved, got.Status)
			require.NotNil(t, got.ResolvedBy)
			assert.EqualValues(t, 8, *got.ResolvedBy)
			assert.Equal(t, "restarted worker", got.ResolutionNotes)
			require.NotNil(t, got.TimeToResolveMinutes)
			assert.Equal(t, 45, *got.TimeToResolveMinutes)
		})
	}
}

func TestManager_Cancel(t *testing.T) {
	env := newTestEnv(t)
	h := env.fire(t, env.definition(t, "cpu"))

	got, err := env.manager.Cancel(t.Context(), h.ID, 3, "false positive")
	require.NoError(t, err)
	assert.Equal(t, entities.AlertCancelled, got.Status)
	require.NotNil(t, got.CancelledBy)
	assert.EqualValues(t, 3, *got.CancelledBy)
	assert.NotNil(t, got.CancelledDate)
}

func TestManager_InvalidTransitions(t *testing.T) {
	env := newTestEnv(t)
	def := env.definition(t, "cpu")

	resolved := env.fire(t, def)
	_, err := env.manager.Resolve(t.Context(), resolved.ID, 1, "")
	require.NoError(t, err)

	acked := env.fire(t, def)
	_, err = env.manager.Acknowledge(t.Context(), acked.ID, 1, "")
	require.NoError(t, err)

	tests := []struct {
		name string
		op   func() error
	}{
		{"acknowledge resolved", func() error {
			_, err := env.manager.Acknowledge(t.Context(), resolved.ID, 1, "")
			return err
		}},
		{"acknowledge twice", func() error {
			_, err := env.manager.Acknowledge(t.Context(), acked.ID, 1, "")
			return err
		}},
		{"resolve resolved", func() error {
			_, err := env.manager.Resolve(t.Context(), resolved.ID, 1, "")
			return err
		}},
		{"cancel resolved", func() error {
			_, err := env.manager.Cancel(t.Context(), resolved.ID, 1, "")
			return err
		}},
		{"auto-resolve resolved", func() error {
			_, err := env.manager.AutoResolve(t.Context(), resolved.ID)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			require.ErrorIs(t, err, ErrInvalidStateTransition)
			assert.True(t, errors.IsCategory(err, errors.CategoryStateTransition))
		})
	}

	h, err := env.repos.Alerts.GetHistory(t.Context(), resolved.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.AlertResolved, h.Status, "a rejected transition changes nothing")
}

func TestManager_UnknownHistory(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.manager.Acknowledge(t.Context(), 404, 1, "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestManager_ConcurrentAcknowledge(t *testing.T) {
	env := newTestEnv(t)
	h := env.fire(t, env.definition(t, "cpu"))

	const callers = 6
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Go(func() {
			_, errs[i] = env.manager.Acknowledge(t.Context(), h.ID, uint(i+1), "")
		})
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
	}
	assert.Equal(t, 1, succeeded)
}

func escalating(after int) func(*entities.AlertDefinition) {
	return func(d *entities.AlertDefinition) {
		d.EscalationRules = datatypes.NewJSONType(entities.EscalationRules{
			AfterMinutes: after,
			Recipients: entities.RecipientSpec{
				Targets: []entities.RecipientTarget{{Type: entities.TargetRole, ID: "admin"}},
			},
			Channels: []entities.ChannelType{entities.ChannelSMS},
		})
	}
}

func TestManager_EscalateDue(t *testing.T) {
	env := newTestEnv(t)
	def := env.definition(t, "cpu", escalating(30))
	h := env.fire(t, def)

	// Exactly at the delay is not yet past it.
	env.clock.Advance(30 * time.Minute)
	n, err := env.manager.EscalateDue(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)

	env.clock.Advance(time.Minute)
	n, err = env.manager.EscalateDue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reqs := env.creator.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, TemplateAlertEscalated, req.TemplateCode)
	assert.Equal(t, "admin", req.Recipients.Targets[0].ID)
	assert.Equal(t, []entities.ChannelType{entities.ChannelSMS}, req.Overrides.Channels)
	require.NotNil(t, req.Overrides.Priority)
	assert.Equal(t, entities.PriorityUrgent, *req.Overrides.Priority)
	assert.Equal(t, "31", req.Placeholders["MinutesOpen"])

	got, err := env.repos.Alerts.GetHistory(t.Context(), h.ID)
	require.NoError(t, err)
	assert.True(t, got.IsEscalated)
	require.NotNil(t, got.EscalatedDate)
	require.NotNil(t, got.EscalationNotificationID)
	assert.EqualValues(t, 101, *got.EscalationNotificationID)
	assert.Equal(t, entities.AlertTriggered, got.Status, "escalation does not change status")

	// Repeated sweeps never escalate the same row again.
	for range 3 {
		env.clock.Advance(10 * time.Minute)
		n, err = env.manager.EscalateDue(t.Context())
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Len(t, env.creator.Requests(), 1)
}

func TestManager_EscalateDueSkips(t *testing.T) {
	env := newTestEnv(t)

	acked := env.fire(t, env.definition(t, "acked", escalating(5)))
	_, err := env.manager.Acknowledge(t.Context(), acked.ID, 1, "")
	require.NoError(t, err)

	env.fire(t, env.definition(t, "no rules"))

	defaultRecipients := env.fire(t, env.definition(t, "fallback", func(d *entities.AlertDefinition) {
		d.EscalationRules = datatypes.NewJSONType(entities.EscalationRules{AfterMinutes: 5, Priority: "high"})
	}))

	env.clock.Advance(time.Hour)
	n, err := env.manager.EscalateDue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the unacknowledged row with rules escalates")

	reqs := env.creator.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "ops", reqs[0].Recipients.Targets[0].ID, "falls back to the definition's recipients")
	assert.Equal(t, entities.PriorityHigh, *reqs[0].Overrides.Priority)
	assert.Equal(t, "fallback", reqs[0].Placeholders[DetailAlertName])

	got, err := env.repos.Alerts.GetHistory(t.Context(), defaultRecipients.ID)
	require.NoError(t, err)
	assert.True(t, got.IsEscalated)
}

func TestManager_EscalationFailureIsNotRetried(t *testing.T) {
	env := newTestEnv(t)
	h := env.fire(t, env.definition(t, "cpu", escalating(5)))
	env.creator.err = assert.AnError

	env.clock.Advance(10 * time.Minute)
	n, err := env.manager.EscalateDue(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)

	env.creator.err = nil
	n, err = env.manager.EscalateDue(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := env.repos.Alerts.GetHistory(t.Context(), h.ID)
	require.NoError(t, err)
	assert.True(t, got.IsEscalated)
	assert.Nil(t, got.EscalationNotificationID)
}
