package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

func TestAlertRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAlertRepository(db)
	ctx := t.Context()

	tmpl := createTestTemplate(t, db, "ALERT")
	def := createTestDefinition(t, db, "cpu high", tmpl.ID)

	got, err := repo.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "cpu high", got.Name)
	assert.Equal(t, "threshold", got.TriggerCondition.Data().Kind)
	assert.Equal(t, []uint{1, 2}, got.Recipients.Data().UserIDs)
	assert.Equal(t, 30, got.EscalationRules.Data().AfterMinutes)
	assert.True(t, got.AutoResolveCondition.Data().IsZero())

	_, err = repo.GetDefinition(ctx, 999)
	require.ErrorIs(t, err, ErrAlertNotFound)

	count, err := repo.CountDefinitionsByName(ctx, "cpu high")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAlertRepository_UpdateKeepsBookkeeping(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAlertRepository(db)
	ctx := t.Context()

	tmpl := createTestTemplate(t, db, "ALERT")
	def := createTestDefinition(t, db, "disk", tmpl.ID)

	require.NoError(t, repo.RecordTrigger(ctx, def, &entities.AlertHistory{TriggeredDate: testNow}))
	require.NoError(t, repo.MarkChecked(ctx, def.ID, testNow))

	edit := *def
	edit.LastTriggeredDate = nil
	edit.LastCheckDate = nil
	edit.TriggerCount = 0
	edit.CooldownMinutes = 15
	edit.TriggerCondition = datatypes.NewJSONType(entities.ConditionSpec{Kind: "constant", Value: "true"})
	require.NoError(t, repo.UpdateDefinition(ctx, &edit))

	got, err := repo.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, got.CooldownMinutes)
	assert.Equal(t, "constant", got.TriggerCondition.Data().Kind)
	assert.Equal(t, 1, got.TriggerCount)
	assert.NotNil(t, got.LastTriggeredDate)
	assert.NotNil(t, got.LastCheckDate)
}

func TestAlertRepository_ToggleAndListActive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAlertRepository(db)
	ctx := t.Context()

	tmpl := createTestTemplate(t, db, "ALERT")
	a := createTestDefinition(t, db, "a", tmpl.ID)
	createTestDefinition(t, db, "b", tmpl.ID)

	require.NoError(t, repo.ToggleDefinition(ctx, a.ID, false))
	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].Name)

	require.ErrorIs(t, repo.ToggleDefinition(ctx, 999, true), ErrAlertNotFound)
}

func TestAlertRepository_RecordTriggerIsConditional(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAlertRepository(db)
	ctx := t.Context()

	tmpl := createTestTemplate(t, db, "ALERT")
	def := createTestDefinition(t, db, "cpu", tmpl.ID)
	stale := *def

	h := &entities.AlertHistory{TriggeredDate: testNow, TriggerDetails: datatypes.JSONMap{"value": 95.0}}
	require.NoError(t, repo.RecordTrigger(ctx, def, h))
	assert.Equal(t, entities.AlertTriggered, h.Status)
	assert.Equal(t, 1, def.TriggerCount)

	// A second evaluator working from the same snapshot loses the race.
	err := repo.RecordTrigger(ctx, &stale, &entities.AlertHistory{TriggeredDate: testNow})
	require.ErrorIs(t, err, ErrConcurrentTrigger)

	_, total, err := repo.ListHistory(ctx, AlertHistoryFilter{AlertID: def.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	n := createTestNotification(t, db, 1)
	require.NoError(t, repo.LinkNotification(ctx, h.ID, n.ID))
	got, err := repo.GetHistory(ctx, h.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NotificationID)
	assert.Equal(t, n.ID, *got.NotificationID)
	assert.Equal(t, "cpu", got.Alert.Name)
	assert.InDelta(t, 95.0, got.TriggerDetails["value"], 0.001)
}

func TestAlertRepository_HistoryTransitions(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAlertRepository(db)
	ctx := t.Context()

	tmpl := createTestTemplate(t, db, "ALERT")
	def := createTestDefinition(t, db, "cpu", tmpl.ID)
	h := &entities.AlertHistory{TriggeredDate: testNow}
	require.NoError(t, repo.RecordTrigger(ctx, def, h))

	open, err := repo.ListOpenHistory(ctx, def.ID)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	require.NoError(t, repo.TransitionHistory(ctx, h.ID,
		[]entities.AlertStatus{entities.AlertTriggered, entities.AlertAcknowledged},
		map[string]any{"status": entities.AlertResolved, "resolved_date": testNow}))

	err = repo.TransitionHistory(ctx, h.ID,
		[]entities.AlertStatus{entities.AlertTriggered},
		map[string]any{"status": entities.AlertAcknowledged})
	require.ErrorIs(t, err, ErrStaleTransition)

	err = repo.TransitionHistory(ctx, 999, []entities.AlertStatus{entities.AlertTriggered}, map[string]any{"status": entities.AlertAcknowledged})
	require.ErrorIs(t, err, ErrAlertHistoryNotFound)

	open, err = repo.ListOpenHistory(ctx, def.ID)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestAlertRepository_MarkEscalatedOnce(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAlertRepository(db)
	ctx := t.Context()

	tmpl := createTestTemplate(t, db, "ALERT")
	def := createTestDefinition(t, db, "cpu", tmpl.ID)
	h := &entities.AlertHistory{TriggeredDate: testNow}
	require.NoError(t, repo.RecordTrigger(ctx, def, h))

	candidates, err := repo.ListEscalationCandidates(ctx, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 30, candidates[0].Alert.EscalationRules.Data().AfterMinutes)

	ok, err := repo.MarkEscalated(ctx, h.ID, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkEscalated(ctx, h.ID, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	candidates, err = repo.ListEscalationCandidates(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestAlertRepository_DeleteHistoryBefore(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAlertRepository(db)
	ctx := t.Context()

	tmpl := createTestTemplate(t, db, "ALERT")
	def := createTestDefinition(t, db, "cpu", tmpl.ID)

	old := &entities.AlertHistory{TriggeredDate: testNow.Add(-100 * 24 * time.Hour)}
	require.NoError(t, repo.RecordTrigger(ctx, def, old))
	require.NoError(t, repo.TransitionHistory(ctx, old.ID, entities.OpenAlertStatuses,
		map[string]any{"status": entities.AlertResolved}))

	oldOpen := &entities.AlertHistory{TriggeredDate: testNow.Add(-99 * 24 * time.Hour)}
	require.NoError(t, repo.RecordTrigger(ctx, def, oldOpen))

	recent := &entities.AlertHistory{TriggeredDate: testNow}
	require.NoError(t, repo.RecordTrigger(ctx, def, recent))
	require.NoError(t, repo.TransitionHistory(ctx, recent.ID, entities.OpenAlertStatuses,
		map[string]any{"status": entities.AlertCancelled}))

	deleted, err := repo.DeleteHistoryBefore(ctx, testNow.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted, "open history is kept regardless of age")

	_, total, err := repo.ListHistory(ctx, AlertHistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	items, _, err := repo.ListHistory(ctx, AlertHistoryFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, recent.ID, items[0].ID, "newest first")
}

func TestAlertRepository_DeleteCascadesHistory(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAlertRepository(db)
	ctx := t.Context()

	tmpl := createTestTemplate(t, db, "ALERT")
	def := createTestDefinition(t, db, "cpu", tmpl.ID)
	require.NoError(t, repo.RecordTrigger(ctx, def, &entities.AlertHistory{TriggeredDate: testNow}))

	require.NoError(t, repo.DeleteDefinition(ctx, def.ID))
	require.ErrorIs(t, repo.DeleteDefinition(ctx, def.ID), ErrAlertNotFound)

	_, total, err := repo.ListHistory(ctx, AlertHistoryFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}
