package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MochamaB/FormReporting-sub006/internal/alerting"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/notification"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "notify.yaml")
	body := "log:\n  level: warn\ndatabase:\n  driver: sqlite\n  path: " + filepath.Join(dir, "notify.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := newRootCommand()
	names := make([]string, 0)
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "seed", "tick"})
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestSeedCommand(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "--config", cfg, "seed")
	require.NoError(t, err)
	// Seeding twice is harmless.
	_, err = execute(t, "--config", cfg, "seed")
	require.NoError(t, err)

	a, err := newApp(cfg, &bytes.Buffer{})
	require.NoError(t, err)
	defer a.Close()
	defs, err := a.repos.Alerts.ListDefinitions(t.Context(), repository.AlertDefinitionFilter{})
	require.NoError(t, err)
	assert.Len(t, defs, len(alerting.DefaultDefinitions(0)))
}

func TestTickCommand(t *testing.T) {
	t.Cleanup(notification.ResetForTesting)
	cfg := writeConfig(t)

	_, err := execute(t, "--config", cfg, "seed")
	require.NoError(t, err)

	out, err := execute(t, "--config", cfg, "tick", "--task", taskAlertTick, "--task", taskCounterReset)
	require.NoError(t, err, out)
	assert.NotContains(t, out, "task failed")
}

func TestTickCommand_UnknownTask(t *testing.T) {
	t.Cleanup(notification.ResetForTesting)
	cfg := writeConfig(t)

	_, err := execute(t, "--config", cfg, "tick", "--task", "nope")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestNewApp_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: oracle\n"), 0o600))

	_, err := newApp(path, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestNewScheduler_RegistersEveryTask(t *testing.T) {
	t.Cleanup(notification.ResetForTesting)
	a, err := newApp(writeConfig(t), &bytes.Buffer{})
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.migrate())
	require.NoError(t, a.buildServices())

	sched, err := a.newScheduler()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		taskAlertTick, taskRetrySweep, taskEscalation,
		taskDigestFlush, taskCounterReset, taskHistoryCleanup,
	}, sched.Tasks())
}

func TestTickCommand_Defaults(t *testing.T) {
	t.Cleanup(notification.ResetForTesting)
	cfg := writeConfig(t)

	out, err := execute(t, "--config", cfg, "tick")
	require.NoError(t, err, out)
	assert.Equal(t, []string{taskAlertTick, taskRetrySweep, taskEscalation}, defaultTickTasks)
}
