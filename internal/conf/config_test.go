package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MochamaB/FormReporting-sub006/internal/errors"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", s.Database.Driver)
	assert.Equal(t, 8, s.Dispatcher.Workers)
	assert.Equal(t, time.Minute, s.Scheduler.AlertTick.Std())
	assert.Equal(t, 2*time.Minute, s.Dispatcher.ClaimLease.Std())
	assert.Equal(t, 90, s.Scheduler.HistoryRetentionDays)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notify.yaml")
	content := `
database:
  driver: mysql
  dsn: "user:pass@tcp(localhost:3306)/notify?parseTime=true"
dispatcher:
  workers: 3
  claim_lease: 90s
scheduler:
  escalation_sweep: 15s
providers:
  shoutrrr:
    sms: "generic://sms.example.com/send"
directory:
  users:
    - id: 7
      addresses:
        email: ann@example.com
      roles: [ops]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("NOTIFY_HTTP_LISTEN", ":9999")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", s.Database.Driver)
	assert.Equal(t, 3, s.Dispatcher.Workers)
	assert.Equal(t, 90*time.Second, s.Dispatcher.ClaimLease.Std())
	assert.Equal(t, 15*time.Second, s.Scheduler.EscalationSweep.Std())
	assert.Equal(t, ":9999", s.HTTP.Listen)
	assert.Equal(t, "generic://sms.example.com/send", s.Providers.Shoutrrr["sms"])
	require.Len(t, s.Directory.Users, 1)
	assert.Equal(t, uint(7), s.Directory.Users[0].ID)
	assert.Equal(t, "ann@example.com", s.Directory.Users[0].Addresses["email"])
	assert.Equal(t, []string{"ops"}, s.Directory.Users[0].Roles)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
}

func TestSettings_Validate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(s *Settings)
		want   string
	}{
		{"unknown driver", func(s *Settings) { s.Database.Driver = "postgres" }, "unknown database.driver"},
		{"mysql without dsn", func(s *Settings) { s.Database.Driver = "mysql" }, "database.dsn is required"},
		{"zero workers", func(s *Settings) { s.Dispatcher.Workers = 0 }, "dispatcher.workers"},
		{"zero tick", func(s *Settings) { s.Scheduler.AlertTick = 0 }, "scheduler.alert_tick"},
		{"bad log format", func(s *Settings) { s.Log.Format = "xml" }, "log.format"},
		{"mqtt without broker", func(s *Settings) { s.MQTT.Enabled = true; s.MQTT.Broker = "" }, "mqtt.broker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := *base
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
}
