// Package conf loads and validates notifyd settings.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MochamaB/FormReporting-sub006/internal/errors"
)

// EnvPrefix is prepended to every environment override, e.g. NOTIFY_HTTP_LISTEN.
const EnvPrefix = "NOTIFY"

// Settings is the root configuration.
type Settings struct {
	Log           LogSettings           `mapstructure:"log" yaml:"log"`
	Database      DatabaseSettings      `mapstructure:"database" yaml:"database"`
	HTTP          HTTPSettings          `mapstructure:"http" yaml:"http"`
	Dispatcher    DispatcherSettings    `mapstructure:"dispatcher" yaml:"dispatcher"`
	Scheduler     SchedulerSettings     `mapstructure:"scheduler" yaml:"scheduler"`
	Providers     ProviderSettings      `mapstructure:"providers" yaml:"providers"`
	MQTT          MQTTSettings          `mapstructure:"mqtt" yaml:"mqtt"`
	SystemMetrics SystemMetricsSettings `mapstructure:"system_metrics" yaml:"system_metrics"`
	Telemetry     TelemetrySettings     `mapstructure:"telemetry" yaml:"telemetry"`
	Directory     DirectorySettings     `mapstructure:"directory" yaml:"directory"`
}

// LogSettings controls the process logger.
type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// DatabaseSettings selects and tunes the datastore.
type DatabaseSettings struct {
	Driver          string   `mapstructure:"driver" yaml:"driver"` // sqlite or mysql
	Path            string   `mapstructure:"path" yaml:"path"`     // sqlite file
	DSN             string   `mapstructure:"dsn" yaml:"dsn"`       // mysql dsn
	MaxOpenConns    int      `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int      `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	Debug           bool     `mapstructure:"debug" yaml:"debug"`
}

// HTTPSettings configures the API server.
type HTTPSettings struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// DispatcherSettings bounds delivery concurrency and provider pressure.
type DispatcherSettings struct {
	Workers        int      `mapstructure:"workers" yaml:"workers"`
	RatePerSecond  float64  `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst          int      `mapstructure:"burst" yaml:"burst"`
	SendTimeout    Duration `mapstructure:"send_timeout" yaml:"send_timeout"`
	RetryBatchSize int      `mapstructure:"retry_batch_size" yaml:"retry_batch_size"`
	ClaimLease     Duration `mapstructure:"claim_lease" yaml:"claim_lease"`
}

// SchedulerSettings holds the periodic task intervals.
type SchedulerSettings struct {
	AlertTick            Duration `mapstructure:"alert_tick" yaml:"alert_tick"`
	RetrySweep           Duration `mapstructure:"retry_sweep" yaml:"retry_sweep"`
	EscalationSweep      Duration `mapstructure:"escalation_sweep" yaml:"escalation_sweep"`
	DigestFlush          Duration `mapstructure:"digest_flush" yaml:"digest_flush"`
	CounterReset         Duration `mapstructure:"counter_reset" yaml:"counter_reset"`
	HistoryCleanup       Duration `mapstructure:"history_cleanup" yaml:"history_cleanup"`
	HistoryRetentionDays int      `mapstructure:"history_retention_days" yaml:"history_retention_days"`
}

// SMTPSettings configures the email sender.
type SMTPSettings struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	From     string `mapstructure:"from" yaml:"from"`
}

// ProviderSettings configures the channel senders.
type ProviderSettings struct {
	SMTP SMTPSettings `mapstructure:"smtp" yaml:"smtp"`
	// Shoutrrr maps a channel name to a shoutrrr service URL. A literal
	// "{address}" in the URL is replaced by the recipient address.
	Shoutrrr       map[string]string `mapstructure:"shoutrrr" yaml:"shoutrrr"`
	WebhookTimeout Duration          `mapstructure:"webhook_timeout" yaml:"webhook_timeout"`
	NatsURL        string            `mapstructure:"nats_url" yaml:"nats_url"`
}

// MQTTSettings configures the metric bridge.
type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// SystemMetricsSettings configures the host metrics collector.
type SystemMetricsSettings struct {
	Enabled  bool     `mapstructure:"enabled" yaml:"enabled"`
	Interval Duration `mapstructure:"interval" yaml:"interval"`
	DiskPath string   `mapstructure:"disk_path" yaml:"disk_path"`
}

// DirectoryUser is one user known to the static directory.
type DirectoryUser struct {
	ID          uint              `mapstructure:"id" yaml:"id"`
	Addresses   map[string]string `mapstructure:"addresses" yaml:"addresses"` // channel type -> address
	Roles       []string          `mapstructure:"roles" yaml:"roles"`
	Departments []string          `mapstructure:"departments" yaml:"departments"`
}

// DirectorySettings is the static user directory used for role and
// department expansion and for recipient addresses.
type DirectorySettings struct {
	Users []DirectoryUser `mapstructure:"users" yaml:"users"`
}

// TelemetrySettings configures error reporting.
type TelemetrySettings struct {
	SentryDSN   string `mapstructure:"sentry_dsn" yaml:"sentry_dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "notify.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.debug", false)

	v.SetDefault("http.listen", ":8080")
	v.SetDefault("http.api_key", "")

	v.SetDefault("dispatcher.workers", 8)
	v.SetDefault("dispatcher.rate_per_second", 10.0)
	v.SetDefault("dispatcher.burst", 20)
	v.SetDefault("dispatcher.send_timeout", "30s")
	v.SetDefault("dispatcher.retry_batch_size", 100)
	v.SetDefault("dispatcher.claim_lease", "2m")

	v.SetDefault("scheduler.alert_tick", "1m")
	v.SetDefault("scheduler.retry_sweep", "30s")
	v.SetDefault("scheduler.escalation_sweep", "1m")
	v.SetDefault("scheduler.digest_flush", "5m")
	v.SetDefault("scheduler.counter_reset", "1m")
	v.SetDefault("scheduler.history_cleanup", "24h")
	v.SetDefault("scheduler.history_retention_days", 90)

	v.SetDefault("providers.smtp.host", "")
	v.SetDefault("providers.smtp.port", 587)
	v.SetDefault("providers.smtp.username", "")
	v.SetDefault("providers.smtp.password", "")
	v.SetDefault("providers.smtp.from", "")
	v.SetDefault("providers.webhook_timeout", "10s")
	v.SetDefault("providers.nats_url", "")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "notify/metrics/#")
	v.SetDefault("mqtt.client_id", "notifyd")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")

	v.SetDefault("system_metrics.enabled", false)
	v.SetDefault("system_metrics.interval", "30s")
	v.SetDefault("system_metrics.disk_path", "/")

	v.SetDefault("telemetry.sentry_dsn", "")
	v.SetDefault("telemetry.environment", "production")
}

// Load reads settings from path (optional) and NOTIFY_ environment variables.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Newf("failed to read config file: %w", err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("path", path).
				Build()
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.Newf("failed to decode config: %w", err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings the service cannot run with.
func (s *Settings) Validate() error {
	var problems []string

	switch s.Database.Driver {
	case "sqlite":
		if s.Database.Path == "" {
			problems = append(problems, "database.path is required for sqlite")
		}
	case "mysql":
		if s.Database.DSN == "" {
			problems = append(problems, "database.dsn is required for mysql")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown database.driver %q", s.Database.Driver))
	}

	if s.Log.Format != "text" && s.Log.Format != "json" {
		problems = append(problems, fmt.Sprintf("unknown log.format %q", s.Log.Format))
	}
	if s.Dispatcher.Workers <= 0 {
		problems = append(problems, "dispatcher.workers must be positive")
	}
	if s.Dispatcher.RetryBatchSize <= 0 {
		problems = append(problems, "dispatcher.retry_batch_size must be positive")
	}
	if s.Dispatcher.RatePerSecond < 0 {
		problems = append(problems, "dispatcher.rate_per_second must not be negative")
	}

	intervals := map[string]Duration{
		"dispatcher.send_timeout":    s.Dispatcher.SendTimeout,
		"dispatcher.claim_lease":     s.Dispatcher.ClaimLease,
		"scheduler.alert_tick":       s.Scheduler.AlertTick,
		"scheduler.retry_sweep":      s.Scheduler.RetrySweep,
		"scheduler.escalation_sweep": s.Scheduler.EscalationSweep,
		"scheduler.digest_flush":     s.Scheduler.DigestFlush,
		"scheduler.counter_reset":    s.Scheduler.CounterReset,
		"scheduler.history_cleanup":  s.Scheduler.HistoryCleanup,
	}
	for _, key := range sortedKeys(intervals) {
		if intervals[key].Std() <= 0 {
			problems = append(problems, key+" must be positive")
		}
	}
	if s.SystemMetrics.Enabled && s.SystemMetrics.Interval.Std() < time.Second {
		problems = append(problems, "system_metrics.interval must be at least 1s")
	}
	seen := make(map[uint]struct{}, len(s.Directory.Users))
	for _, u := range s.Directory.Users {
		if u.ID == 0 {
			problems = append(problems, "directory.users[].id must be positive")
			continue
		}
		if _, dup := seen[u.ID]; dup {
			problems = append(problems, fmt.Sprintf("directory user %d listed twice", u.ID))
		}
		seen[u.ID] = struct{}{}
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		problems = append(problems, "mqtt.broker is required when mqtt is enabled")
	}

	if len(problems) > 0 {
		return errors.Newf("invalid configuration: %s", strings.Join(problems, "; ")).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("problems", len(problems)).
			Build()
	}
	return nil
}
