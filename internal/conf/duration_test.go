package conf

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_JSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected Duration
		wantErr  bool
	}{
		{"string", `"5m"`, Duration(5 * time.Minute), false},
		{"compound", `"1h30m"`, Duration(90 * time.Minute), false},
		{"seconds number", `30`, Duration(30 * time.Second), false},
		{"null", `null`, 0, false},
		{"garbage", `"soon"`, 0, true},
		{"bool", `true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var d Duration
			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}

	b, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"1m30s"`, string(b))
}

func TestDuration_YAML(t *testing.T) {
	t.Parallel()

	var cfg struct {
		Tick  Duration `yaml:"tick"`
		Sweep Duration `yaml:"sweep"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("tick: 1m\nsweep: 45\n"), &cfg))
	assert.Equal(t, Duration(time.Minute), cfg.Tick)
	assert.Equal(t, Duration(45*time.Second), cfg.Sweep)

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "tick: 1m0s")

	require.Error(t, yaml.Unmarshal([]byte("tick: [1, 2]\n"), &cfg))
}

func TestDurationDecodeHook(t *testing.T) {
	t.Parallel()

	var target struct {
		Interval Duration      `mapstructure:"interval"`
		Timeout  time.Duration `mapstructure:"timeout"`
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DurationDecodeHook(),
		Result:     &target,
	})
	require.NoError(t, err)
	require.NoError(t, dec.Decode(map[string]any{"interval": "2m", "timeout": "3s"}))

	assert.Equal(t, 2*time.Minute, target.Interval.Std())
	assert.Equal(t, 3*time.Second, target.Timeout)
}
