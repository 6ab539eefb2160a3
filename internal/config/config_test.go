// -- internal/config/config_test.go --
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestNewConfigFromViper_Defaults(t *testing.T) {
	v := newDefaultViper()

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "webpilot", cfg.Logger.ServiceName)
	assert.Equal(t, 15, cfg.Agent.MaxSteps)
	assert.Equal(t, 250*time.Millisecond, cfg.Agent.StabilityInterval)
	assert.Equal(t, 2*time.Second, cfg.Agent.StabilityTimeout)
	assert.InDelta(t, 0.018, cfg.Agent.StabilityThreshold, 1e-9)
	assert.InDelta(t, 0.04, cfg.Agent.DriftThreshold, 1e-9)
	assert.InDelta(t, 0.08, cfg.Agent.ViewportTolerance, 1e-9)
	assert.Equal(t, 1440, cfg.Agent.FrameMaxWidth)
	assert.Equal(t, 900, cfg.Agent.FrameMaxHeight)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Learner.Enabled)
}

func TestNewConfigFromViper_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(v *viper.Viper)
		wantErr string
	}{
		{
			name:    "zero max steps",
			mutate:  func(v *viper.Viper) { v.Set("agent.max_steps", 0) },
			wantErr: "agent.max_steps",
		},
		{
			name:    "max steps above ceiling",
			mutate:  func(v *viper.Viper) { v.Set("agent.max_steps", 51) },
			wantErr: "must not exceed 50",
		},
		{
			name:    "stability threshold out of range",
			mutate:  func(v *viper.Viper) { v.Set("agent.stability_threshold", 1.5) },
			wantErr: "stability_threshold",
		},
		{
			name:    "drift threshold out of range",
			mutate:  func(v *viper.Viper) { v.Set("agent.drift_threshold", 0.0) },
			wantErr: "drift_threshold",
		},
		{
			name:    "negative viewport",
			mutate:  func(v *viper.Viper) { v.Set("browser.viewport_width", -1) },
			wantErr: "viewport dimensions",
		},
		{
			name: "learner enabled without model",
			mutate: func(v *viper.Viper) {
				v.Set("learner.enabled", true)
				v.Set("learner.model", "")
			},
			wantErr: "learner configuration invalid",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := newDefaultViper()
			tc.mutate(v)

			_, err := NewConfigFromViper(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLearnerConfigValidate_DisabledSkipsChecks(t *testing.T) {
	l := LearnerConfig{Enabled: false}
	assert.NoError(t, l.Validate())
}

func TestNewConfigFromViper_FileOverrides(t *testing.T) {
	v := newDefaultViper()
	v.Set("agent.max_steps", 30)
	v.Set("agent.step_timeout", "45s")
	v.Set("llm.model", "gemini-2.5-pro")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Agent.MaxSteps)
	assert.Equal(t, 45*time.Second, cfg.Agent.StepTimeout)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
}
