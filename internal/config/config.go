// -- internal/config/config.go --
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object for webpilot.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Learner LearnerConfig `mapstructure:"learner" yaml:"learner"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the controlled Chromium surface.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	DisableGPU      bool     `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ViewportWidth   int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int      `mapstructure:"viewport_height" yaml:"viewport_height"`
	UserAgent       string   `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string `mapstructure:"args" yaml:"args"`
}

// AgentConfig tunes the run controller and its perception pipeline.
type AgentConfig struct {
	// MaxSteps is the per-run step budget. Hard-capped at MaxStepsCeiling.
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`

	// StepTimeout bounds a single model decision plus its tool batch.
	StepTimeout time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`

	// Frame stability polling.
	StabilityInterval  time.Duration `mapstructure:"stability_interval" yaml:"stability_interval"`
	StabilityTimeout   time.Duration `mapstructure:"stability_timeout" yaml:"stability_timeout"`
	StabilityThreshold float64       `mapstructure:"stability_threshold" yaml:"stability_threshold"`

	// Readiness wait before pointer actions.
	ReadinessTimeout time.Duration `mapstructure:"readiness_timeout" yaml:"readiness_timeout"`
	ReadinessSettle  time.Duration `mapstructure:"readiness_settle" yaml:"readiness_settle"`

	// DriftThreshold aborts pointer actions when the page no longer matches
	// the last stabilized frame. Empirically chosen; tune per target.
	DriftThreshold float64 `mapstructure:"drift_threshold" yaml:"drift_threshold"`

	// ViewportTolerance is the relative disagreement between the frame's
	// recorded viewport and the live one beyond which the live viewport wins.
	ViewportTolerance float64 `mapstructure:"viewport_tolerance" yaml:"viewport_tolerance"`

	// Frame output geometry.
	FrameMaxWidth  int `mapstructure:"frame_max_width" yaml:"frame_max_width"`
	FrameMaxHeight int `mapstructure:"frame_max_height" yaml:"frame_max_height"`
}

// MaxStepsCeiling is the absolute upper bound on a run's step budget,
// regardless of configuration.
const MaxStepsCeiling = 50

// LLMConfig configures the decision model endpoint.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// LearnerConfig controls the post-run self-improvement pass.
type LearnerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Model   string `mapstructure:"model" yaml:"model"`
	// StorePath is the JSON file holding learned instructions. Empty keeps
	// the store in memory only. "~" expands to the user home directory.
	StorePath string `mapstructure:"store_path" yaml:"store_path"`
	// MaxPerMinute throttles learner invocations across back-to-back runs.
	MaxPerMinute float64 `mapstructure:"max_per_minute" yaml:"max_per_minute"`
}

// SetDefaults registers every configuration default on the given viper
// instance. Called before any config file or env binding is read.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "webpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport_width", 1440)
	v.SetDefault("browser.viewport_height", 900)

	// -- Agent --
	v.SetDefault("agent.max_steps", 15)
	v.SetDefault("agent.step_timeout", "120s")
	v.SetDefault("agent.stability_interval", "250ms")
	v.SetDefault("agent.stability_timeout", "2s")
	v.SetDefault("agent.stability_threshold", 0.018)
	v.SetDefault("agent.readiness_timeout", "1200ms")
	v.SetDefault("agent.readiness_settle", "250ms")
	v.SetDefault("agent.drift_threshold", 0.04)
	v.SetDefault("agent.viewport_tolerance", 0.08)
	v.SetDefault("agent.frame_max_width", 1440)
	v.SetDefault("agent.frame_max_height", 900)

	// -- LLM --
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "120s")
	v.SetDefault("llm.temperature", 0.4)
	v.SetDefault("llm.max_tokens", 8192)

	// -- Learner --
	v.SetDefault("learner.enabled", true)
	v.SetDefault("learner.model", "gemini-2.5-flash")
	v.SetDefault("learner.store_path", "~/.webpilot/instructions.json")
	v.SetDefault("learner.max_per_minute", 2.0)
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("llm.api_key", "WEBPILOT_LLM_API_KEY", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.MaxSteps > MaxStepsCeiling {
		return fmt.Errorf("agent.max_steps must not exceed %d", MaxStepsCeiling)
	}
	if c.Agent.StabilityInterval <= 0 || c.Agent.StabilityTimeout <= 0 {
		return fmt.Errorf("agent stability interval and timeout must be positive durations")
	}
	if c.Agent.StabilityThreshold <= 0 || c.Agent.StabilityThreshold >= 1 {
		return fmt.Errorf("agent.stability_threshold must be in (0, 1)")
	}
	if c.Agent.DriftThreshold <= 0 || c.Agent.DriftThreshold >= 1 {
		return fmt.Errorf("agent.drift_threshold must be in (0, 1)")
	}
	if c.Agent.ViewportTolerance < 0 || c.Agent.ViewportTolerance >= 1 {
		return fmt.Errorf("agent.viewport_tolerance must be in [0, 1)")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if err := c.Learner.Validate(); err != nil {
		return fmt.Errorf("learner configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the learner settings.
func (l *LearnerConfig) Validate() error {
	if !l.Enabled {
		return nil
	}
	if l.Model == "" {
		return fmt.Errorf("model is required when the learner is enabled")
	}
	if l.MaxPerMinute <= 0 {
		return fmt.Errorf("max_per_minute must be greater than 0")
	}
	return nil
}
