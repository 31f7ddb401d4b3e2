// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/wayfarer-cli/internal/retrypolicy"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	// Workspace roots the fs and shell tool domains.
	Workspace WorkspaceConfig `mapstructure:"workspace" yaml:"workspace"`
}

// LoggerConfig holds all the configuration for the logger.
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

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser session.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache      bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// ViewportConfig sets the browser window dimensions.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// WorkspaceConfig roots the local tool domains.
type WorkspaceConfig struct {
	Root         string        `mapstructure:"root" yaml:"root"`
	ShellTimeout time.Duration `mapstructure:"shell_timeout" yaml:"shell_timeout"`
}

// AgentConfig holds the execution-core settings. It is supplied at agent
// construction and immutable for the agent's lifetime.
type AgentConfig struct {
	MaxSteps            int                `mapstructure:"max_steps" yaml:"max_steps"`
	MaxResultsToTry     int                `mapstructure:"max_results_to_try" yaml:"max_results_to_try"`
	ActTimeout          time.Duration      `mapstructure:"act_timeout" yaml:"act_timeout"`
	LLMInferenceTimeout time.Duration      `mapstructure:"llm_inference_timeout" yaml:"llm_inference_timeout"`
	MaxHistorySize      int                `mapstructure:"max_history_size" yaml:"max_history_size"`
	HighlightElements   bool               `mapstructure:"highlight_elements" yaml:"highlight_elements"`
	RetainDetail        bool               `mapstructure:"retain_detail" yaml:"retain_detail"`
	Retry               retrypolicy.Policy `mapstructure:"retry" yaml:"retry"`
	LLM                 LLMRouterConfig    `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGeminiHTTP LLMProvider = "gemini-http" // Raw REST transport with backoff retries.
	ProviderGemini     LLMProvider = "gemini"      // Official genai SDK.
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	RequestsPerSecond    float64                   `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst                int                       `mapstructure:"burst" yaml:"burst"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float64       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// SafetyFilters maps harm categories to block thresholds, passed through
	// to the provider verbatim.
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "wayfarer-cli")
	v.SetDefault("logger.log_file", "wayfarer.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 800)

	// -- Workspace --
	v.SetDefault("workspace.root", ".")
	v.SetDefault("workspace.shell_timeout", "60s")

	// -- Agent core --
	v.SetDefault("agent.max_steps", 40)
	v.SetDefault("agent.max_results_to_try", 3)
	v.SetDefault("agent.act_timeout", "120s")
	v.SetDefault("agent.llm_inference_timeout", "60s")
	v.SetDefault("agent.max_history_size", 100)
	v.SetDefault("agent.highlight_elements", true)
	v.SetDefault("agent.retain_detail", false)

	// -- Agent retry policy --
	v.SetDefault("agent.retry.initial_delay", "500ms")
	v.SetDefault("agent.retry.max_delay", "30s")
	v.SetDefault("agent.retry.multiplier", 2.0)
	v.SetDefault("agent.retry.jitter_fraction", 0.25)

	// -- LLM routing --
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("agent.llm.requests_per_second", 1.0)
	v.SetDefault("agent.llm.burst", 2)
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
// Construction-time configuration errors are the one class of failure the
// caller sees as a returned error rather than a result flag.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
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
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the agent execution-core settings.
func (a *AgentConfig) Validate() error {
	if a.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be a positive integer")
	}
	if a.MaxResultsToTry <= 0 {
		return fmt.Errorf("max_results_to_try must be a positive integer")
	}
	if a.ActTimeout <= 0 {
		return fmt.Errorf("act_timeout must be a positive duration")
	}
	if a.LLMInferenceTimeout <= 0 {
		return fmt.Errorf("llm_inference_timeout must be a positive duration")
	}
	if a.MaxHistorySize <= 0 {
		return fmt.Errorf("max_history_size must be a positive integer")
	}
	if err := a.Retry.Validate(); err != nil {
		return err
	}
	return nil
}
