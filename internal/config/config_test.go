// internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Spot-check key defaults across the sections.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 1280, cfg.Browser.Viewport.Width)
	assert.Equal(t, 800, cfg.Browser.Viewport.Height)
	assert.Equal(t, 90*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 40, cfg.Agent.MaxSteps)
	assert.Equal(t, 3, cfg.Agent.MaxResultsToTry)
	assert.Equal(t, 120*time.Second, cfg.Agent.ActTimeout)
	assert.Equal(t, 100, cfg.Agent.MaxHistorySize)
	assert.True(t, cfg.Agent.HighlightElements)
	assert.False(t, cfg.Agent.RetainDetail)
	assert.Equal(t, "gemini-2.5-pro", cfg.Agent.LLM.DefaultPowerfulModel)
	assert.Equal(t, "gemini-2.5-flash", cfg.Agent.LLM.DefaultFastModel)
	assert.Equal(t, 500*time.Millisecond, cfg.Agent.Retry.InitialDelay)
	assert.Equal(t, 60*time.Second, cfg.Workspace.ShellTimeout)
}

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())
}

func TestAgentConfigValidation(t *testing.T) {
	base := NewDefaultConfig().Agent

	cases := []struct {
		name    string
		mutate  func(a *AgentConfig)
		wantErr string
	}{
		{"zero max steps", func(a *AgentConfig) { a.MaxSteps = 0 }, "max_steps"},
		{"negative candidates", func(a *AgentConfig) { a.MaxResultsToTry = -1 }, "max_results_to_try"},
		{"zero act timeout", func(a *AgentConfig) { a.ActTimeout = 0 }, "act_timeout"},
		{"zero inference timeout", func(a *AgentConfig) { a.LLMInferenceTimeout = 0 }, "llm_inference_timeout"},
		{"zero history bound", func(a *AgentConfig) { a.MaxHistorySize = 0 }, "max_history_size"},
		{"retry multiplier too small", func(a *AgentConfig) { a.Retry.Multiplier = 1.0 }, "multiplier"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewConfigFromViperMergesYAML(t *testing.T) {
	yaml := []byte(`
logger:
  level: debug
  format: json
browser:
  headless: false
  viewport:
    width: 1920
    height: 1080
agent:
  max_steps: 7
  act_timeout: 45s
  llm:
    default_powerful_model: custom-pro
    models:
      custom-pro:
        provider: gemini-http
        model: custom-pro
        api_timeout: 20s
`)

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewReader(yaml)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	// Overridden values.
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 1920, cfg.Browser.Viewport.Width)
	assert.Equal(t, 7, cfg.Agent.MaxSteps)
	assert.Equal(t, 45*time.Second, cfg.Agent.ActTimeout)
	assert.Equal(t, "custom-pro", cfg.Agent.LLM.DefaultPowerfulModel)

	model, ok := cfg.Agent.LLM.Models["custom-pro"]
	require.True(t, ok)
	assert.Equal(t, ProviderGeminiHTTP, model.Provider)
	assert.Equal(t, 20*time.Second, model.APITimeout)

	// Defaults survive where not overridden.
	assert.Equal(t, 3, cfg.Agent.MaxResultsToTry)
	assert.Equal(t, 800, cfg.Browser.Viewport.Height, "nested overrides must not clobber sibling defaults")
}

func TestNewConfigFromViperRejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("agent.max_steps", 0)

	cfg, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid configuration")
}
