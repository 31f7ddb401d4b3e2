// internal/llmclient/helper_test.go
package llmclient

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/wayfarer-cli/api/schemas"
	"github.com/xkilldash9x/wayfarer-cli/internal/config"
	"github.com/xkilldash9x/wayfarer-cli/internal/retrypolicy"
)

// stubLLMClient is a function-backed LLMClient for wiring into the router and
// inference adapter.
type stubLLMClient struct {
	name       string
	generateFn func(ctx context.Context, req schemas.GenerationRequest) (string, error)
	calls      atomic.Int64
	closed     atomic.Bool
	lastReq    atomic.Pointer[schemas.GenerationRequest]
}

func (s *stubLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	s.calls.Add(1)
	s.lastReq.Store(&req)
	if s.generateFn != nil {
		return s.generateFn(ctx, req)
	}
	return s.name, nil
}

func (s *stubLLMClient) Close() error {
	s.closed.Store(true)
	return nil
}

func setupTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	core, _ := observer.New(zap.DebugLevel)
	return zap.New(core)
}

func validModelConfig() config.LLMModelConfig {
	return config.LLMModelConfig{
		Provider:    config.ProviderGeminiHTTP,
		APIKey:      "test-api-key",
		Model:       "test-model",
		APITimeout:  5 * time.Second,
		Temperature: 0.7,
		TopP:        0.9,
		TopK:        50,
	}
}

// testRetryPolicy keeps transport retries fast enough for unit tests.
func testRetryPolicy() retrypolicy.Policy {
	return retrypolicy.Policy{
		InitialDelay:   10 * time.Millisecond,
		MaxDelay:       50 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}
