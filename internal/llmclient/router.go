// internal/llmclient/router.go
package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/wayfarer-cli/api/schemas"
)

// Router dispatches generation requests to a tier-specific client and applies
// a shared rate limit across all tiers.
type Router struct {
	logger  *zap.Logger
	clients map[schemas.ModelTier]schemas.LLMClient
	limiter *rate.Limiter
}

// NewRouter wires one client per tier. A non-positive requestsPerSecond
// disables throttling.
func NewRouter(logger *zap.Logger, fast, powerful schemas.LLMClient, requestsPerSecond float64, burst int) (*Router, error) {
	if fast == nil || powerful == nil {
		return nil, errors.New("router requires a client for every tier")
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Router{
		logger: logger.Named("llm_router"),
		clients: map[schemas.ModelTier]schemas.LLMClient{
			schemas.TierFast:     fast,
			schemas.TierPowerful: powerful,
		},
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// Generate resolves the request's tier, waits for rate-limit headroom, and
// forwards to the underlying client. An unknown or empty tier falls back to
// the powerful model.
func (r *Router) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	client, ok := r.clients[req.Tier]
	if !ok {
		r.logger.Debug("unknown model tier, routing to powerful",
			zap.String("requested_tier", string(req.Tier)))
		client = r.clients[schemas.TierPowerful]
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait aborted: %w", err)
	}

	r.logger.Debug("dispatching generation request",
		zap.String("tier", string(req.Tier)),
		zap.Bool("force_json", req.Options.ForceJSONFormat))
	return client.Generate(ctx, req)
}

// Close shuts down every distinct underlying client.
func (r *Router) Close() error {
	var firstErr error
	seen := make(map[schemas.LLMClient]bool, len(r.clients))
	for tier, client := range r.clients {
		if seen[client] {
			continue
		}
		seen[client] = true
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s tier client: %w", tier, err)
		}
	}
	return firstErr
}
