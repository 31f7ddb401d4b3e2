// internal/llmclient/inference.go
package llmclient

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer-cli/api/schemas"
	"github.com/xkilldash9x/wayfarer-cli/internal/agent"
)

// ToolCataloger supplies the prompt's tool listing. Satisfied by
// *toolcall.Router.
type ToolCataloger interface {
	Catalog() string
}

// InferenceAdapter turns the agent's observe/extract calls into tiered
// generation requests and parses the model's JSON back into agent types.
type InferenceAdapter struct {
	logger  *zap.Logger
	llm     schemas.LLMClient
	catalog ToolCataloger
}

var _ agent.InferenceClient = (*InferenceAdapter)(nil)

// NewInferenceAdapter wires the model client and the tool catalog source.
func NewInferenceAdapter(logger *zap.Logger, llm schemas.LLMClient, catalog ToolCataloger) (*InferenceAdapter, error) {
	if llm == nil {
		return nil, fmt.Errorf("inference adapter requires an LLM client")
	}
	if catalog == nil {
		return nil, fmt.Errorf("inference adapter requires a tool catalog source")
	}
	return &InferenceAdapter{
		logger:  logger.Named("inference"),
		llm:     llm,
		catalog: catalog,
	}, nil
}

const observeSystemPrompt = `You are the decision core of 'wayfarer-cli', an autonomous browser agent.
You receive the user's instruction plus a snapshot of the current page: URL, title, and an indexed list of interactive elements.
Decide the next tool calls that move the instruction forward, or declare the task complete.

Respond with a single JSON object:
{
  "candidates": [
    {"call": {"domain": "...", "method": "...", "arguments": {...}}, "description": "why this call"}
  ],
  "is_complete": false,
  "summary": "one sentence on the current state",
  "evaluation_previous_goal": "did the previous step work",
  "next_goal": "what the chosen calls should achieve"
}

Rules:
- Order candidates best-first. Each must use a tool from the catalog below; invented domains or methods are rejected.
- Target elements by their snapshot selector. Never invent selectors that are not in the snapshot.
- If the previous step failed, read the error and try a different approach instead of repeating the same call.
- Set "is_complete": true with an empty candidates list only when the instruction is fully satisfied.

Available tools:
%s`

// Observe asks the model for candidate tool calls given the current page
// state. The powerful tier carries this call: candidate quality drives the
// whole step.
func (ia *InferenceAdapter) Observe(ctx context.Context, params agent.ObserveParams) (*agent.ActionDescription, error) {
	userPrompt, err := ia.buildObservePrompt(params)
	if err != nil {
		return nil, err
	}

	raw, err := ia.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: fmt.Sprintf(observeSystemPrompt, ia.catalog.Catalog()),
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     0.2,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("observe generation failed: %w", err)
	}

	desc, err := ParseJSONResponse[agent.ActionDescription](raw)
	if err != nil {
		ia.logger.Warn("observe response did not parse",
			zap.Int("step", params.Step),
			zap.Error(err))
		return nil, err
	}

	ia.logger.Debug("observe response parsed",
		zap.Int("step", params.Step),
		zap.Int("candidates", len(desc.Candidates)),
		zap.Bool("is_complete", desc.IsComplete))
	return desc, nil
}

func (ia *InferenceAdapter) buildObservePrompt(params agent.ObserveParams) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %s\nStep: %d\n", params.Instruction, params.Step)

	if params.PrevMessage != "" {
		fmt.Fprintf(&b, "\nPrevious step action: %s\n", params.PrevMessage)
	}
	if params.PrevError != "" {
		fmt.Fprintf(&b, "Previous step FAILED: %s\n", params.PrevError)
	}

	if params.Snapshot != nil {
		snapJSON, err := json.Marshal(params.Snapshot)
		if err != nil {
			return "", fmt.Errorf("failed to marshal page snapshot: %w", err)
		}
		fmt.Fprintf(&b, "\nCurrent page state (JSON):\n%s\n", snapJSON)
	} else {
		b.WriteString("\nNo page snapshot is available; navigate somewhere first.\n")
	}

	if params.Screenshot != nil {
		fmt.Fprintf(&b, "\nA %dx%d %s screenshot of the viewport was captured at this step.\n",
			params.Screenshot.Meta.Width, params.Screenshot.Meta.Height, params.Screenshot.Meta.Format)
	}

	b.WriteString("\nDetermine the next candidates. Respond with a single JSON object.")
	return b.String(), nil
}

const extractSystemPrompt = `You are the extraction stage of 'wayfarer-cli', an autonomous browser agent.
Given the user's instruction and the current page content, produce the requested structured data.
Respond with a single JSON object and nothing else.`

// Extract pulls a structured object out of the page. The fast tier is enough
// here: the page content is already in the prompt and the output shape is
// constrained.
func (ia *InferenceAdapter) Extract(ctx context.Context, params agent.ExtractParams) (map[string]interface{}, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %s\n", params.Instruction)

	if params.Snapshot != nil {
		snapJSON, err := json.Marshal(params.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal page snapshot: %w", err)
		}
		fmt.Fprintf(&b, "\nCurrent page state (JSON):\n%s\n", snapJSON)
	}

	if params.Schema != nil {
		schemaJSON, err := json.Marshal(params.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal extraction schema: %w", err)
		}
		fmt.Fprintf(&b, "\nThe response object must match this schema:\n%s\n", schemaJSON)
	}

	raw, err := ia.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: extractSystemPrompt,
		UserPrompt:   b.String(),
		Tier:         schemas.TierFast,
		Options: schemas.GenerationOptions{
			Temperature:     0.1,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extract generation failed: %w", err)
	}

	obj, err := ParseJSONResponse[map[string]interface{}](raw)
	if err != nil {
		return nil, err
	}
	return *obj, nil
}
