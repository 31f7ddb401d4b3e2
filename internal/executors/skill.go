// internal/executors/skill.go
package executors

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/wayfarer-cli/internal/retrypolicy"
	"github.com/xkilldash9x/wayfarer-cli/internal/toolcall"
)

// Skill is one reusable, named capability registered by the embedding
// application.
type Skill interface {
	Name() string
	Description() string
	Run(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// SkillRegistry resolves skills by name.
type SkillRegistry interface {
	Skill(name string) (Skill, bool)
	Names() []string
}

// maxParallelSkills bounds the run_parallel fan-out.
const maxParallelSkills = 8

// SkillExecutor dispatches into the registry, sequentially or fanned out.
type SkillExecutor struct {
	logger   *zap.Logger
	registry SkillRegistry
	table    toolcall.MethodTable
}

// NewSkillExecutor binds the skill method table to a registry.
func NewSkillExecutor(logger *zap.Logger, registry SkillRegistry) *SkillExecutor {
	e := &SkillExecutor{
		logger:   logger.Named("skill_executor"),
		registry: registry,
	}
	e.table = toolcall.MethodTable{
		"run": {
			Name:        "run",
			Description: "Run a named skill.",
			Args: []toolcall.ArgSpec{
				{Name: "skill", Required: true, Description: "Registered skill name."},
				{Name: "args", Description: "Arguments object passed to the skill."},
			},
			Handler: e.run,
		},
		"run_parallel": {
			Name:        "run_parallel",
			Description: "Run several skills concurrently and collect their results.",
			Args: []toolcall.ArgSpec{
				{Name: "skills", Required: true, Description: "Array of registered skill names."},
				{Name: "args", Description: "Arguments object passed to every skill."},
			},
			Handler: e.runParallel,
		},
		"list": {
			Name:        "list",
			Description: "List registered skills.",
			Handler:     e.list,
		},
	}
	return e
}

func (e *SkillExecutor) Domain() string                { return "skill" }
func (e *SkillExecutor) Methods() toolcall.MethodTable { return e.table }

func (e *SkillExecutor) lookup(name string) (Skill, error) {
	skill, ok := e.registry.Skill(name)
	if !ok {
		return nil, fmt.Errorf("unknown skill %q: %w (registered: %s)",
			name, retrypolicy.ErrInvalidArgument, strings.Join(e.registry.Names(), ", "))
	}
	return skill, nil
}

func skillArgs(args map[string]interface{}) (map[string]interface{}, error) {
	v, ok := args["args"]
	if !ok {
		return map[string]interface{}{}, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("argument \"args\" must be an object, got %T: %w", v, retrypolicy.ErrInvalidArgument)
	}
	return m, nil
}

func (e *SkillExecutor) run(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	name, err := stringArg(args, "skill")
	if err != nil {
		return nil, err
	}
	skill, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	inner, err := skillArgs(args)
	if err != nil {
		return nil, err
	}
	return skill.Run(ctx, inner)
}

// runParallel fans the named skills out over a bounded errgroup. Every skill
// runs to completion; per-skill failures land in the result map instead of
// cancelling siblings.
func (e *SkillExecutor) runParallel(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	names, err := stringSliceArg(args, "skills")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("argument \"skills\" must not be empty: %w", retrypolicy.ErrInvalidArgument)
	}
	inner, err := skillArgs(args)
	if err != nil {
		return nil, err
	}

	// Resolve everything up front so a typo fails fast instead of after
	// sibling work has run.
	skills := make([]Skill, len(names))
	for i, name := range names {
		skill, err := e.lookup(name)
		if err != nil {
			return nil, err
		}
		skills[i] = skill
	}

	var mu sync.Mutex
	results := make(map[string]interface{}, len(skills))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSkills)
	for _, skill := range skills {
		skill := skill
		g.Go(func() error {
			value, runErr := skill.Run(gctx, inner)
			mu.Lock()
			defer mu.Unlock()
			if runErr != nil {
				results[skill.Name()] = map[string]interface{}{"error": runErr.Error()}
			} else {
				results[skill.Name()] = value
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (e *SkillExecutor) list(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	names := e.registry.Names()
	out := make([]map[string]string, 0, len(names))
	for _, name := range names {
		if skill, ok := e.registry.Skill(name); ok {
			out = append(out, map[string]string{
				"name":        skill.Name(),
				"description": skill.Description(),
			})
		}
	}
	return out, nil
}
