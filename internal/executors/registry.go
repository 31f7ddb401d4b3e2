// internal/executors/registry.go
package executors

import (
	"context"
	"sort"
	"sync"
)

// Registry is the in-process SkillRegistry implementation.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

// Register adds or replaces a skill under its name.
func (r *Registry) Register(s Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[s.Name()] = s
}

// Skill resolves a skill by name.
func (r *Registry) Skill(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// Names lists registered skill names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FuncSkill wraps a plain function as a Skill.
type FuncSkill struct {
	SkillName string
	Desc      string
	Fn        func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

func (f FuncSkill) Name() string        { return f.SkillName }
func (f FuncSkill) Description() string { return f.Desc }
func (f FuncSkill) Run(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return f.Fn(ctx, args)
}
