// internal/toolcall/toolcall.go
package toolcall

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/wayfarer-cli/internal/retrypolicy"
)

// ToolCall is the unit of work the model asks the agent to perform: a method
// in a domain namespace plus named arguments. It is exactly what comes out of
// the inference response parser.
type ToolCall struct {
	Domain    string                 `json:"domain"`
	Method    string                 `json:"method"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Qualified returns the "domain.method" form used in traces and errors.
func (c ToolCall) Qualified() string {
	return c.Domain + "." + c.Method
}

// Evaluation is the uniform envelope for one dispatch attempt. Exactly one of
// Value or Exception is meaningful; Help carries method usage when the attempt
// failed so a retrying model can correct itself.
type Evaluation struct {
	Value      interface{}                  `json:"value,omitempty"`
	ClassName  string                       `json:"class_name,omitempty"` // Runtime type of Value.
	Expression string                       `json:"expression"`           // Human-readable call rendering.
	Exception  *retrypolicy.ClassifiedError `json:"-"`
	Help       string                       `json:"help,omitempty"`
}

// Succeeded reports whether the attempt completed without raising.
func (e *Evaluation) Succeeded() bool { return e.Exception == nil }

// ArgSpec declares one named argument of a tool method.
type ArgSpec struct {
	Name        string
	Required    bool
	Description string
}

// Handler executes a method against whatever target the executor owns.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// MethodSpec is one entry in a domain's method table: the argument allow-list
// plus the handler bound to the executor's target.
type MethodSpec struct {
	Name        string
	Description string
	Args        []ArgSpec
	Handler     Handler
}

// Usage renders the method signature for help output. Required arguments are
// starred.
func (m MethodSpec) Usage() string {
	parts := make([]string, 0, len(m.Args))
	for _, a := range m.Args {
		name := a.Name
		if a.Required {
			name += "*"
		}
		parts = append(parts, name)
	}
	sig := fmt.Sprintf("%s(%s)", m.Name, strings.Join(parts, ", "))
	if m.Description != "" {
		sig += " -- " + m.Description
	}
	return sig
}

// MethodTable maps method names to their specs. Each executor owns its own
// table so help stays answerable even after a failed call.
type MethodTable map[string]MethodSpec

// Names returns the table's method names, sorted for stable error output.
func (t MethodTable) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Executor is one domain's dispatch target: a method table bound to whatever
// side-effecting object (browser session, filesystem root, subprocess runner)
// the domain wraps.
type Executor interface {
	// Domain returns the namespace this executor serves (e.g. "driver").
	Domain() string
	// Methods returns the executor's method table.
	Methods() MethodTable
}

// Help answers "what does this method take" for an executor, or lists the
// available methods when the name is unknown.
func Help(exec Executor, method string) string {
	table := exec.Methods()
	if spec, ok := table[method]; ok {
		return fmt.Sprintf("%s.%s", exec.Domain(), spec.Usage())
	}
	return fmt.Sprintf("%s has no method %q; available: %s",
		exec.Domain(), method, strings.Join(table.Names(), ", "))
}
