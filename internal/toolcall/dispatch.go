// internal/toolcall/dispatch.go
package toolcall

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer-cli/internal/retrypolicy"
)

// Dispatcher is the boundary between "what the model asked for" and "what
// actually ran". Every failure mode below this line -- unknown domain, unknown
// method, bad arguments, handler error, handler panic -- is captured into the
// Evaluation envelope. Raw errors never cross back to the control loop.
type Dispatcher struct {
	logger *zap.Logger
	router *Router
}

// NewDispatcher wires a dispatcher over the router.
func NewDispatcher(logger *zap.Logger, router *Router) *Dispatcher {
	return &Dispatcher{
		logger: logger.Named("dispatcher"),
		router: router,
	}
}

// CallFunctionOn resolves the call's domain, validates the argument names
// against the method's allow-list, and invokes the handler on the executor's
// target. The returned Evaluation always has Expression set; on failure it
// carries a classified exception plus a method-level usage string.
func (d *Dispatcher) CallFunctionOn(ctx context.Context, call ToolCall) Evaluation {
	eval := Evaluation{Expression: renderExpression(call)}

	exec, err := d.router.Resolve(call.Domain)
	if err != nil {
		eval.Exception = retrypolicy.Wrap(err)
		eval.Help = fmt.Sprintf("supported domains: %s", strings.Join(d.router.Domains(), ", "))
		return eval
	}

	spec, ok := exec.Methods()[call.Method]
	if !ok {
		eval.Exception = &retrypolicy.ClassifiedError{
			Class: retrypolicy.ClassValidation,
			Err: fmt.Errorf("unknown method %s: %w",
				call.Qualified(), retrypolicy.ErrInvalidArgument),
		}
		eval.Help = Help(exec, call.Method)
		return eval
	}

	if err := validateArguments(spec, call.Arguments); err != nil {
		eval.Exception = retrypolicy.Wrap(err)
		eval.Help = Help(exec, call.Method)
		return eval
	}

	value, err := d.invoke(ctx, spec, call)
	if err != nil {
		eval.Exception = retrypolicy.Wrap(err)
		eval.Help = Help(exec, call.Method)
		d.logger.Warn("Tool call failed.",
			zap.String("call", call.Qualified()),
			zap.String("class", string(eval.Exception.Class)),
			zap.Error(err))
		return eval
	}

	eval.Value = value
	if value != nil {
		eval.ClassName = fmt.Sprintf("%T", value)
	}
	return eval
}

// invoke runs the handler with panic containment. A panicking tool must not
// take the step loop down with it.
func (d *Dispatcher) invoke(ctx context.Context, spec MethodSpec, call ToolCall) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic recovered in tool handler.",
				zap.String("call", call.Qualified()),
				zap.Any("panic_value", r),
				zap.Stack("stack"))
			value = nil
			err = fmt.Errorf("panic in %s: %v", call.Qualified(), r)
		}
	}()
	return spec.Handler(ctx, call.Arguments)
}

// validateArguments rejects calls whose argument names do not match the
// method's allow-list: extraneous keys and missing required keys both produce
// named Validation errors.
func validateArguments(spec MethodSpec, args map[string]interface{}) error {
	allowed := make(map[string]ArgSpec, len(spec.Args))
	for _, a := range spec.Args {
		allowed[a.Name] = a
	}

	var extraneous []string
	for name := range args {
		if _, ok := allowed[name]; !ok {
			extraneous = append(extraneous, name)
		}
	}
	if len(extraneous) > 0 {
		sort.Strings(extraneous)
		return fmt.Errorf("%s: extraneous argument(s) %s: %w",
			spec.Name, strings.Join(extraneous, ", "), retrypolicy.ErrInvalidArgument)
	}

	var missing []string
	for _, a := range spec.Args {
		if !a.Required {
			continue
		}
		if _, ok := args[a.Name]; !ok {
			missing = append(missing, a.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%s: missing required argument(s) %s: %w",
			spec.Name, strings.Join(missing, ", "), retrypolicy.ErrInvalidArgument)
	}
	return nil
}

// renderExpression builds the human-readable "domain.method(k=v, ...)" form
// recorded in traces and history. Argument order is sorted for determinism.
func renderExpression(call ToolCall) string {
	keys := make([]string, 0, len(call.Arguments))
	for k := range call.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, previewValue(call.Arguments[k])))
	}
	return fmt.Sprintf("%s(%s)", call.Qualified(), strings.Join(parts, ", "))
}

const maxPreviewLen = 64

func previewValue(v interface{}) string {
	s := fmt.Sprintf("%v", v)
	if len(s) > maxPreviewLen {
		s = s[:maxPreviewLen] + "..."
	}
	if _, isStr := v.(string); isStr {
		return fmt.Sprintf("%q", s)
	}
	return s
}
