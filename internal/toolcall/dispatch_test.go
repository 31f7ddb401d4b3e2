// internal/toolcall/dispatch_test.go
package toolcall

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer-cli/internal/retrypolicy"
)

// stubExecutor is a minimal dispatch target with a recordable handler.
type stubExecutor struct {
	domain string
	table  MethodTable
}

func (s *stubExecutor) Domain() string       { return s.domain }
func (s *stubExecutor) Methods() MethodTable { return s.table }

func newStubExecutor(domain string) (*stubExecutor, *[]map[string]interface{}) {
	var calls []map[string]interface{}
	exec := &stubExecutor{
		domain: domain,
		table: MethodTable{
			"navigate": {
				Name:        "navigate",
				Description: "Loads a URL in the active tab.",
				Args: []ArgSpec{
					{Name: "url", Required: true},
					{Name: "wait_until", Required: false},
				},
				Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
					calls = append(calls, args)
					return "ok:" + args["url"].(string), nil
				},
			},
			"fail": {
				Name: "fail",
				Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
					return nil, errors.New("connection refused")
				},
			},
			"explode": {
				Name: "explode",
				Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
					panic("boom")
				},
			},
		},
	}
	return exec, &calls
}

func newTestDispatcher(t *testing.T, mcp MCPResolver, execs ...Executor) *Dispatcher {
	t.Helper()
	router := NewRouter(zap.NewNop(), mcp, execs...)
	return NewDispatcher(zap.NewNop(), router)
}

func TestCallFunctionOn_Success(t *testing.T) {
	exec, calls := newStubExecutor("driver")
	d := newTestDispatcher(t, nil, exec)

	eval := d.CallFunctionOn(context.Background(), ToolCall{
		Domain:    "driver",
		Method:    "navigate",
		Arguments: map[string]interface{}{"url": "https://example.com"},
	})

	require.True(t, eval.Succeeded())
	assert.Equal(t, "ok:https://example.com", eval.Value)
	assert.Equal(t, "string", eval.ClassName)
	assert.Equal(t, `driver.navigate(url="https://example.com")`, eval.Expression)
	assert.Len(t, *calls, 1)
}

func TestCallFunctionOn_UnsupportedDomainEnumerates(t *testing.T) {
	execA, _ := newStubExecutor("driver")
	execB, _ := newStubExecutor("fs")
	d := newTestDispatcher(t, nil, execA, execB)

	eval := d.CallFunctionOn(context.Background(), ToolCall{Domain: "teleport", Method: "go"})

	require.False(t, eval.Succeeded())
	assert.Equal(t, retrypolicy.ClassValidation, eval.Exception.Class)
	assert.Contains(t, eval.Exception.Error(), `"teleport"`)
	assert.Contains(t, eval.Exception.Error(), "driver, fs")
	assert.Contains(t, eval.Help, "driver, fs")
}

func TestCallFunctionOn_UnknownMethodGetsHelp(t *testing.T) {
	exec, _ := newStubExecutor("driver")
	d := newTestDispatcher(t, nil, exec)

	eval := d.CallFunctionOn(context.Background(), ToolCall{Domain: "driver", Method: "warp"})

	require.False(t, eval.Succeeded())
	assert.Equal(t, retrypolicy.ClassValidation, eval.Exception.Class)
	assert.Contains(t, eval.Help, "explode, fail, navigate")
}

func TestCallFunctionOn_ArgumentValidation(t *testing.T) {
	exec, calls := newStubExecutor("driver")
	d := newTestDispatcher(t, nil, exec)

	t.Run("extraneous key", func(t *testing.T) {
		eval := d.CallFunctionOn(context.Background(), ToolCall{
			Domain:    "driver",
			Method:    "navigate",
			Arguments: map[string]interface{}{"url": "x", "speed": "fast"},
		})
		require.False(t, eval.Succeeded())
		assert.Equal(t, retrypolicy.ClassValidation, eval.Exception.Class)
		assert.Contains(t, eval.Exception.Error(), "speed")
		assert.Contains(t, eval.Help, "url*")
	})

	t.Run("missing required key", func(t *testing.T) {
		eval := d.CallFunctionOn(context.Background(), ToolCall{
			Domain:    "driver",
			Method:    "navigate",
			Arguments: map[string]interface{}{"wait_until": "load"},
		})
		require.False(t, eval.Succeeded())
		assert.Contains(t, eval.Exception.Error(), "url")
	})

	assert.Empty(t, *calls, "validation failures must not reach the handler")
}

func TestCallFunctionOn_HandlerErrorIsClassified(t *testing.T) {
	exec, _ := newStubExecutor("driver")
	d := newTestDispatcher(t, nil, exec)

	eval := d.CallFunctionOn(context.Background(), ToolCall{Domain: "driver", Method: "fail"})

	require.False(t, eval.Succeeded())
	assert.Equal(t, retrypolicy.ClassTransient, eval.Exception.Class)
	assert.Contains(t, eval.Help, "fail")
}

func TestCallFunctionOn_PanicIsContained(t *testing.T) {
	exec, _ := newStubExecutor("driver")
	d := newTestDispatcher(t, nil, exec)

	var eval Evaluation
	require.NotPanics(t, func() {
		eval = d.CallFunctionOn(context.Background(), ToolCall{Domain: "driver", Method: "explode"})
	})
	require.False(t, eval.Succeeded())
	assert.Contains(t, eval.Exception.Error(), "panic in driver.explode")
}

// stubMCPResolver serves one fixed server name.
type stubMCPResolver struct {
	server string
	exec   Executor
}

func (s *stubMCPResolver) Executor(server string) (Executor, bool) {
	if server == s.server {
		return s.exec, true
	}
	return nil, false
}

func (s *stubMCPResolver) Servers() []string { return []string{s.server} }

func TestRouter_MCPDomains(t *testing.T) {
	browserExec, _ := newStubExecutor("driver")
	mcpExec, calls := newStubExecutor("mcp.playwright")
	resolver := &stubMCPResolver{server: "playwright", exec: mcpExec}
	d := newTestDispatcher(t, resolver, browserExec)

	eval := d.CallFunctionOn(context.Background(), ToolCall{
		Domain:    "mcp.playwright",
		Method:    "navigate",
		Arguments: map[string]interface{}{"url": "https://example.com"},
	})
	require.True(t, eval.Succeeded())
	assert.Len(t, *calls, 1)

	eval = d.CallFunctionOn(context.Background(), ToolCall{Domain: "mcp.ghost", Method: "navigate"})
	require.False(t, eval.Succeeded())
	assert.Contains(t, eval.Exception.Error(), "mcp.playwright")
}

func TestMethodSpecUsage(t *testing.T) {
	spec := MethodSpec{
		Name:        "type_text",
		Description: "Types text into an element.",
		Args: []ArgSpec{
			{Name: "selector", Required: true},
			{Name: "text", Required: true},
			{Name: "clear_first"},
		},
	}
	assert.Equal(t, "type_text(selector*, text*, clear_first) -- Types text into an element.", spec.Usage())
}

func TestRouterCatalogListsEveryMethod(t *testing.T) {
	browserExec, _ := newStubExecutor("driver")
	fsExec, _ := newStubExecutor("fs")
	router := NewRouter(zap.NewNop(), nil, browserExec, fsExec)

	catalog := router.Catalog()

	assert.Contains(t, catalog, "driver.navigate(url*, wait_until) -- Loads a URL in the active tab.")
	assert.Contains(t, catalog, "fs.navigate(url*, wait_until)")
	assert.Contains(t, catalog, "driver.explode()")
	// Domains render in sorted order.
	assert.Less(t, strings.Index(catalog, "driver."), strings.Index(catalog, "fs."))
}
