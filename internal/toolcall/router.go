// internal/toolcall/router.go
package toolcall

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer-cli/internal/retrypolicy"
)

// MCPResolver produces executors for "mcp.<server>" domains on demand. The
// transport behind each server is out of the dispatch contract's hands; the
// resolver is an injected collaborator.
type MCPResolver interface {
	// Executor returns the dispatch executor for the named MCP server, or
	// false when no such server is connected.
	Executor(server string) (Executor, bool)
	// Servers lists the connected server names for error reporting.
	Servers() []string
}

// Router selects the executor responsible for a tool call's domain. Static
// domains (driver, browser, fs, shell, skill) are registered up front;
// mcp.<server> domains resolve through the MCPResolver.
type Router struct {
	logger    *zap.Logger
	mu        sync.RWMutex
	executors map[string]Executor
	mcp       MCPResolver
}

// NewRouter builds a router over the given executors. mcp may be nil when no
// MCP servers are configured.
func NewRouter(logger *zap.Logger, mcp MCPResolver, executors ...Executor) *Router {
	r := &Router{
		logger:    logger.Named("tool_router"),
		executors: make(map[string]Executor, len(executors)),
		mcp:       mcp,
	}
	for _, e := range executors {
		r.Register(e)
	}
	return r
}

// Register adds or replaces the executor for its domain.
func (r *Router) Register(exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[exec.Domain()] = exec
}

// Domains returns every routable domain, sorted, including connected MCP
// servers. Used to build the enumerated unsupported-domain error.
func (r *Router) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	domains := make([]string, 0, len(r.executors))
	for d := range r.executors {
		domains = append(domains, d)
	}
	if r.mcp != nil {
		for _, s := range r.mcp.Servers() {
			domains = append(domains, "mcp."+s)
		}
	}
	sort.Strings(domains)
	return domains
}

// Catalog renders every registered domain's method table, one
// "domain.method(args)" line per method. The inference layer embeds this in
// the model prompt so candidates target real methods.
func (r *Router) Catalog() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	domains := make([]string, 0, len(r.executors))
	for d := range r.executors {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var b strings.Builder
	for _, d := range domains {
		exec := r.executors[d]
		table := exec.Methods()
		for _, name := range table.Names() {
			b.WriteString(d)
			b.WriteString(".")
			b.WriteString(table[name].Usage())
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Resolve returns the executor for domain, or a Validation-classified error
// enumerating the supported domains so the model can pick a real one.
func (r *Router) Resolve(domain string) (Executor, error) {
	r.mu.RLock()
	exec, ok := r.executors[domain]
	mcp := r.mcp
	r.mu.RUnlock()
	if ok {
		return exec, nil
	}

	if server, found := strings.CutPrefix(domain, "mcp."); found && mcp != nil {
		if exec, ok := mcp.Executor(server); ok {
			return exec, nil
		}
	}

	return nil, &retrypolicy.ClassifiedError{
		Class: retrypolicy.ClassValidation,
		Err: fmt.Errorf("unsupported tool domain %q: %w (supported: %s)",
			domain, retrypolicy.ErrInvalidArgument, strings.Join(r.Domains(), ", ")),
	}
}
