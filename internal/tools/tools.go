package tools

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/voxlabs/voxd/internal/provider"
)

// Logger is the minimal logging surface the tool layer needs.
type Logger interface {
	Printf(format string, args ...any)
}

// ToolContext provides shared state to tool implementations.
type ToolContext struct {
	// Cwd is the working directory relative paths resolve against.
	Cwd    string
	Logger Logger
}

// ToolFunc is the signature for tool execution functions.
type ToolFunc func(ctx context.Context, input map[string]any, tc *ToolContext) (string, error)

// ToolDef binds a provider-agnostic tool specification to its
// implementation and checkpoint-relevant capabilities.
type ToolDef struct {
	Spec provider.ToolSpec

	// IsMutating marks tools whose execution changes workspace files.
	IsMutating bool

	// PredictTouchedPaths returns the paths a call will write, for
	// pre-execution snapshotting. Nil when the tool touches no files.
	PredictTouchedPaths func(input map[string]any) []string

	Execute ToolFunc
}

// Registry holds the tools available to a session: built-ins plus any
// discovered from MCP servers.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]ToolDef
	order []string
}

// NewRegistry creates a registry pre-populated with defs.
func NewRegistry(defs ...ToolDef) *Registry {
	r := &Registry{defs: map[string]ToolDef{}}
	for _, def := range defs {
		// Built-in names are unique by construction.
		_ = r.Register(def)
	}
	return r
}

// Register adds a tool. Duplicate names are rejected.
func (r *Registry) Register(def ToolDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Spec.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Spec.Name)
	}
	r.defs[def.Spec.Name] = def
	r.order = append(r.order, def.Spec.Name)
	return nil
}

// Find looks up a tool by name.
func (r *Registry) Find(name string) (ToolDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Specs returns the tool specifications in registration order.
func (r *Registry) Specs() []provider.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]provider.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.defs[name].Spec)
	}
	return specs
}

// Names returns all registered tool names, sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.order))
	names = append(names, r.order...)
	sort.Strings(names)
	return names
}

// Builtin returns the built-in tool definitions. Relative paths in tool
// inputs resolve against the ToolContext working directory at call time.
func Builtin() []ToolDef {
	return []ToolDef{
		readFileTool(),
		writeFileTool(),
		appendFileTool(),
		editFileTool(),
		listFilesTool(),
		bashTool(),
		webFetchTool(),
	}
}

// TruncateResult caps a tool result at max characters, appending a marker
// naming the tool and the original size.
func TruncateResult(result, toolName string, max int) string {
	if max <= 0 || len(result) <= max {
		return result
	}
	return result[:max] + fmt.Sprintf(
		"\n\n[OUTPUT TRUNCATED: Showing %s of %s characters from %s]",
		groupDigits(max), groupDigits(len(result)), toolName)
}

// groupDigits formats n with thousands separators (12345 -> "12,345").
func groupDigits(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	for i, ch := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, ch)
	}
	return string(out)
}
