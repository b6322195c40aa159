package convo

import (
	"context"
	"fmt"
	"sync"

	"github.com/countlessbugs/relaybot/internal/llm"
)

// ToolHandler executes one tool call and returns the text fed back into
// history as the matching tool-result message.
type ToolHandler func(ctx context.Context, arguments string) (string, error)

// ToolRegistry binds llm.ToolDef declarations (what the graph advertises to
// the model) to Go handlers (what actually runs when the model calls one).
// internal/scheduler registers its tools here at startup; internal/convo
// itself defines none.
type ToolRegistry struct {
	mu       sync.RWMutex
	defs     []llm.ToolDef
	handlers map[string]ToolHandler
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{handlers: make(map[string]ToolHandler)}
}

// Register adds one tool. Registering the same name twice replaces the
// handler and leaves a single definition in Defs().
func (r *ToolRegistry) Register(def llm.ToolDef, handler ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[def.Name]; !exists {
		r.defs = append(r.defs, def)
	}
	r.handlers[def.Name] = handler
}

// Defs returns the tool declarations to bind on the next generate call.
func (r *ToolRegistry) Defs() []llm.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolDef, len(r.defs))
	copy(out, r.defs)
	return out
}

// Execute runs the handler for call.Name, or reports an unknown-tool error
// that is fed back to the model as the tool-result content rather than
// failing the whole generate loop.
func (r *ToolRegistry) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	r.mu.RLock()
	handler, ok := r.handlers[call.Name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", call.Name)
	}
	return handler(ctx, call.Arguments)
}
