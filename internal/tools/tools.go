// Package tools defines the tool catalog available to the agent and
// the dispatcher that executes tool calls without ever letting a
// failure escape past it.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hlibko/vika-voice-agent/internal/llm"
)

// Catalog tool names. The stage filter and the confirmation backstop
// reference these across packages.
const (
	NameSearchTires         = "search_tires"
	NameTireDetails         = "get_tire_details"
	NameCreateOrderDraft    = "create_order_draft"
	NameUpdateOrderDelivery = "update_order_delivery"
	NameConfirmOrder        = "confirm_order"
	NameFittingSlots        = "get_fitting_slots"
	NameBookFitting         = "book_fitting"
	NameLookupKnowledge     = "lookup_knowledge"
	NameTransferToOperator  = "transfer_to_operator"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     func(ctx context.Context, args map[string]any) (any, error)
}

// Registry holds available tools and dispatches calls to their
// handlers. The registry is populated once at boot and read-only
// afterwards, so Execute is safe to call from concurrent goroutines.
type Registry struct {
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Most callers want
// [NewCatalog], which also registers the built-in tools.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name. Returns nil if not registered.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// AllToolNames returns the registered tool names.
func (r *Registry) AllToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Descriptors returns the LLM-facing catalog, sorted by name so the
// tool list presented to the model is stable across rounds.
func (r *Registry) Descriptors() []llm.ToolDescriptor {
	descs := make([]llm.ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		descs = append(descs, llm.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}

// ApplyOverrides replaces tool descriptions with operator-supplied
// text. Unknown names are ignored. Called once at boot, before the
// registry is shared.
func (r *Registry) ApplyOverrides(descriptions map[string]string) {
	for name, desc := range descriptions {
		if t, ok := r.tools[name]; ok && desc != "" {
			t.Description = desc
		}
	}
}

// Execute runs a tool by name. It never returns an error and never
// panics: an unknown name or a failing handler produces an error
// payload the model can read and react to in natural language.
// Retry policy belongs to the tool's backing client, not here.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) any {
	tool := r.tools[name]
	if tool == nil {
		r.logger.Warn("unknown tool requested", "tool", name)
		return map[string]any{"error": "Unknown tool: " + name}
	}

	start := time.Now()
	result, err := safeCall(ctx, tool, args)
	elapsed := time.Since(start)

	if err != nil {
		r.logger.Error("tool execution failed",
			"tool", name,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return map[string]any{"error": err.Error()}
	}

	r.logger.Debug("tool executed",
		"tool", name,
		"duration_ms", elapsed.Milliseconds(),
	)
	return result
}

// safeCall invokes the handler, converting a panic into an error so a
// faulty tool cannot kill the turn loop.
func safeCall(ctx context.Context, tool *Tool, args map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name, rec)
		}
	}()
	return tool.Handler(ctx, args)
}
