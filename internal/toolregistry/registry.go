package toolregistry

import (
	"fmt"
	"sort"
	"sync"

	"maestro/internal/types"
)

// Property describes one parameter of a tool.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// ParameterSchema is the JSON-schema-shaped description of a tool's inputs.
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// OutputSchema names the fields a tool's output data is expected to carry.
type OutputSchema struct {
	Fields map[string]Property `json:"fields,omitempty"`
}

// ToolInfo is one registry entry: where the tool executes and what its
// parameter and output contracts look like.
type ToolInfo struct {
	Name        string                `json:"name"`
	Target      types.ExecutionTarget `json:"execution_target"`
	Description string                `json:"description,omitempty"`
	Parameters  ParameterSchema       `json:"parameters"`
	Output      OutputSchema          `json:"output,omitempty"`
}

// Registry answers "is tool X known?" and exposes tool schemas. Entries are
// registered at startup; lookups are concurrency-safe.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolInfo
}

// NewRegistry creates a registry preloaded with the built-in tool index.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]ToolInfo)}
	for _, info := range builtinIndex() {
		r.tools[info.Name] = info
	}
	return r
}

// Register adds a tool entry. Registering an already-known name is an error.
func (r *Registry) Register(info ToolInfo) error {
	if info.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if !info.Target.Valid() {
		return fmt.Errorf("tool %s: invalid execution target %q", info.Name, info.Target)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[info.Name]; exists {
		return fmt.Errorf("tool already exists: %s", info.Name)
	}
	r.tools[info.Name] = info
	return nil
}

// IsKnown reports whether the tool name is in the index.
func (r *Registry) IsKnown(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Get returns the entry for name.
func (r *Registry) Get(name string) (ToolInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tools[name]
	if !ok {
		return ToolInfo{}, fmt.Errorf("tool not found: %s", name)
	}
	return info, nil
}

// List returns all entries sorted by name.
func (r *Registry) List() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolInfo, 0, len(r.tools))
	for _, info := range r.tools {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
