package orchestrator

import (
	"sort"
	"strings"

	"maestro/internal/types"
)

// bindingSentinel starts every reference expression:
// $.<task_id>.output.data.<field>[.<field>...]
const bindingSentinel = "$."

// parseReference splits a reference expression into its source task id and
// the field path below output.data. The fixed "output.data" segments are
// required; anything else is a malformed reference.
func parseReference(ref string) (string, []string, error) {
	if !strings.HasPrefix(ref, bindingSentinel) {
		return "", nil, types.NewTaskError(types.ErrKindBinding, "malformed reference %q: missing %q sentinel", ref, bindingSentinel)
	}
	parts := strings.Split(ref[len(bindingSentinel):], ".")
	if len(parts) < 4 || parts[1] != "output" || parts[2] != "data" {
		return "", nil, types.NewTaskError(types.ErrKindBinding, "malformed reference %q: want $.<task_id>.output.data.<field>", ref)
	}
	for _, part := range parts {
		if part == "" {
			return "", nil, types.NewTaskError(types.ErrKindBinding, "malformed reference %q: empty path segment", ref)
		}
	}
	return parts[0], parts[3:], nil
}

// resolveBindings materializes a task's inputs: literal inputs merged with
// values copied from completed source tasks' outputs. Sources named in
// deferred are left to the client, which resolves them locally from earlier
// tasks in the same emitted chain.
//
// Caller must hold the user lock.
func resolveBindings(state *types.ExecutionState, rec *types.TaskRecord, deferred map[string]bool) (map[string]any, error) {
	resolved := make(map[string]any, len(rec.Inputs)+len(rec.InputBindings))
	for k, v := range rec.Inputs {
		resolved[k] = v
	}
	if len(rec.InputBindings) == 0 {
		return resolved, nil
	}

	// Deterministic resolution order keeps failure messages stable.
	params := make([]string, 0, len(rec.InputBindings))
	for param := range rec.InputBindings {
		params = append(params, param)
	}
	sort.Strings(params)

	for _, param := range params {
		ref := rec.InputBindings[param]
		sourceID, path, err := parseReference(ref)
		if err != nil {
			return nil, err
		}
		if deferred[sourceID] {
			continue
		}
		source := state.Get(sourceID)
		if source == nil {
			return nil, types.NewTaskError(types.ErrKindBinding, "binding %s: source task %q not found", ref, sourceID)
		}
		if source.Status != types.StatusCompleted {
			return nil, types.NewTaskError(types.ErrKindBinding, "binding %s: source task %q is %s, want completed", ref, sourceID, source.Status)
		}
		if source.Output == nil || source.Output.Data == nil {
			return nil, types.NewTaskError(types.ErrKindBinding, "binding %s: source task %q has no output data", ref, sourceID)
		}
		value, err := walkPath(source.Output.Data, path)
		if err != nil {
			return nil, types.NewTaskError(types.ErrKindBinding, "binding %s: %v", ref, err)
		}
		// Copy the value out of the source's recorded output so later input
		// mutation cannot corrupt it.
		resolved[param] = types.CloneValue(value)
	}
	return resolved, nil
}

// walkPath descends a JSON-shaped document along the given field names.
func walkPath(data map[string]any, path []string) (any, error) {
	var current any = data
	for i, field := range path {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, types.NewTaskError(types.ErrKindBinding, "field %q is not an object", strings.Join(path[:i], "."))
		}
		current, ok = node[field]
		if !ok {
			return nil, types.NewTaskError(types.ErrKindBinding, "field %q not found", strings.Join(path[:i+1], "."))
		}
	}
	return current, nil
}
