package toolregistry

import (
	"testing"

	"maestro/internal/types"
)

func TestBuiltinIndexLoaded(t *testing.T) {
	r := NewRegistry()
	for name, target := range map[string]types.ExecutionTarget{
		"web_search":    types.TargetServer,
		"folder_create": types.TargetClient,
		"file_create":   types.TargetClient,
		"file_search":   types.TargetClient,
		"open_app":      types.TargetClient,
		"close_app":     types.TargetClient,
	} {
		info, err := r.Get(name)
		if err != nil {
			t.Fatalf("builtin %s missing: %v", name, err)
		}
		if info.Target != target {
			t.Fatalf("builtin %s: expected target %s, got %s", name, target, info.Target)
		}
	}
	if r.IsKnown("teleport") {
		t.Fatalf("unknown tool reported as known")
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(ToolInfo{Target: types.TargetServer}); err == nil {
		t.Fatalf("nameless tool accepted")
	}
	if err := r.Register(ToolInfo{Name: "x", Target: "cloud"}); err == nil {
		t.Fatalf("invalid target accepted")
	}
	if err := r.Register(ToolInfo{Name: "web_search", Target: types.TargetServer}); err == nil {
		t.Fatalf("duplicate registration accepted")
	}
	if err := r.Register(ToolInfo{Name: "screenshot", Target: types.TargetClient}); err != nil {
		t.Fatalf("valid registration rejected: %v", err)
	}
}

func TestListSorted(t *testing.T) {
	r := NewRegistry()
	list := r.List()
	if len(list) == 0 {
		t.Fatalf("empty list")
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Name >= list[i].Name {
			t.Fatalf("list not sorted at %d: %s >= %s", i, list[i-1].Name, list[i].Name)
		}
	}
}
