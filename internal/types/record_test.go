package types

import (
	"encoding/json"
	"testing"
)

func TestTaskRecordWireShapeIsFlat(t *testing.T) {
	rec := NewTaskRecord(Task{
		TaskID:          "t1",
		Tool:            "open_app",
		ExecutionTarget: TargetClient,
		Inputs:          map[string]any{"target": "notes"},
	})

	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if doc["task_id"] != "t1" || doc["tool"] != "open_app" {
		t.Fatalf("task fields not at top level: %v", doc)
	}
	if doc["status"] != "pending" {
		t.Fatalf("expected pending status on the wire, got %v", doc["status"])
	}
	if _, nested := doc["Task"]; nested {
		t.Fatalf("embedded task leaked as nested object")
	}
}

func TestTaskRecordCloneIsDeep(t *testing.T) {
	rec := NewTaskRecord(Task{
		TaskID:          "t1",
		Tool:            "web_search",
		ExecutionTarget: TargetServer,
		DependsOn:       []string{"t0"},
		Inputs:          map[string]any{"nested": map[string]any{"k": "v"}},
	})
	rec.Output = &TaskOutput{Success: true, Data: map[string]any{"items": []any{"a"}}}

	clone := rec.Clone()
	clone.DependsOn[0] = "mutated"
	clone.Inputs["nested"].(map[string]any)["k"] = "mutated"
	clone.Output.Data["items"].([]any)[0] = "mutated"

	if rec.DependsOn[0] != "t0" {
		t.Fatalf("depends_on aliased")
	}
	if rec.Inputs["nested"].(map[string]any)["k"] != "v" {
		t.Fatalf("inputs aliased")
	}
	if rec.Output.Data["items"].([]any)[0] != "a" {
		t.Fatalf("output data aliased")
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		ok       bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusRunning, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestExecutionStateOrderAndDuplicates(t *testing.T) {
	state := NewExecutionState("u1")
	for _, id := range []string{"c", "a", "b"} {
		if !state.Add(NewTaskRecord(Task{TaskID: id, Tool: "x", ExecutionTarget: TargetServer})) {
			t.Fatalf("add %s refused", id)
		}
	}
	if state.Add(NewTaskRecord(Task{TaskID: "a", Tool: "x", ExecutionTarget: TargetServer})) {
		t.Fatalf("duplicate add accepted")
	}

	all := state.All()
	if len(all) != 3 || all[0].TaskID != "c" || all[1].TaskID != "a" || all[2].TaskID != "b" {
		t.Fatalf("insertion order not preserved: %v", ids(all))
	}

	state.Get("a").Status = StatusRunning
	running := state.ByStatus(StatusRunning)
	if len(running) != 1 || running[0].TaskID != "a" {
		t.Fatalf("by-status filter wrong: %v", ids(running))
	}
}

func TestSummary(t *testing.T) {
	s := Summary{Total: 4, Completed: 3, Failed: 1}
	if !s.Drained() {
		t.Fatalf("terminal-only summary should be drained")
	}
	if rate := s.SuccessRate(); rate != 75 {
		t.Fatalf("expected 75%% success, got %.1f", rate)
	}
	if (Summary{Total: 1, Pending: 1}).Drained() {
		t.Fatalf("pending task should block drain")
	}
	if (Summary{Total: 1, Running: 1}).Drained() {
		t.Fatalf("running task should block drain")
	}
}

func ids(recs []*TaskRecord) []string {
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = rec.TaskID
	}
	return out
}
