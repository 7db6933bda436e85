package types

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// TaskPlan is a planner batch as submitted over the API.
type TaskPlan struct {
	UserID string `json:"user_id"`
	Tasks  []Task `json:"tasks"`
}

// DecodeTaskPlan parses a planner batch. Planner output is LLM-produced and
// occasionally malformed, so a failed parse is retried once through JSON
// repair before giving up.
func DecodeTaskPlan(raw []byte) (*TaskPlan, error) {
	var plan TaskPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(string(raw))
		if repairErr != nil {
			return nil, fmt.Errorf("decode task plan: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &plan); err != nil {
			return nil, fmt.Errorf("decode task plan after repair: %w", err)
		}
	}
	return &plan, nil
}

// ValidateTasks checks a batch for structural soundness: required fields,
// known execution targets, unique ids, dependencies pointing inside the
// batch or at nothing new, and an acyclic dependency graph.
func ValidateTasks(tasks []Task) error {
	ids := make(map[string]bool, len(tasks))
	for i, task := range tasks {
		if task.TaskID == "" {
			return fmt.Errorf("task %d: missing task_id", i)
		}
		if task.Tool == "" {
			return fmt.Errorf("task %s: missing tool", task.TaskID)
		}
		if !task.ExecutionTarget.Valid() {
			return fmt.Errorf("task %s: invalid execution_target %q", task.TaskID, task.ExecutionTarget)
		}
		if ids[task.TaskID] {
			return fmt.Errorf("duplicate task_id %s", task.TaskID)
		}
		ids[task.TaskID] = true
	}

	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("task %s: dependency %q not in batch", task.TaskID, dep)
			}
			if dep == task.TaskID {
				return fmt.Errorf("task %s: depends on itself", task.TaskID)
			}
		}
	}
	return checkAcyclic(tasks)
}

// checkAcyclic runs a three-color depth-first search over the dependency
// graph.
func checkAcyclic(tasks []Task) error {
	deps := make(map[string][]string, len(tasks))
	for _, task := range tasks {
		deps[task.TaskID] = task.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return fmt.Errorf("dependency cycle through %s", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, task := range tasks {
		if color[task.TaskID] == white {
			if err := visit(task.TaskID); err != nil {
				return err
			}
		}
	}
	return nil
}
