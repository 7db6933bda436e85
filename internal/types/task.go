package types

// ExecutionTarget names where a task runs.
type ExecutionTarget string

const (
	// TargetServer tasks execute in-process through the tool executor.
	TargetServer ExecutionTarget = "server"
	// TargetClient tasks are dispatched to the user's device over the
	// client transport and complete on acknowledgment.
	TargetClient ExecutionTarget = "client"
)

// Valid reports whether the target is one of the known values.
func (t ExecutionTarget) Valid() bool {
	return t == TargetServer || t == TargetClient
}

// TaskStatus is a task's lifecycle state. The machine is monotone:
// pending -> running -> completed | failed, with pending -> failed for
// tasks rejected at registration.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// CanTransition reports whether moving to next is legal from the current
// status. Terminal states accept nothing.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// LifecycleMessages are user-facing strings surfaced as the task moves
// through its lifecycle.
type LifecycleMessages struct {
	OnStart   string `json:"on_start,omitempty"`
	OnSuccess string `json:"on_success,omitempty"`
	OnFailure string `json:"on_failure,omitempty"`
}

// Control carries per-task execution policy.
type Control struct {
	// TimeoutMS bounds server-side execution; zero means no timeout.
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
	OnFailure string `json:"on_failure,omitempty"`
}

// Task is one planner-produced unit of work as it arrives on the wire.
type Task struct {
	TaskID          string             `json:"task_id"`
	Tool            string             `json:"tool"`
	ExecutionTarget ExecutionTarget    `json:"execution_target"`
	DependsOn       []string           `json:"depends_on,omitempty"`
	Inputs          map[string]any     `json:"inputs,omitempty"`
	InputBindings   map[string]string  `json:"input_bindings,omitempty"`
	Lifecycle       *LifecycleMessages `json:"lifecycle_messages,omitempty"`
	Control         *Control           `json:"control,omitempty"`
}

// TimeoutMS returns the configured execution timeout, zero when unset.
func (t *Task) TimeoutMS() int64 {
	if t.Control == nil {
		return 0
	}
	return t.Control.TimeoutMS
}

// DependsOnTask reports whether id is among the task's dependencies.
func (t *Task) DependsOnTask(id string) bool {
	for _, dep := range t.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}

// TaskOutput is the structured result of one execution, server or client.
type TaskOutput struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Clone returns a deep copy.
func (o *TaskOutput) Clone() *TaskOutput {
	if o == nil {
		return nil
	}
	return &TaskOutput{
		Success: o.Success,
		Data:    cloneValueMap(o.Data),
		Error:   o.Error,
	}
}

// CloneValue deep-copies a JSON-shaped value (maps, slices, scalars).
func CloneValue(v any) any {
	return cloneValue(v)
}

// cloneValueMap deep-copies a JSON-shaped map.
func cloneValueMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneValueMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
