package types

import "time"

// TaskRecord is a Task plus everything the runtime learned about it. The
// embedded Task keeps the wire shape flat: a record marshals with the task
// fields at the top level, which is what client devices expect.
type TaskRecord struct {
	Task

	Status         TaskStatus     `json:"status"`
	ResolvedInputs map[string]any `json:"resolved_inputs,omitempty"`
	Output         *TaskOutput    `json:"output,omitempty"`
	Error          string         `json:"error,omitempty"`
	ErrorKind      ErrorKind      `json:"error_kind,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	EmittedAt     *time.Time `json:"emitted_at,omitempty"`
	AckReceivedAt *time.Time `json:"ack_received_at,omitempty"`
	DurationMS    int64      `json:"duration_ms,omitempty"`
}

// NewTaskRecord wraps a planner task into a pending record.
func NewTaskRecord(task Task) *TaskRecord {
	return &TaskRecord{
		Task:      task,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// Clone returns a deep copy of the record.
func (r *TaskRecord) Clone() *TaskRecord {
	if r == nil {
		return nil
	}
	clone := *r

	if r.DependsOn != nil {
		clone.DependsOn = append([]string(nil), r.DependsOn...)
	}
	clone.Inputs = cloneValueMap(r.Inputs)
	if r.InputBindings != nil {
		bindings := make(map[string]string, len(r.InputBindings))
		for k, v := range r.InputBindings {
			bindings[k] = v
		}
		clone.InputBindings = bindings
	}
	if r.Lifecycle != nil {
		lifecycle := *r.Lifecycle
		clone.Lifecycle = &lifecycle
	}
	if r.Control != nil {
		control := *r.Control
		clone.Control = &control
	}

	clone.ResolvedInputs = cloneValueMap(r.ResolvedInputs)
	clone.Output = r.Output.Clone()
	clone.StartedAt = cloneTime(r.StartedAt)
	clone.CompletedAt = cloneTime(r.CompletedAt)
	clone.EmittedAt = cloneTime(r.EmittedAt)
	clone.AckReceivedAt = cloneTime(r.AckReceivedAt)
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}

// ExecutionState is one user's task store. It preserves insertion order,
// which downstream scheduling relies on. Not safe for concurrent use; the
// orchestrator serializes access per user.
type ExecutionState struct {
	UserID    string    `json:"user_id"`
	UpdatedAt time.Time `json:"updated_at"`

	order   []string
	records map[string]*TaskRecord
}

// NewExecutionState creates an empty state for a user.
func NewExecutionState(userID string) *ExecutionState {
	return &ExecutionState{
		UserID:    userID,
		UpdatedAt: time.Now(),
		records:   make(map[string]*TaskRecord),
	}
}

// Add stores a record, refusing duplicates. Returns whether it was added.
func (s *ExecutionState) Add(rec *TaskRecord) bool {
	if _, exists := s.records[rec.TaskID]; exists {
		return false
	}
	s.records[rec.TaskID] = rec
	s.order = append(s.order, rec.TaskID)
	s.UpdatedAt = time.Now()
	return true
}

// Get returns the live record for a task id, nil when absent.
func (s *ExecutionState) Get(taskID string) *TaskRecord {
	return s.records[taskID]
}

// Len returns the number of stored tasks.
func (s *ExecutionState) Len() int { return len(s.order) }

// All returns the live records in insertion order.
func (s *ExecutionState) All() []*TaskRecord {
	out := make([]*TaskRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

// ByStatus returns the live records with the given status, in insertion
// order.
func (s *ExecutionState) ByStatus(status TaskStatus) []*TaskRecord {
	var out []*TaskRecord
	for _, id := range s.order {
		if rec := s.records[id]; rec.Status == status {
			out = append(out, rec)
		}
	}
	return out
}

// Touch bumps the modification timestamp.
func (s *ExecutionState) Touch() {
	s.UpdatedAt = time.Now()
}

// Clone returns a deep copy for inspection outside the user lock.
func (s *ExecutionState) Clone() *ExecutionState {
	clone := &ExecutionState{
		UserID:    s.UserID,
		UpdatedAt: s.UpdatedAt,
		order:     append([]string(nil), s.order...),
		records:   make(map[string]*TaskRecord, len(s.records)),
	}
	for id, rec := range s.records {
		clone.records[id] = rec.Clone()
	}
	return clone
}

// Snapshot returns deep copies of all records in insertion order.
func (s *ExecutionState) Snapshot() []*TaskRecord {
	out := make([]*TaskRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out
}

// TaskBatch is the runnable work of one scheduling pass, partitioned by
// execution target, each side in insertion order.
type TaskBatch struct {
	Server []*TaskRecord
	Client []*TaskRecord
}

// Empty reports whether the batch holds no work.
func (b TaskBatch) Empty() bool {
	return len(b.Server) == 0 && len(b.Client) == 0
}

// Summary counts a user's tasks by status.
type Summary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Drained reports whether no task can make further progress.
func (s Summary) Drained() bool {
	return s.Pending == 0 && s.Running == 0
}

// SuccessRate returns the completed percentage over all terminal tasks.
func (s Summary) SuccessRate() float64 {
	terminal := s.Completed + s.Failed
	if terminal == 0 {
		return 0
	}
	return float64(s.Completed) / float64(terminal) * 100
}
