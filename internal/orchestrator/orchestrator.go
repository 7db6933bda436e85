package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"maestro/internal/logging"
	"maestro/internal/toolregistry"
	"maestro/internal/types"
)

// Orchestrator is the per-user task state store. It accepts planner batches,
// answers "what is runnable?", and applies every status transition. All
// operations on one user's state are serialized by that user's lock; the
// orchestrator itself never dispatches anything.
type Orchestrator struct {
	registry *toolregistry.Registry
	logger   logging.Logger
	metrics  *Metrics

	mu    sync.Mutex
	users map[string]*userState
}

// userState pairs one user's ExecutionState with its lock.
type userState struct {
	mu    sync.Mutex
	state *types.ExecutionState
}

// New creates an orchestrator backed by the given tool registry.
func New(registry *toolregistry.Registry, logger logging.Logger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		logger:   logging.OrNop(logger),
		metrics:  defaultMetrics(),
		users:    make(map[string]*userState),
	}
}

// WithMetrics swaps the metrics sink, used by tests with a private registry.
func (o *Orchestrator) WithMetrics(m *Metrics) *Orchestrator {
	o.metrics = m
	return o
}

func (o *Orchestrator) user(userID string, create bool) *userState {
	o.mu.Lock()
	defer o.mu.Unlock()
	us, ok := o.users[userID]
	if !ok && create {
		us = &userState{state: types.NewExecutionState(userID)}
		o.users[userID] = us
		o.logger.Info("created execution state for user %s", userID)
	}
	return us
}

// Register validates and stores a batch of planner tasks for a user. Unknown
// tools are recorded as failed so they surface in the final state but are
// never dispatched. An empty batch is a no-op.
func (o *Orchestrator) Register(userID string, tasks []types.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	if err := types.ValidateTasks(tasks); err != nil {
		return fmt.Errorf("register tasks for %s: %w", userID, err)
	}

	us := o.user(userID, true)
	us.mu.Lock()
	defer us.mu.Unlock()

	for _, task := range tasks {
		record := types.NewTaskRecord(task)
		if !o.registry.IsKnown(task.Tool) {
			now := time.Now()
			record.Status = types.StatusFailed
			record.Error = fmt.Sprintf("tool %s not found", task.Tool)
			record.ErrorKind = types.ErrKindValidation
			record.Output = &types.TaskOutput{Success: false, Error: record.Error}
			record.CompletedAt = &now
			o.metrics.IncFailure(task.Tool, string(types.ErrKindValidation))
			o.logger.Warn("[%s] task %s rejected: %s", userID, task.TaskID, record.Error)
		}
		if !us.state.Add(record) {
			o.logger.Warn("[%s] duplicate task %s ignored", userID, task.TaskID)
			continue
		}
	}
	o.metrics.IncRegistered(len(tasks))
	o.logger.Info("[%s] registered %d tasks", userID, len(tasks))
	return nil
}

// NextBatch returns the pending tasks that can be dispatched now, partitioned
// by execution target, in insertion order. Server tasks are admitted only
// when every dependency is completed. Client tasks are additionally admitted
// when their remaining dependencies are client tasks already admitted to the
// same batch: such groups leave as one chain and the client resolves the
// internal hand-offs locally. A failed dependency permanently disqualifies
// its dependents; they stay pending and the engine detects the stuck graph
// through its idle counter.
func (o *Orchestrator) NextBatch(userID string) types.TaskBatch {
	us := o.user(userID, false)
	if us == nil {
		return types.TaskBatch{}
	}
	us.mu.Lock()
	defer us.mu.Unlock()

	pending := us.state.ByStatus(types.StatusPending)

	var batch types.TaskBatch
	admittedClients := make(map[string]bool)
	for _, rec := range pending {
		if !dependenciesMet(us.state, rec, nil) {
			continue
		}
		clone := rec.Clone()
		switch rec.ExecutionTarget {
		case types.TargetServer:
			batch.Server = append(batch.Server, clone)
		case types.TargetClient:
			batch.Client = append(batch.Client, clone)
			admittedClients[rec.TaskID] = true
		}
	}

	// Fixpoint pass: pull in pending client tasks that only wait on client
	// tasks already leaving in this batch.
	for {
		grew := false
		for _, rec := range pending {
			if rec.ExecutionTarget != types.TargetClient || admittedClients[rec.TaskID] {
				continue
			}
			if !dependenciesMet(us.state, rec, admittedClients) {
				continue
			}
			batch.Client = append(batch.Client, rec.Clone())
			admittedClients[rec.TaskID] = true
			grew = true
		}
		if !grew {
			break
		}
	}

	// The fixpoint pass may append out of order; restore insertion order.
	position := make(map[string]int, len(pending))
	for i, rec := range pending {
		position[rec.TaskID] = i
	}
	sort.SliceStable(batch.Client, func(i, j int) bool {
		return position[batch.Client[i].TaskID] < position[batch.Client[j].TaskID]
	})
	return batch
}

// dependenciesMet reports whether every dependency is completed, or admitted
// in the given set.
func dependenciesMet(state *types.ExecutionState, rec *types.TaskRecord, admitted map[string]bool) bool {
	for _, dep := range rec.DependsOn {
		if admitted[dep] {
			continue
		}
		source := state.Get(dep)
		if source == nil || source.Status != types.StatusCompleted {
			return false
		}
	}
	return true
}

// ResolveInputs materializes the task's resolved_inputs immediately before
// dispatch. Sources listed in deferSources are left for client-side
// resolution (earlier members of the same emitted chain). On resolution
// failure the task is marked failed with a binding error and is not
// dispatched.
func (o *Orchestrator) ResolveInputs(userID, taskID string, deferSources ...string) (*types.TaskRecord, error) {
	us := o.user(userID, false)
	if us == nil {
		return nil, fmt.Errorf("no execution state for user %s", userID)
	}
	us.mu.Lock()
	defer us.mu.Unlock()

	rec := us.state.Get(taskID)
	if rec == nil {
		return nil, fmt.Errorf("task %s not found for user %s", taskID, userID)
	}

	deferred := make(map[string]bool, len(deferSources))
	for _, id := range deferSources {
		deferred[id] = true
	}

	resolved, err := resolveBindings(us.state, rec, deferred)
	if err != nil {
		o.failLocked(us.state, rec, err)
		return nil, err
	}
	rec.ResolvedInputs = resolved
	us.state.Touch()
	return rec.Clone(), nil
}

// MarkRunning transitions a task to running and stamps started_at.
func (o *Orchestrator) MarkRunning(userID, taskID string) {
	o.withTask(userID, taskID, func(state *types.ExecutionState, rec *types.TaskRecord) {
		if !o.transition(userID, rec, types.StatusRunning) {
			return
		}
		now := time.Now()
		rec.StartedAt = &now
		o.metrics.IncActive()
		o.logger.Info("[%s] task %s started", userID, taskID)
	})
}

// MarkCompleted transitions a task to completed, storing its output for
// downstream binding resolution.
func (o *Orchestrator) MarkCompleted(userID, taskID string, output *types.TaskOutput) {
	o.withTask(userID, taskID, func(state *types.ExecutionState, rec *types.TaskRecord) {
		o.completeLocked(userID, rec, output)
	})
}

// MarkFailed transitions a task to failed with the given error. The error's
// kind is preserved when it is a TaskError.
func (o *Orchestrator) MarkFailed(userID, taskID string, err error) {
	o.withTask(userID, taskID, func(state *types.ExecutionState, rec *types.TaskRecord) {
		o.failLocked(state, rec, err)
	})
}

// MarkEmitted records that a client task left for the device: the task is
// running from the engine's perspective from the moment it is handed to the
// transport.
func (o *Orchestrator) MarkEmitted(userID, taskID string) {
	o.withTask(userID, taskID, func(state *types.ExecutionState, rec *types.TaskRecord) {
		if !o.transition(userID, rec, types.StatusRunning) {
			return
		}
		now := time.Now()
		rec.EmittedAt = &now
		rec.StartedAt = &now
		o.metrics.IncActive()
		o.logger.Info("[%s] task %s emitted to client", userID, taskID)
	})
}

// HandleClientAck applies a client acknowledgment: success routes to
// completion, failure to a client-reported error. Only emitted (running)
// tasks accept acks; stray acks leave the record untouched.
func (o *Orchestrator) HandleClientAck(userID, taskID string, output *types.TaskOutput) {
	o.withTask(userID, taskID, func(state *types.ExecutionState, rec *types.TaskRecord) {
		if rec.Status != types.StatusRunning {
			o.logger.Warn("[%s] ignoring ack for %s task %s", userID, rec.Status, taskID)
			return
		}
		now := time.Now()
		rec.AckReceivedAt = &now
		if output != nil && output.Success {
			o.completeLocked(userID, rec, output)
			return
		}
		msg := "client execution failed"
		if output != nil && output.Error != "" {
			msg = output.Error
		}
		o.failLocked(state, rec, types.NewTaskError(types.ErrKindClientReported, "%s", msg))
	})
}

// GetTask returns a deep copy of one task record.
func (o *Orchestrator) GetTask(userID, taskID string) (*types.TaskRecord, bool) {
	var out *types.TaskRecord
	o.withTask(userID, taskID, func(state *types.ExecutionState, rec *types.TaskRecord) {
		out = rec.Clone()
	})
	return out, out != nil
}

// GetState returns a deep copy of the user's execution state for inspection.
func (o *Orchestrator) GetState(userID string) (*types.ExecutionState, bool) {
	us := o.user(userID, false)
	if us == nil {
		return nil, false
	}
	us.mu.Lock()
	defer us.mu.Unlock()
	return us.state.Clone(), true
}

// GetSummary returns task counts by status.
func (o *Orchestrator) GetSummary(userID string) types.Summary {
	us := o.user(userID, false)
	if us == nil {
		return types.Summary{}
	}
	us.mu.Lock()
	defer us.mu.Unlock()

	var summary types.Summary
	for _, rec := range us.state.All() {
		summary.Total++
		switch rec.Status {
		case types.StatusPending:
			summary.Pending++
		case types.StatusRunning:
			summary.Running++
		case types.StatusCompleted:
			summary.Completed++
		case types.StatusFailed:
			summary.Failed++
		}
	}
	return summary
}

// Cleanup tears down a user's execution state, typically on disconnect.
func (o *Orchestrator) Cleanup(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.users[userID]; ok {
		delete(o.users, userID)
		o.logger.Info("cleaned up state for user %s", userID)
	}
}

// withTask runs fn with the user lock held and the record in place. Missing
// users or tasks are ignored with a warning, matching the tolerant contract
// of the mark operations.
func (o *Orchestrator) withTask(userID, taskID string, fn func(*types.ExecutionState, *types.TaskRecord)) {
	us := o.user(userID, false)
	if us == nil {
		o.logger.Warn("no execution state for user %s", userID)
		return
	}
	us.mu.Lock()
	defer us.mu.Unlock()
	rec := us.state.Get(taskID)
	if rec == nil {
		o.logger.Warn("[%s] unknown task %s", userID, taskID)
		return
	}
	fn(us.state, rec)
	us.state.Touch()
}

// transition applies the status change when legal; illegal transitions are
// no-ops with a warning.
func (o *Orchestrator) transition(userID string, rec *types.TaskRecord, next types.TaskStatus) bool {
	if !rec.Status.CanTransition(next) {
		o.logger.Warn("[%s] illegal transition %s -> %s for task %s ignored", userID, rec.Status, next, rec.TaskID)
		return false
	}
	rec.Status = next
	return true
}

func (o *Orchestrator) completeLocked(userID string, rec *types.TaskRecord, output *types.TaskOutput) {
	if !o.transition(userID, rec, types.StatusCompleted) {
		return
	}
	now := time.Now()
	rec.Output = output
	rec.CompletedAt = &now
	if rec.StartedAt != nil {
		rec.DurationMS = now.Sub(*rec.StartedAt).Milliseconds()
		o.metrics.ObserveDuration(rec.Tool, string(types.StatusCompleted), now.Sub(*rec.StartedAt))
	}
	o.metrics.DecActive()
	o.logger.Info("[%s] task %s completed in %dms", userID, rec.TaskID, rec.DurationMS)
}

func (o *Orchestrator) failLocked(state *types.ExecutionState, rec *types.TaskRecord, err error) {
	wasRunning := rec.Status == types.StatusRunning
	if !o.transition(state.UserID, rec, types.StatusFailed) {
		return
	}
	now := time.Now()
	kind := types.KindOf(err)
	rec.Error = err.Error()
	rec.ErrorKind = kind
	rec.CompletedAt = &now
	if rec.Output == nil {
		rec.Output = &types.TaskOutput{Success: false, Error: rec.Error}
	}
	if rec.StartedAt != nil {
		rec.DurationMS = now.Sub(*rec.StartedAt).Milliseconds()
		o.metrics.ObserveDuration(rec.Tool, string(types.StatusFailed), now.Sub(*rec.StartedAt))
	}
	if wasRunning {
		o.metrics.DecActive()
	}
	o.metrics.IncFailure(rec.Tool, string(kind))
	o.logger.Error("[%s] task %s failed: %s", state.UserID, rec.TaskID, rec.Error)
}
