package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"maestro/internal/logging"
	"maestro/internal/orchestrator"
	"maestro/internal/transport"
	"maestro/internal/types"
)

// ServerExecutor runs server-target tasks in-process.
type ServerExecutor interface {
	Execute(ctx context.Context, rec *types.TaskRecord) *types.TaskOutput
}

// Config bounds the driver loop.
type Config struct {
	// MaxIterations is the safety bound on loop turns per driver.
	MaxIterations int
	// MaxIdle exits the loop after this many consecutive turns without
	// runnable work while tasks are still pending or running.
	MaxIdle int
	// PollInterval is the pause between productive iterations.
	PollInterval time.Duration
	// IdleInterval is the pause between idle iterations.
	IdleInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 100
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 300 * time.Millisecond
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 500 * time.Millisecond
	}
	return c
}

// Engine drives registered DAGs to completion, one background driver per
// active user. Each driver repeatedly pulls the runnable batch, fans server
// tasks out in parallel, hands client tasks to the transport grouped into
// chains, and exits once the state is drained.
type Engine struct {
	orch       *orchestrator.Orchestrator
	executor   ServerExecutor
	dispatcher transport.Dispatcher
	logger     logging.Logger
	config     Config

	mu      sync.Mutex
	drivers map[string]*Driver
}

// Driver is the handle for one user's background loop.
type Driver struct {
	userID string
	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed when the driver loop has exited.
func (d *Driver) Done() <-chan struct{} { return d.done }

func (d *Driver) finished() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// New creates an engine.
func New(orch *orchestrator.Orchestrator, exec ServerExecutor, dispatcher transport.Dispatcher, cfg Config, logger logging.Logger) *Engine {
	return &Engine{
		orch:       orch,
		executor:   exec,
		dispatcher: dispatcher,
		logger:     logging.OrNop(logger),
		config:     cfg.withDefaults(),
		drivers:    make(map[string]*Driver),
	}
}

// Start launches the driver for a user. When a driver is already live the
// existing handle is returned, so repeated planner batches for the same user
// never spawn a second loop.
func (e *Engine) Start(userID string) *Driver {
	e.mu.Lock()
	defer e.mu.Unlock()
	if driver, ok := e.drivers[userID]; ok && !driver.finished() {
		e.logger.Debug("driver already running for %s", userID)
		return driver
	}

	ctx, cancel := context.WithCancel(context.Background())
	driver := &Driver{userID: userID, cancel: cancel, done: make(chan struct{})}
	e.drivers[userID] = driver
	go e.run(ctx, driver)

	e.logger.Info("started driver for %s", userID)
	return driver
}

// Stop cancels the driver for a user. In-flight server executions finish and
// their results are still applied; emitted client tasks are not recalled.
func (e *Engine) Stop(userID string) {
	e.mu.Lock()
	driver, ok := e.drivers[userID]
	e.mu.Unlock()
	if ok {
		driver.cancel()
		e.logger.Info("stopped driver for %s", userID)
	}
}

// IsRunning reports whether the user's driver loop is live.
func (e *Engine) IsRunning(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	driver, ok := e.drivers[userID]
	return ok && !driver.finished()
}

func (e *Engine) run(ctx context.Context, driver *Driver) {
	userID := driver.userID
	defer func() {
		close(driver.done)
		e.mu.Lock()
		if current, ok := e.drivers[userID]; ok && current == driver {
			delete(e.drivers, userID)
		}
		e.mu.Unlock()

		summary := e.orch.GetSummary(userID)
		e.logger.Info("[%s] driver exit: total=%d completed=%d failed=%d pending=%d running=%d success=%.1f%%",
			userID, summary.Total, summary.Completed, summary.Failed,
			summary.Pending, summary.Running, summary.SuccessRate())
	}()

	idle := 0
	for iteration := 1; iteration <= e.config.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			return
		}

		batch := e.orch.NextBatch(userID)
		if batch.Empty() {
			summary := e.orch.GetSummary(userID)
			if summary.Drained() {
				e.logger.Info("[%s] drained after %d iterations", userID, iteration)
				return
			}
			idle++
			if idle >= e.config.MaxIdle {
				// The remaining pendings wait on failed dependencies, or
				// emitted client tasks will never be acknowledged.
				e.logger.Warn("[%s] no progress after %d idle iterations, giving up (%d pending, %d running)",
					userID, idle, summary.Pending, summary.Running)
				return
			}
			if !sleepCtx(ctx, e.config.IdleInterval) {
				return
			}
			continue
		}
		idle = 0

		e.logger.Debug("[%s] iteration %d: %d server, %d client", userID, iteration, len(batch.Server), len(batch.Client))
		e.dispatchServerBatch(ctx, userID, batch.Server)
		e.dispatchClientBatch(userID, batch.Client)

		if !sleepCtx(ctx, e.config.PollInterval) {
			return
		}
	}
	e.logger.Warn("[%s] max iterations reached", userID)
}

// dispatchServerBatch executes the runnable server tasks concurrently and
// returns when all of them reached a terminal state.
func (e *Engine) dispatchServerBatch(ctx context.Context, userID string, tasks []*types.TaskRecord) {
	if len(tasks) == 0 {
		return
	}
	var g errgroup.Group
	for _, rec := range tasks {
		g.Go(func() error {
			e.executeServerTask(ctx, userID, rec)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) executeServerTask(ctx context.Context, userID string, rec *types.TaskRecord) {
	resolved, err := e.orch.ResolveInputs(userID, rec.TaskID)
	if err != nil {
		// ResolveInputs already marked the task failed.
		e.surface(userID, rec, failureMessage(rec))
		e.notify(userID, rec.TaskID, types.StatusFailed)
		return
	}

	e.orch.MarkRunning(userID, rec.TaskID)
	e.notify(userID, rec.TaskID, types.StatusRunning)
	if rec.Lifecycle != nil && rec.Lifecycle.OnStart != "" {
		e.surface(userID, rec, rec.Lifecycle.OnStart)
	}

	// The execution context is detached from the driver: stopping a user
	// must not abort in-flight adapter calls, whose results are still
	// applied to state.
	execCtx := context.Background()
	var cancel context.CancelFunc
	timeoutMS := resolved.TimeoutMS()
	if timeoutMS > 0 {
		execCtx, cancel = context.WithTimeout(execCtx, time.Duration(timeoutMS)*time.Millisecond)
		defer cancel()
	}

	result := make(chan *types.TaskOutput, 1)
	go func() {
		result <- e.executor.Execute(execCtx, resolved)
	}()

	select {
	case output := <-result:
		if output != nil && output.Success {
			e.orch.MarkCompleted(userID, rec.TaskID, output)
			e.notify(userID, rec.TaskID, types.StatusCompleted)
			e.surface(userID, rec, successMessage(rec))
			return
		}
		errMsg := "tool execution failed"
		if output != nil && output.Error != "" {
			errMsg = output.Error
		}
		e.orch.MarkFailed(userID, rec.TaskID, types.NewTaskError(types.ErrKindExecution, "%s", errMsg))
		e.notify(userID, rec.TaskID, types.StatusFailed)
		e.surface(userID, rec, failureMessage(rec))
	case <-execCtx.Done():
		e.orch.MarkFailed(userID, rec.TaskID, types.NewTaskError(types.ErrKindTimeout, "task timed out after %dms", timeoutMS))
		e.notify(userID, rec.TaskID, types.StatusFailed)
		e.surface(userID, rec, failureMessage(rec))
	}
}

// dispatchClientBatch groups the runnable client tasks into dependency
// chains and emits each chain in a single trip. Acknowledgments arrive
// asynchronously through the transport; the next loop iteration picks up
// whatever they unblock.
func (e *Engine) dispatchClientBatch(userID string, tasks []*types.TaskRecord) {
	if len(tasks) == 0 {
		return
	}

	inBatch := make(map[string]bool, len(tasks))
	for _, rec := range tasks {
		inBatch[rec.TaskID] = true
	}

	for _, chain := range groupChains(tasks) {
		// A head depending on a member of another chain in this batch is
		// premature: leave it pending for a later iteration, after its
		// source completed.
		if dependsOnSlice(chain[0], inBatch) {
			e.logger.Debug("[%s] deferring chain at %s to a later iteration", userID, chain[0].TaskID)
			continue
		}
		if len(chain) > 1 {
			e.emitChain(userID, chain)
		} else {
			e.emitSingle(userID, chain[0])
		}
	}
}

func dependsOnSlice(rec *types.TaskRecord, inBatch map[string]bool) bool {
	for _, dep := range rec.DependsOn {
		if inBatch[dep] {
			return true
		}
	}
	return false
}

func (e *Engine) emitChain(userID string, chain []*types.TaskRecord) {
	resolved := make([]*types.TaskRecord, 0, len(chain))
	prefix := make([]string, 0, len(chain))
	for _, rec := range chain {
		// Bindings onto earlier chain members stay unresolved; the client
		// materializes them locally from its own outputs.
		clone, err := e.orch.ResolveInputs(userID, rec.TaskID, prefix...)
		if err != nil {
			e.surface(userID, rec, failureMessage(rec))
			e.notify(userID, rec.TaskID, types.StatusFailed)
			// Later members depend on this one; they stay pending and the
			// idle counter will drain them.
			break
		}
		resolved = append(resolved, clone)
		prefix = append(prefix, rec.TaskID)
	}
	if len(resolved) == 0 {
		return
	}
	if len(resolved) == 1 {
		e.emitResolved(userID, resolved[0])
		return
	}

	for _, rec := range resolved {
		e.orch.MarkEmitted(userID, rec.TaskID)
		if rec.Lifecycle != nil && rec.Lifecycle.OnStart != "" {
			e.surface(userID, rec, rec.Lifecycle.OnStart)
		}
	}
	e.logger.Info("[%s] emitting chain of %d tasks starting at %s", userID, len(resolved), resolved[0].TaskID)
	if err := e.dispatcher.EmitBatch(userID, resolved); err != nil {
		for _, rec := range resolved {
			e.orch.MarkFailed(userID, rec.TaskID, types.NewTaskError(types.ErrKindTransport, "emit batch: %v", err))
		}
	}
}

func (e *Engine) emitSingle(userID string, rec *types.TaskRecord) {
	clone, err := e.orch.ResolveInputs(userID, rec.TaskID)
	if err != nil {
		e.surface(userID, rec, failureMessage(rec))
		e.notify(userID, rec.TaskID, types.StatusFailed)
		return
	}
	e.emitResolved(userID, clone)
}

func (e *Engine) emitResolved(userID string, rec *types.TaskRecord) {
	e.orch.MarkEmitted(userID, rec.TaskID)
	if rec.Lifecycle != nil && rec.Lifecycle.OnStart != "" {
		e.surface(userID, rec, rec.Lifecycle.OnStart)
	}
	if err := e.dispatcher.EmitSingle(userID, rec); err != nil {
		e.orch.MarkFailed(userID, rec.TaskID, types.NewTaskError(types.ErrKindTransport, "emit task: %v", err))
	}
}

// notify pushes an advisory status update when the transport supports it.
func (e *Engine) notify(userID, taskID string, status types.TaskStatus) {
	if notifier, ok := e.dispatcher.(transport.StatusNotifier); ok {
		notifier.NotifyStatus(userID, taskID, status)
	}
}

// surface hands a lifecycle message to the user-facing layer.
func (e *Engine) surface(userID string, rec *types.TaskRecord, message string) {
	if message == "" {
		return
	}
	e.logger.Info("[%s] %s: %s", userID, rec.TaskID, message)
}

func successMessage(rec *types.TaskRecord) string {
	if rec.Lifecycle == nil {
		return ""
	}
	return rec.Lifecycle.OnSuccess
}

func failureMessage(rec *types.TaskRecord) string {
	if rec.Lifecycle == nil {
		return ""
	}
	return rec.Lifecycle.OnFailure
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
