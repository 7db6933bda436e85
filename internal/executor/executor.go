package executor

import (
	"context"
	"fmt"
	"time"

	"maestro/internal/logging"
	"maestro/internal/toolregistry"
	"maestro/internal/types"
)

// Adapter is one server-side tool implementation. Adapters must be safe for
// concurrent calls; the executor never serializes them.
type Adapter func(ctx context.Context, inputs map[string]any) (*types.TaskOutput, error)

// Config tunes the executor.
type Config struct {
	// CacheSize is the LRU entry bound for the result cache. Zero disables
	// caching.
	CacheSize int
	// CacheTTL is how long a cached result stays valid.
	CacheTTL time.Duration
	// SearchAPIKey enables the live web_search backend; when empty the
	// adapter serves deterministic offline results.
	SearchAPIKey string
	// SearchEndpoint overrides the search API URL, mainly for tests.
	SearchEndpoint string
}

// Executor invokes server-side tool adapters with a task's resolved inputs.
// It holds no per-user state and no per-user locks; any number of tasks from
// any number of users may execute concurrently.
type Executor struct {
	registry *toolregistry.Registry
	logger   logging.Logger
	adapters adapterMap
	cache    *resultCache
}

// New creates an executor with the built-in adapters registered.
func New(registry *toolregistry.Registry, cfg Config, logger logging.Logger) *Executor {
	e := &Executor{
		registry: registry,
		logger:   logging.OrNop(logger),
		adapters: newAdapterMap(),
		cache:    newResultCache(cfg.CacheSize, cfg.CacheTTL),
	}
	search := newWebSearch(cfg.SearchAPIKey, cfg.SearchEndpoint, nil)
	e.adapters.set("web_search", search.execute)
	return e
}

// RegisterAdapter installs or replaces the adapter for a tool name.
func (e *Executor) RegisterAdapter(name string, adapter Adapter) {
	e.adapters.set(name, adapter)
	e.logger.Info("registered adapter: %s", name)
}

// Execute runs the task's tool adapter and returns a structured output.
// Failures never surface as errors: they are encoded in the output so the
// engine can record them uniformly.
func (e *Executor) Execute(ctx context.Context, rec *types.TaskRecord) *types.TaskOutput {
	inputs := rec.ResolvedInputs
	if len(inputs) == 0 {
		inputs = rec.Inputs
	}

	if !e.registry.IsKnown(rec.Tool) {
		return failure("tool %s not found", rec.Tool)
	}
	adapter, ok := e.adapters.get(rec.Tool)
	if !ok {
		return failure("no adapter registered for tool %s", rec.Tool)
	}

	if cached, ok := e.cache.lookup(rec.Tool, inputs); ok {
		e.logger.Debug("cache hit for %s", rec.Tool)
		return cached
	}

	output, err := invoke(ctx, adapter, inputs)
	if err != nil {
		e.logger.Warn("tool %s failed: %v", rec.Tool, err)
		return failure("%v", err)
	}
	if output == nil || (output.Success && output.Data == nil) {
		return failure("tool %s returned an empty payload", rec.Tool)
	}
	if output.Success {
		e.cache.store(rec.Tool, inputs, output)
	}
	return output
}

// invoke calls the adapter, converting panics into errors so one misbehaving
// adapter cannot take down a driver.
func invoke(ctx context.Context, adapter Adapter, inputs map[string]any) (output *types.TaskOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return adapter(ctx, inputs)
}

func failure(format string, args ...any) *types.TaskOutput {
	return &types.TaskOutput{Success: false, Data: map[string]any{}, Error: fmt.Sprintf(format, args...)}
}
