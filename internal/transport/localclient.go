package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"maestro/internal/logging"
	"maestro/internal/types"
)

// ClientTool is one device-side tool implementation for the local client.
type ClientTool func(inputs map[string]any) (map[string]any, error)

// LocalClient emulates an end-user device in-process. It receives dispatched
// tasks, executes entire chains locally without extra server round-trips,
// resolves intra-chain input bindings from its own completed outputs, and
// acknowledges every task back to the server.
type LocalClient struct {
	ack    AckHandler
	logger logging.Logger

	mu      sync.Mutex
	outputs map[string]map[string]any // task id -> output data
	tools   map[string]ClientTool
}

// NewLocalClient creates a client with simulated implementations of the
// built-in device tools.
func NewLocalClient(ack AckHandler, logger logging.Logger) *LocalClient {
	c := &LocalClient{
		ack:     ack,
		logger:  logging.OrNop(logger),
		outputs: make(map[string]map[string]any),
		tools:   make(map[string]ClientTool),
	}
	c.tools["folder_create"] = func(inputs map[string]any) (map[string]any, error) {
		path, _ := inputs["path"].(string)
		return map[string]any{"folder_path": path, "created_at": time.Now().Format(time.RFC3339)}, nil
	}
	c.tools["file_create"] = func(inputs map[string]any) (map[string]any, error) {
		path, _ := inputs["path"].(string)
		content := fmt.Sprint(inputs["content"])
		if inputs["content"] == nil {
			content = ""
		}
		return map[string]any{"path": path, "size_bytes": len(content), "created_at": time.Now().Format(time.RFC3339)}, nil
	}
	c.tools["file_search"] = func(inputs map[string]any) (map[string]any, error) {
		return map[string]any{"results": []any{}, "total": 0}, nil
	}
	c.tools["open_app"] = func(inputs map[string]any) (map[string]any, error) {
		return map[string]any{"process_id": 12345, "target": inputs["target"]}, nil
	}
	c.tools["close_app"] = func(inputs map[string]any) (map[string]any, error) {
		return map[string]any{"exit_code": 0, "target": inputs["target"]}, nil
	}
	return c
}

// RegisterTool installs or replaces a device tool, mainly for tests.
func (c *LocalClient) RegisterTool(name string, tool ClientTool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[name] = tool
}

// Receive consumes a dispatch. Chains run member by member in wire order;
// every task is acknowledged individually after the whole dispatch ran,
// mirroring the batch acknowledgment of a real device.
func (c *LocalClient) Receive(userID string, tasks []*types.TaskRecord, isChain bool) {
	results := make([]TaskResult, 0, len(tasks))
	for _, task := range tasks {
		output := c.run(task)
		results = append(results, TaskResult{TaskID: task.TaskID, Result: *output})
	}
	if c.ack == nil {
		return
	}
	for _, result := range results {
		output := result.Result
		c.ack(userID, result.TaskID, &output)
	}
}

func (c *LocalClient) run(task *types.TaskRecord) *types.TaskOutput {
	c.mu.Lock()
	tool, ok := c.tools[task.Tool]
	c.mu.Unlock()
	if !ok {
		return &types.TaskOutput{Success: false, Error: fmt.Sprintf("no client tool for %s", task.Tool)}
	}

	inputs, err := c.resolveLocal(task)
	if err != nil {
		return &types.TaskOutput{Success: false, Error: err.Error()}
	}

	if task.Lifecycle != nil && task.Lifecycle.OnStart != "" {
		c.logger.Info("client: %s", task.Lifecycle.OnStart)
	}
	data, err := tool(inputs)
	if err != nil {
		if task.Lifecycle != nil && task.Lifecycle.OnFailure != "" {
			c.logger.Info("client: %s", task.Lifecycle.OnFailure)
		}
		return &types.TaskOutput{Success: false, Error: err.Error()}
	}
	if task.Lifecycle != nil && task.Lifecycle.OnSuccess != "" {
		c.logger.Info("client: %s", task.Lifecycle.OnSuccess)
	}

	c.mu.Lock()
	c.outputs[task.TaskID] = data
	c.mu.Unlock()
	return &types.TaskOutput{Success: true, Data: data}
}

// resolveLocal starts from the server-resolved inputs and fills any binding
// the server deferred to the chain from locally completed outputs.
func (c *LocalClient) resolveLocal(task *types.TaskRecord) (map[string]any, error) {
	inputs := make(map[string]any)
	for k, v := range task.Inputs {
		inputs[k] = v
	}
	for k, v := range task.ResolvedInputs {
		inputs[k] = v
	}
	for param, ref := range task.InputBindings {
		if _, resolved := task.ResolvedInputs[param]; resolved {
			continue
		}
		value, err := c.lookupRef(ref)
		if err != nil {
			return nil, err
		}
		inputs[param] = value
	}
	return inputs, nil
}

func (c *LocalClient) lookupRef(ref string) (any, error) {
	if !strings.HasPrefix(ref, "$.") {
		return nil, fmt.Errorf("malformed reference %q", ref)
	}
	parts := strings.Split(ref[2:], ".")
	if len(parts) < 4 || parts[1] != "output" || parts[2] != "data" {
		return nil, fmt.Errorf("malformed reference %q", ref)
	}

	c.mu.Lock()
	data, ok := c.outputs[parts[0]]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("reference %q: task %s has no local output", ref, parts[0])
	}

	var current any = data
	for _, field := range parts[3:] {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("reference %q: path miss at %s", ref, field)
		}
		current, ok = node[field]
		if !ok {
			return nil, fmt.Errorf("reference %q: field %s not found", ref, field)
		}
	}
	return current, nil
}
