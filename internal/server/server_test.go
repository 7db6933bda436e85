package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/config"
	"maestro/internal/engine"
	"maestro/internal/executor"
	"maestro/internal/logging"
	"maestro/internal/orchestrator"
	"maestro/internal/toolregistry"
	"maestro/internal/transport"
)

func newTestServer(t *testing.T) (*Server, *orchestrator.Orchestrator) {
	t.Helper()
	registry := toolregistry.NewRegistry()
	orch := orchestrator.New(registry, logging.Nop())
	exec := executor.New(registry, executor.Config{}, logging.Nop())
	hub := transport.NewHub(logging.Nop())
	hub.SetAckHandler(orch.HandleClientAck)
	eng := engine.New(orch, exec, hub, engine.Config{
		MaxIterations: 50,
		MaxIdle:       3,
		PollInterval:  5 * time.Millisecond,
		IdleInterval:  5 * time.Millisecond,
	}, logging.Nop())

	cfg := config.ServerConfig{Host: "localhost", Port: 0, EnableCORS: true}
	return New(cfg, orch, eng, hub, registry, logging.Nop()), orch
}

func do(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("non-JSON response for %s %s: %s", method, path, w.Body.String())
	}
	return w, resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	w, resp := do(t, srv, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}

func TestToolsListed(t *testing.T) {
	srv, _ := newTestServer(t)
	w, resp := do(t, srv, http.MethodGet, "/api/tools", "")
	require.Equal(t, http.StatusOK, w.Code)

	data := resp.Data.(map[string]any)
	tools := data["tools"].([]any)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.(map[string]any)["name"].(string))
	}
	assert.Contains(t, names, "web_search")
	assert.Contains(t, names, "file_create")
}

func TestRegisterPlanAndDrain(t *testing.T) {
	srv, orch := newTestServer(t)
	w, resp := do(t, srv, http.MethodPost, "/api/tasks", `{
		"user_id": "u1",
		"tasks": [
			{"task_id": "t1", "tool": "web_search", "execution_target": "server",
			 "inputs": {"query": "go testing"}}
		]
	}`)
	require.Equal(t, http.StatusAccepted, w.Code, "body: %+v", resp)
	require.True(t, resp.Success)

	deadline := time.Now().Add(5 * time.Second)
	for {
		summary := orch.GetSummary("u1")
		if summary.Completed == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never completed: %+v", summary)
		}
		time.Sleep(10 * time.Millisecond)
	}

	w, resp = do(t, srv, http.MethodGet, "/api/tasks/u1/summary", "")
	assert.Equal(t, http.StatusOK, w.Code)
	summary := resp.Data.(map[string]any)["summary"].(map[string]any)
	assert.Equal(t, float64(1), summary["completed"])

	w, resp = do(t, srv, http.MethodGet, "/api/tasks/u1/tasks/t1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	rec := resp.Data.(map[string]any)
	assert.Equal(t, "completed", rec["status"])
}

func TestRegisterPlanRepairsMalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	w, resp := do(t, srv, http.MethodPost, "/api/tasks",
		`{'user_id': 'u1', 'tasks': [{'task_id': 't1', 'tool': 'open_app', 'execution_target': 'client',},]}`)
	assert.Equal(t, http.StatusAccepted, w.Code, "body: %+v", resp)
}

func TestRegisterPlanMissingUser(t *testing.T) {
	srv, _ := newTestServer(t)
	w, resp := do(t, srv, http.MethodPost, "/api/tasks", `{"tasks": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp.Error, "user_id")
}

func TestRegisterPlanInvalidBatch(t *testing.T) {
	srv, _ := newTestServer(t)
	w, resp := do(t, srv, http.MethodPost, "/api/tasks", `{
		"user_id": "u1",
		"tasks": [{"task_id": "t1", "tool": "web_search", "execution_target": "server",
		           "depends_on": ["ghost"]}]
	}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp.Error, "not in batch")
}

func TestStateAndTaskNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	w, _ := do(t, srv, http.MethodGet, "/api/tasks/nobody/state", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, srv, http.MethodGet, "/api/tasks/nobody/tasks/t1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTeardown(t *testing.T) {
	srv, orch := newTestServer(t)
	_, _ = do(t, srv, http.MethodPost, "/api/tasks", `{
		"user_id": "u1",
		"tasks": [{"task_id": "t1", "tool": "open_app", "execution_target": "client",
		           "inputs": {"target": "notes"}}]
	}`)

	w, resp := do(t, srv, http.MethodDelete, "/api/tasks/u1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	if _, ok := orch.GetState("u1"); ok {
		t.Fatalf("state should be gone after teardown")
	}
}

func TestWebsocketRequiresUserID(t *testing.T) {
	srv, _ := newTestServer(t)
	w, resp := do(t, srv, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp.Error, "user_id")
}
