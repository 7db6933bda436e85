package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/logging"
	"maestro/internal/types"
)

type ackRecorder struct {
	mu   sync.Mutex
	acks []struct {
		userID string
		taskID string
		output types.TaskOutput
	}
}

func (r *ackRecorder) handle(userID, taskID string, output *types.TaskOutput) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, struct {
		userID string
		taskID string
		output types.TaskOutput
	}{userID, taskID, *output})
}

func (r *ackRecorder) wait(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		count := len(r.acks)
		r.mu.Unlock()
		if count >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d acks", n)
}

func dialHub(t *testing.T, hub *Hub, userID string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.HandleUpgrade(w, r, r.URL.Query().Get("user_id")); err != nil {
			t.Errorf("upgrade failed: %v", err)
		}
	}))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for !hub.IsConnected(userID) {
		if time.Now().After(deadline) {
			t.Fatalf("hub never registered %s", userID)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestHubEmitSingleReachesClient(t *testing.T) {
	hub := NewHub(logging.Nop())
	conn := dialHub(t, hub, "u1")

	task := types.NewTaskRecord(types.Task{
		TaskID:          "t1",
		Tool:            "open_app",
		ExecutionTarget: types.TargetClient,
		Inputs:          map[string]any{"target": "notes"},
	})
	require.NoError(t, hub.EmitSingle("u1", task))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, EventExecute, env.Event)

	var received types.TaskRecord
	require.NoError(t, json.Unmarshal(env.Payload, &received))
	assert.Equal(t, "t1", received.TaskID)
	assert.Equal(t, "open_app", received.Tool)
}

func TestHubEmitBatchCarriesChainFlag(t *testing.T) {
	hub := NewHub(logging.Nop())
	conn := dialHub(t, hub, "u1")

	tasks := []*types.TaskRecord{
		types.NewTaskRecord(types.Task{TaskID: "t1", Tool: "folder_create", ExecutionTarget: types.TargetClient}),
		types.NewTaskRecord(types.Task{TaskID: "t2", Tool: "file_create", ExecutionTarget: types.TargetClient, DependsOn: []string{"t1"}}),
	}
	require.NoError(t, hub.EmitBatch("u1", tasks))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, EventExecuteBatch, env.Event)

	var payload BatchPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.True(t, payload.IsChain)
	require.Len(t, payload.Tasks, 2)
	assert.Equal(t, "t1", payload.Tasks[0].TaskID)
}

func TestHubRoutesSingleResult(t *testing.T) {
	hub := NewHub(logging.Nop())
	recorder := &ackRecorder{}
	hub.SetAckHandler(recorder.handle)
	conn := dialHub(t, hub, "u1")

	env, err := NewEnvelope(EventResult, ResultPayload{
		// The payload user id is attacker-controlled and must be ignored in
		// favor of the session identity.
		UserID: "someone-else",
		TaskID: "t1",
		Result: types.TaskOutput{Success: true, Data: map[string]any{"ok": true}},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	recorder.wait(t, 1)
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Equal(t, "u1", recorder.acks[0].userID)
	assert.Equal(t, "t1", recorder.acks[0].taskID)
	assert.True(t, recorder.acks[0].output.Success)
}

func TestHubRoutesBatchResultsInOrder(t *testing.T) {
	hub := NewHub(logging.Nop())
	recorder := &ackRecorder{}
	hub.SetAckHandler(recorder.handle)
	conn := dialHub(t, hub, "u1")

	env, err := NewEnvelope(EventBatchResults, BatchResultsPayload{
		Results: []TaskResult{
			{TaskID: "t1", Result: types.TaskOutput{Success: true, Data: map[string]any{}}},
			{TaskID: "t2", Result: types.TaskOutput{Success: false, Error: "disk full"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	recorder.wait(t, 2)
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Equal(t, "t1", recorder.acks[0].taskID)
	assert.Equal(t, "t2", recorder.acks[1].taskID)
	assert.Equal(t, "disk full", recorder.acks[1].output.Error)
}

func TestHubDisconnectCallback(t *testing.T) {
	hub := NewHub(logging.Nop())
	disconnected := make(chan string, 1)
	hub.SetDisconnectHandler(func(userID string) { disconnected <- userID })
	conn := dialHub(t, hub, "u1")

	conn.Close()
	select {
	case userID := <-disconnected:
		assert.Equal(t, "u1", userID)
	case <-time.After(2 * time.Second):
		t.Fatalf("disconnect callback never fired")
	}
	assert.False(t, hub.IsConnected("u1"))
}

func TestHubReconnectKeepsSessionAlive(t *testing.T) {
	hub := NewHub(logging.Nop())
	var mu sync.Mutex
	var fired []string
	hub.SetDisconnectHandler(func(userID string) {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, userID)
	})

	dialHub(t, hub, "u1")
	second := dialHub(t, hub, "u1")

	// The replaced session's read pump exits asynchronously; give it time
	// to observe the close and run its teardown.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	count := len(fired)
	mu.Unlock()
	assert.Zero(t, count, "disconnect fired for a replaced session")
	assert.True(t, hub.IsConnected("u1"), "reconnect must leave the user connected")

	// Closing the live session is a real disconnect and fires exactly once.
	second.Close()
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		count = len(fired)
		mu.Unlock()
		if count > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"u1"}, fired)
	assert.False(t, hub.IsConnected("u1"))
}

func TestHubEmitWithoutConnection(t *testing.T) {
	hub := NewHub(logging.Nop())
	err := hub.EmitSingle("ghost", types.NewTaskRecord(types.Task{TaskID: "t1", Tool: "open_app", ExecutionTarget: types.TargetClient}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
}
