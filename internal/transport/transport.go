package transport

import (
	"encoding/json"
	"errors"

	"maestro/internal/types"
)

// Wire events exchanged with client devices.
const (
	EventExecute      = "task:execute"
	EventExecuteBatch = "task:execute_batch"
	EventStatus       = "task:status"
	EventResult       = "task:result"
	EventBatchResults = "task:batch_results"
)

// ErrNotConnected is returned when a dispatch targets a user without a live
// client session.
var ErrNotConnected = errors.New("client not connected")

// Envelope frames every message on the wire.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Payload: raw}, nil
}

// BatchPayload carries a dependency chain dispatched in one trip.
type BatchPayload struct {
	Tasks   []*types.TaskRecord `json:"tasks"`
	IsChain bool                `json:"is_chain"`
}

// StatusPayload is the advisory status notification for UI layers.
type StatusPayload struct {
	TaskID string           `json:"task_id"`
	Status types.TaskStatus `json:"status"`
}

// ResultPayload is a single client acknowledgment.
type ResultPayload struct {
	UserID string           `json:"user_id"`
	TaskID string           `json:"task_id"`
	Result types.TaskOutput `json:"result"`
}

// BatchResultsPayload is one acknowledgment covering a whole emitted chain.
type BatchResultsPayload struct {
	UserID  string       `json:"user_id"`
	Results []TaskResult `json:"results"`
}

// TaskResult is one entry of a batch acknowledgment.
type TaskResult struct {
	TaskID string           `json:"task_id"`
	Result types.TaskOutput `json:"result"`
}

// AckHandler receives client acknowledgments, one call per task, in wire
// order for batches.
type AckHandler func(userID, taskID string, output *types.TaskOutput)

// Dispatcher hands tasks to a user's client session. Implementations: the
// websocket Hub for real devices and Loopback for in-process clients.
type Dispatcher interface {
	EmitSingle(userID string, task *types.TaskRecord) error
	EmitBatch(userID string, tasks []*types.TaskRecord) error
}

// StatusNotifier pushes advisory status updates; dispatchers may implement it.
type StatusNotifier interface {
	NotifyStatus(userID, taskID string, status types.TaskStatus)
}
