package transport

import (
	"fmt"
	"sync"

	"maestro/internal/types"
)

// ReceiveFunc consumes dispatched tasks on the client side of a loopback
// transport. isChain is true for multi-task chain dispatches.
type ReceiveFunc func(userID string, tasks []*types.TaskRecord, isChain bool)

// Loopback is the in-process Dispatcher used by tests and local development.
// It hands serialized-equivalent records straight to a receiver, acting as a
// drop-in replacement for the websocket hub.
type Loopback struct {
	mu       sync.RWMutex
	receiver ReceiveFunc
	statuses []StatusPayload
}

// NewLoopback creates a loopback with no receiver attached; dispatches fail
// with ErrNotConnected until Attach is called.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Attach connects the client-side receiver.
func (l *Loopback) Attach(receiver ReceiveFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receiver = receiver
}

// Detach simulates a client disconnect.
func (l *Loopback) Detach() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receiver = nil
}

func (l *Loopback) receiverFn() ReceiveFunc {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.receiver
}

// EmitSingle delivers one task to the attached receiver.
func (l *Loopback) EmitSingle(userID string, task *types.TaskRecord) error {
	receiver := l.receiverFn()
	if receiver == nil {
		return fmt.Errorf("emit to %s: %w", userID, ErrNotConnected)
	}
	receiver(userID, []*types.TaskRecord{task.Clone()}, false)
	return nil
}

// EmitBatch delivers a chain to the attached receiver in one call.
func (l *Loopback) EmitBatch(userID string, tasks []*types.TaskRecord) error {
	receiver := l.receiverFn()
	if receiver == nil {
		return fmt.Errorf("emit to %s: %w", userID, ErrNotConnected)
	}
	cloned := make([]*types.TaskRecord, len(tasks))
	for i, task := range tasks {
		cloned[i] = task.Clone()
	}
	receiver(userID, cloned, true)
	return nil
}

// NotifyStatus records advisory updates so tests can assert on them.
func (l *Loopback) NotifyStatus(userID, taskID string, status types.TaskStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, StatusPayload{TaskID: taskID, Status: status})
}

// Statuses returns the advisory updates seen so far.
func (l *Loopback) Statuses() []StatusPayload {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]StatusPayload, len(l.statuses))
	copy(out, l.statuses)
	return out
}
