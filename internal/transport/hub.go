package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"maestro/internal/logging"
	"maestro/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

// Hub is the websocket dispatcher: one connection per user, serialized writes
// through a per-connection send channel, acknowledgments routed to the
// registered handler. The engine only reads the connection map; mutation
// happens on connect and disconnect.
type Hub struct {
	upgrader     websocket.Upgrader
	logger       logging.Logger
	ack          AckHandler
	onDisconnect func(userID string)

	mu    sync.RWMutex
	conns map[string]*clientConn
}

type clientConn struct {
	userID string
	ws     *websocket.Conn
	send   chan Envelope
	done   chan struct{}
	once   sync.Once
}

// NewHub creates a hub with permissive origin checking; deployments front it
// with their own auth middleware.
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logging.OrNop(logger),
		conns:  make(map[string]*clientConn),
	}
}

// SetAckHandler installs the acknowledgment sink. Must be called before the
// hub accepts connections.
func (h *Hub) SetAckHandler(ack AckHandler) { h.ack = ack }

// SetDisconnectHandler installs a callback fired after a user's session ends.
func (h *Hub) SetDisconnectHandler(fn func(userID string)) { h.onDisconnect = fn }

// HandleUpgrade upgrades an HTTP request into the user's client session. An
// existing session for the same user is replaced.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request, userID string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade for %s: %w", userID, err)
	}

	conn := &clientConn{
		userID: userID,
		ws:     ws,
		send:   make(chan Envelope, sendBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if existing, ok := h.conns[userID]; ok {
		existing.close()
	}
	h.conns[userID] = conn
	h.mu.Unlock()

	h.logger.Info("client connected: %s", userID)
	go h.writePump(conn)
	go h.readPump(conn)
	return nil
}

// IsConnected reports whether the user has a live session.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[userID]
	return ok
}

// EmitSingle sends one task for client execution.
func (h *Hub) EmitSingle(userID string, task *types.TaskRecord) error {
	env, err := NewEnvelope(EventExecute, task)
	if err != nil {
		return err
	}
	return h.push(userID, env)
}

// EmitBatch sends a dependency chain in a single trip.
func (h *Hub) EmitBatch(userID string, tasks []*types.TaskRecord) error {
	env, err := NewEnvelope(EventExecuteBatch, BatchPayload{Tasks: tasks, IsChain: true})
	if err != nil {
		return err
	}
	return h.push(userID, env)
}

// NotifyStatus pushes an advisory status update; delivery is best-effort.
func (h *Hub) NotifyStatus(userID, taskID string, status types.TaskStatus) {
	env, err := NewEnvelope(EventStatus, StatusPayload{TaskID: taskID, Status: status})
	if err != nil {
		return
	}
	if err := h.push(userID, env); err != nil {
		h.logger.Debug("status notify for %s skipped: %v", userID, err)
	}
}

func (h *Hub) push(userID string, env Envelope) error {
	h.mu.RLock()
	conn, ok := h.conns[userID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("emit to %s: %w", userID, ErrNotConnected)
	}
	select {
	case conn.send <- env:
		return nil
	case <-conn.done:
		return fmt.Errorf("emit to %s: %w", userID, ErrNotConnected)
	}
}

func (h *Hub) writePump(conn *clientConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteJSON(env); err != nil {
				h.logger.Warn("write to %s failed: %v", conn.userID, err)
				conn.close()
				return
			}
		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.close()
				return
			}
		case <-conn.done:
			return
		}
	}
}

func (h *Hub) readPump(conn *clientConn) {
	defer h.drop(conn)

	conn.ws.SetReadLimit(1 << 20)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env Envelope
		if err := conn.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read from %s failed: %v", conn.userID, err)
			}
			return
		}
		h.dispatch(conn.userID, env)
	}
}

// dispatch routes an inbound message. The session's user id is authoritative;
// the payload's user_id field is ignored.
func (h *Hub) dispatch(userID string, env Envelope) {
	switch env.Event {
	case EventResult:
		var payload ResultPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			h.logger.Warn("malformed task result from %s: %v", userID, err)
			return
		}
		h.deliverAck(userID, payload.TaskID, payload.Result)
	case EventBatchResults:
		var payload BatchResultsPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			h.logger.Warn("malformed batch results from %s: %v", userID, err)
			return
		}
		for _, result := range payload.Results {
			h.deliverAck(userID, result.TaskID, result.Result)
		}
	default:
		h.logger.Debug("ignoring event %q from %s", env.Event, userID)
	}
}

func (h *Hub) deliverAck(userID, taskID string, result types.TaskOutput) {
	if h.ack == nil {
		h.logger.Warn("no ack handler configured, dropping result for %s/%s", userID, taskID)
		return
	}
	output := result
	h.ack(userID, taskID, &output)
}

// drop removes the connection and fires the disconnect callback. A connection
// that was already replaced by a newer session for the same user is discarded
// silently: the user is still connected and their state must survive.
func (h *Hub) drop(conn *clientConn) {
	conn.close()
	h.mu.Lock()
	current, ok := h.conns[conn.userID]
	active := ok && current == conn
	if active {
		delete(h.conns, conn.userID)
	}
	h.mu.Unlock()

	if !active {
		h.logger.Debug("replaced session for %s closed", conn.userID)
		return
	}
	h.logger.Info("client disconnected: %s", conn.userID)
	if h.onDisconnect != nil {
		h.onDisconnect(conn.userID)
	}
}

// Close tears down every session.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*clientConn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*clientConn)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
}

func (c *clientConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}
