package signaling

import (
	"sync"
	"time"

	"github.com/truegather/backend/internal/logging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConnection is the subset of *websocket.Conn the signaling layer depends
// on, so tests can substitute a fake.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// ClientHandle is a connection's outbound mailbox. Handlers send
// SignalingMessages here; writePump drains it onto the wire.
type ClientHandle struct {
	ConnID  string
	UserID  string
	RoomID  string
	Display string

	outbound chan SignalingMessage

	mu     sync.RWMutex
	closed bool
}

func newClientHandle(connID, userID, roomID, display string) *ClientHandle {
	return &ClientHandle{
		ConnID:   connID,
		UserID:   userID,
		RoomID:   roomID,
		Display:  display,
		outbound: make(chan SignalingMessage, 64),
	}
}

// Send queues msg for delivery. A full or closed mailbox drops the message
// rather than blocking the caller.
func (c *ClientHandle) Send(msg SignalingMessage) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.outbound <- msg:
	default:
		logging.Warn(nil, "client outbound mailbox full, dropping message", zap.String("conn_id", c.ConnID))
	}
}

func (c *ClientHandle) closeOutbound() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.outbound)
}

// RoomConnections tracks every live connection in one room, keyed by
// connection ID.
type RoomConnections struct {
	mu      sync.RWMutex
	clients map[string]*ClientHandle
}

func newRoomConnections() *RoomConnections {
	return &RoomConnections{clients: make(map[string]*ClientHandle)}
}

func (r *RoomConnections) addClient(c *ClientHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
}

func (r *RoomConnections) removeClient(connID string) *ClientHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[connID]
	if !ok {
		return nil
	}
	delete(r.clients, connID)
	return c
}

func (r *RoomConnections) getClient(connID string) *ClientHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[connID]
}

func (r *RoomConnections) broadcast(msg SignalingMessage, excludeConnID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for connID, c := range r.clients {
		if connID == excludeConnID {
			continue
		}
		c.Send(msg)
	}
}

func (r *RoomConnections) isEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients) == 0
}

func (r *RoomConnections) clientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// connectionsManager tracks the set of RoomConnections across every room the
// hub currently serves.
type connectionsManager struct {
	mu    sync.Mutex
	rooms map[string]*RoomConnections
}

func newConnectionsManager() *connectionsManager {
	return &connectionsManager{rooms: make(map[string]*RoomConnections)}
}

func (m *connectionsManager) getOrCreateRoom(roomID string) *RoomConnections {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		r = newRoomConnections()
		m.rooms[roomID] = r
	}
	return r
}

func (m *connectionsManager) getRoom(roomID string) *RoomConnections {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[roomID]
}

// removeClientFromRoom removes a connection and, if the room has gone empty,
// drops its RoomConnections entirely.
func (m *connectionsManager) removeClientFromRoom(roomID, connID string) *ClientHandle {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	handle := room.removeClient(connID)

	if room.isEmpty() {
		m.mu.Lock()
		delete(m.rooms, roomID)
		m.mu.Unlock()
	}
	return handle
}

func (m *connectionsManager) broadcastToRoom(roomID string, msg SignalingMessage, excludeConnID string) {
	room := m.getRoom(roomID)
	if room == nil {
		return
	}
	room.broadcast(msg, excludeConnID)
}

// writePump drains a client's outbound mailbox onto the WebSocket connection
// as JSON text frames until the mailbox is closed or a write fails.
func writePump(conn wsConnection, client *ClientHandle) {
	defer conn.Close()
	const writeWait = 10 * time.Second

	for msg := range client.outbound {
		data, err := marshalMessage(msg)
		if err != nil {
			logging.Error(nil, "failed to marshal outbound message", zap.Error(err))
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logging.Warn(nil, "failed to write to client, closing", zap.String("conn_id", client.ConnID), zap.Error(err))
			return
		}
	}
	conn.WriteMessage(websocket.CloseMessage, []byte{})
}
