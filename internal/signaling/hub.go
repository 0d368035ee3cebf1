// Package signaling implements the Signaling Hub: the WebSocket endpoint
// that authenticates clients, relays SDP/ICE between them and the Media
// Gateway, and tracks per-room connection membership.
package signaling

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/truegather/backend/internal/apperrors"
	"github.com/truegather/backend/internal/auth"
	"github.com/truegather/backend/internal/logging"
	"github.com/truegather/backend/internal/metrics"
	"github.com/truegather/backend/internal/store"
	"github.com/truegather/backend/pkg/sfu"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub is the central coordinator for every room's WebSocket connections.
type Hub struct {
	connections *connectionsManager
	gateway     *sfu.Gateway
	store       *store.Store
	authSvc     *auth.Service

	allowedOrigins []string

	mu                  sync.Mutex
	pendingRoomCleanups map[string]*time.Timer
	cleanupGracePeriod  time.Duration
}

// NewHub wires the Hub to its Media Gateway and Room Store dependencies.
func NewHub(gateway *sfu.Gateway, st *store.Store, authSvc *auth.Service, allowedOrigins []string) *Hub {
	return &Hub{
		connections:         newConnectionsManager(),
		gateway:             gateway,
		store:               st,
		authSvc:             authSvc,
		allowedOrigins:      allowedOrigins,
		pendingRoomCleanups: make(map[string]*time.Timer),
		cleanupGracePeriod:  5 * time.Second,
	}
}

// ServeWs authenticates the connecting client and upgrades to WebSocket.
func (h *Hub) ServeWs(c *gin.Context) {
	ctx := c.Request.Context()

	token, err := auth.ExtractFromQuery(c.Request.URL.RawQuery)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}

	claims, err := h.authSvc.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	roomID := c.Query("room_id")
	if roomID == "" || claims.RoomID != roomID {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token room_id does not match"})
		return
	}

	if _, err := h.store.GetRoom(ctx, roomID); err != nil {
		if ae, ok := apperrors.As(err); ok {
			c.JSON(apperrors.HTTPStatus(ae.Kind), gin.H{"error": ae.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room lookup failed"})
		return
	}

	if err := h.validateOrigin(c.Request); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return h.validateOrigin(r) == nil },
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}

	h.HandleConnection(conn, claims)
}

func (h *Hub) validateOrigin(r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return err
	}
	for _, allowed := range h.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	return apperrors.Unauthorized("origin not allowed")
}

// HandleConnection drives one WebSocket connection end to end: registers it,
// starts the write pump, processes incoming frames until the socket closes,
// then cleans up.
func (h *Hub) HandleConnection(conn wsConnection, claims *auth.CustomClaims) {
	connID := uuid.NewString()
	roomID := claims.RoomID
	userID := claims.Subject
	display := claims.Display
	if display == "" {
		display = userID
	}

	ctx := context.Background()
	logging.Info(ctx, "websocket connected",
		zap.String("conn_id", connID), zap.String("room_id", roomID), zap.String("user_id", userID))

	client := newClientHandle(connID, userID, roomID, display)
	session := newWsSessionState(connID, userID, roomID, display)

	room := h.connections.getOrCreateRoom(roomID)
	h.cancelPendingCleanup(roomID)
	room.addClient(client)

	metrics.IncConnection()
	_ = h.store.CreateWsSession(ctx, store.WsSession{
		ConnID: connID, UserID: userID, RoomID: roomID, LastPingAt: time.Now().UTC(),
	}, 1800)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		writePump(conn, client)
	}()

	h.readLoop(conn, client, session)

	client.closeOutbound()
	wg.Wait()
	metrics.DecConnection()

	h.cleanupConnection(roomID, userID, connID, session)
}

// readLoop reads text frames until the connection closes or errors, handing
// each one to handleMessage.
func (h *Hub) readLoop(conn wsConnection, client *ClientHandle, session *wsSessionState) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg SignalingMessage
		if err := unmarshalMessage(data, &msg); err != nil {
			client.Send(NewErrorMessage(apperrors.HTTPStatus(apperrors.KindBadRequest), "invalid message", nil))
			continue
		}

		ctx := context.Background()
		if err := h.handleMessage(ctx, msg, session, client); err != nil {
			logging.Error(ctx, "error handling message", zap.String("type", msg.Type), zap.Error(err))
			code := apperrors.HTTPStatus(apperrors.KindInternal)
			if ae, ok := apperrors.As(err); ok {
				code = apperrors.HTTPStatus(ae.Kind)
			}
			client.Send(NewErrorMessage(code, err.Error(), msg.RequestID))
		}
	}
}

// cleanupConnection removes a disconnected client from every place it was
// registered: the room's connection table, its Room Store membership, its
// publisher (if any, with a broadcast), its subscriptions, and its
// WebSocket session record. This is the only cleanup path — there is no
// grace period for an individual connection, only for an emptied room.
func (h *Hub) cleanupConnection(roomID, userID, connID string, session *wsSessionState) {
	ctx := context.Background()

	h.connections.removeClientFromRoom(roomID, connID)
	_ = h.store.RemoveMember(ctx, roomID, userID)
	_ = h.store.DeleteWsSession(ctx, connID)

	if leftMsg, err := NewMessage(MsgMemberLeft, MemberPayload{UserID: userID, RoomID: roomID}); err == nil {
		h.connections.broadcastToRoom(roomID, leftMsg, connID)
	}

	if session.isPublishing {
		_ = h.store.RemovePublisher(ctx, roomID, userID)
		h.gateway.RemovePublisher(roomID, userID)

		msg, err := NewMessage(MsgPublisherLeft, PublisherLeftPayload{FeedID: session.feedID, RoomID: roomID})
		if err == nil {
			h.connections.broadcastToRoom(roomID, msg, connID)
		}
	}

	if len(session.subscribedFeeds) > 0 {
		h.gateway.RemoveSubscriber(roomID, userID)
	}

	logging.Info(ctx, "websocket disconnected, cleaned up",
		zap.String("conn_id", connID), zap.String("room_id", roomID), zap.String("user_id", userID))

	room := h.connections.getRoom(roomID)
	if room == nil || room.isEmpty() {
		h.scheduleRoomCleanup(roomID)
	}
}

// scheduleRoomCleanup arranges to tear down a room's media gateway state
// after a grace period, canceling any previous timer for the same room so a
// quick reconnect doesn't lose its in-flight peer connections.
func (h *Hub) scheduleRoomCleanup(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.pendingRoomCleanups[roomID]; ok {
		existing.Stop()
	}

	h.pendingRoomCleanups[roomID] = time.AfterFunc(h.cleanupGracePeriod, func() {
		h.mu.Lock()
		delete(h.pendingRoomCleanups, roomID)
		h.mu.Unlock()

		room := h.connections.getRoom(roomID)
		if room != nil && !room.isEmpty() {
			return
		}
		h.gateway.CleanupRoom(roomID)
		logging.Info(context.Background(), "room media cleaned up after grace period", zap.String("room_id", roomID))
	})
}

func (h *Hub) cancelPendingCleanup(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if timer, ok := h.pendingRoomCleanups[roomID]; ok {
		timer.Stop()
		delete(h.pendingRoomCleanups, roomID)
	}
}

// Shutdown closes every pending cleanup timer. Individual connections are
// closed by the HTTP server shutting down its listeners.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID, timer := range h.pendingRoomCleanups {
		timer.Stop()
		delete(h.pendingRoomCleanups, roomID)
	}
	return nil
}
