package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/truegather/backend/internal/apperrors"
	"github.com/truegather/backend/internal/auth"
	"github.com/truegather/backend/internal/config"
	"github.com/truegather/backend/internal/logging"
	"github.com/truegather/backend/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler implements the REST surface described in the room API package
// doc, backed by the Room Store and Credential Verifier.
type Handler struct {
	store   *store.Store
	authSvc *auth.Service
	cfg     *config.Config
}

// NewHandler wires the REST layer to its Room Store and auth dependencies.
func NewHandler(st *store.Store, authSvc *auth.Service, cfg *config.Config) *Handler {
	return &Handler{store: st, authSvc: authSvc, cfg: cfg}
}

// RegisterRoutes attaches every room route under rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rooms := rg.Group("/rooms")
	rooms.POST("", h.CreateRoom)
	rooms.GET("/:room_id", h.GetRoom)
	rooms.POST("/:room_id/join", h.JoinRoom)
	rooms.POST("/:room_id/invitations", h.CreateInvitation)
}

func writeAppError(c *gin.Context, err error) {
	if ae, ok := apperrors.As(err); ok {
		c.JSON(apperrors.HTTPStatus(ae.Kind), gin.H{"error": ae.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// CreateRoom handles POST /api/v1/rooms.
func (h *Handler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room name is required"})
		return
	}

	maxPublishers := req.MaxPublishers
	if maxPublishers <= 0 || maxPublishers > h.cfg.MaxPublishersDefault {
		maxPublishers = h.cfg.MaxPublishersDefault
	}
	ttlSeconds := req.TTLSeconds
	if ttlSeconds <= 0 {
		ttlSeconds = h.cfg.RoomTTLSeconds
	}

	room := &store.Room{
		RoomID:        uuid.NewString(),
		Name:          req.Name,
		CreatedAt:     time.Now().UTC(),
		MaxPublishers: maxPublishers,
		TTLSeconds:    ttlSeconds,
	}

	ctx := c.Request.Context()
	if err := h.store.CreateRoom(ctx, room); err != nil {
		writeAppError(c, apperrors.Storage("create room", err))
		return
	}

	creatorKey := store.GenerateCreatorKey()
	salt := store.GenerateSaltHex()
	hash := store.HashSecret(creatorKey, salt)
	if err := h.store.SetCreatorKeyHash(ctx, room.RoomID, salt, hash, ttlSeconds); err != nil {
		writeAppError(c, apperrors.Storage("persist creator key", err))
		return
	}

	logging.Info(ctx, "room created", zap.String("room_id", room.RoomID), zap.String("name", room.Name))

	c.JSON(http.StatusCreated, CreateRoomResponse{
		RoomID:        room.RoomID,
		Name:          room.Name,
		CreatedAt:     room.CreatedAt,
		MaxPublishers: room.MaxPublishers,
		TTLSeconds:    room.TTLSeconds,
		CreatorKey:    creatorKey,
	})
}

// GetRoom handles GET /api/v1/rooms/{id}.
func (h *Handler) GetRoom(c *gin.Context) {
	roomID := c.Param("room_id")
	info, err := h.store.GetRoomInfo(c.Request.Context(), roomID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// JoinRoom handles POST /api/v1/rooms/{id}/join. Exactly one of a valid
// creator key or an (invite_token, invite_code) pair admits the caller.
func (h *Handler) JoinRoom(c *gin.Context) {
	roomID := c.Param("room_id")
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "display name is required"})
		return
	}

	ctx := c.Request.Context()

	room, err := h.store.GetRoom(ctx, roomID)
	if err != nil {
		writeAppError(c, err)
		return
	}

	if err := h.authorizeJoin(ctx, roomID, req); err != nil {
		writeAppError(c, err)
		return
	}

	memberCount, err := h.store.MemberCount(ctx, roomID)
	if err != nil {
		writeAppError(c, apperrors.Storage("count members", err))
		return
	}
	if memberCount >= room.MaxPublishers {
		writeAppError(c, apperrors.RoomFull("room is at capacity"))
		return
	}

	userID := uuid.NewString()
	token, err := h.authSvc.GenerateToken(userID, roomID, req.Display)
	if err != nil {
		writeAppError(c, apperrors.Internal("generate token", err))
		return
	}

	if err := h.store.AddMember(ctx, roomID, userID); err != nil {
		writeAppError(c, apperrors.Storage("add member", err))
		return
	}

	participants, err := h.store.Members(ctx, roomID)
	if err != nil {
		participants = nil
	}

	wsURL := fmt.Sprintf("ws://%s/ws?room_id=%s&token=%s", h.cfg.FrontendHost, roomID, token)

	iceServers := []IceServer{{URLs: []string{h.cfg.StunURL}}}
	if h.cfg.TurnURL != "" {
		iceServers = append(iceServers, IceServer{
			URLs:       []string{h.cfg.TurnURL},
			Username:   h.cfg.TurnUsername,
			Credential: h.cfg.TurnCredential,
		})
	}

	logging.Info(ctx, "user joined room",
		zap.String("room_id", roomID), zap.String("user_id", userID), zap.String("display", req.Display))

	c.JSON(http.StatusOK, JoinResponse{
		RoomID:       roomID,
		UserID:       userID,
		WsURL:        wsURL,
		Token:        token,
		IceServers:   iceServers,
		ExpiresIn:    h.cfg.JWTExpirySeconds,
		Participants: participants,
	})
}

// authorizeJoin validates whichever of the two join credentials the request
// supplied, consuming an invitation use on success.
func (h *Handler) authorizeJoin(ctx context.Context, roomID string, req JoinRequest) error {
	if req.CreatorKey != nil {
		ok, err := h.store.VerifyCreatorKey(ctx, roomID, *req.CreatorKey)
		if err != nil {
			return apperrors.Storage("verify creator key", err)
		}
		if !ok {
			return apperrors.Unauthorized("invalid creator key")
		}
		return nil
	}

	if req.InviteToken != nil && req.InviteCode != nil {
		inv, err := h.store.GetInvitation(ctx, *req.InviteToken)
		if err != nil {
			return apperrors.Unauthorized("invalid invitation")
		}
		if inv.RoomID != roomID {
			return apperrors.Unauthorized("invitation does not match room")
		}
		if !inv.IsValid(time.Now().UTC()) {
			return apperrors.Unauthorized("invitation expired or exhausted")
		}
		if !store.ConstantTimeEqual(store.HashSecret(*req.InviteCode, inv.CodeSalt), inv.CodeHash) {
			return apperrors.Unauthorized("invalid invitation code")
		}
		ok, err := h.store.UseInvitation(ctx, inv.Token)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Unauthorized("invitation expired or exhausted")
		}
		return nil
	}

	return apperrors.Unauthorized("creator key or invitation required")
}

// CreateInvitation handles POST /api/v1/rooms/{id}/invitations.
func (h *Handler) CreateInvitation(c *gin.Context) {
	roomID := c.Param("room_id")
	ctx := c.Request.Context()

	if _, err := h.store.GetRoom(ctx, roomID); err != nil {
		writeAppError(c, err)
		return
	}

	var req CreateInvitationRequest
	_ = c.ShouldBindJSON(&req)

	ttlSeconds := req.TTLSeconds
	if ttlSeconds <= 0 {
		ttlSeconds = h.cfg.InvitationTTLSeconds
	}

	code := store.GenerateInviteCode()
	salt := store.GenerateSaltHex()
	now := time.Now().UTC()

	inv := store.Invitation{
		Token:     uuid.NewString(),
		RoomID:    roomID,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(ttlSeconds) * time.Second),
		MaxUses:   req.MaxUses,
		Email:     req.Email,
		CodeHash:  store.HashSecret(code, salt),
		CodeSalt:  salt,
	}

	if err := h.store.CreateInvitation(ctx, inv); err != nil {
		writeAppError(c, apperrors.Storage("create invitation", err))
		return
	}

	c.JSON(http.StatusCreated, CreateInvitationResponse{
		Token:     inv.Token,
		Code:      code,
		ExpiresAt: inv.ExpiresAt,
	})
}
