package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/truegather/backend/internal/auth"
	"github.com/truegather/backend/internal/config"
	"github.com/truegather/backend/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

func testHandler(t *testing.T) (*Handler, *gin.Engine) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewWithClient(client, gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "test"}))
	authSvc := auth.NewService("this-is-a-very-long-secret-key-for-testing-purposes", 900)
	cfg := &config.Config{
		FrontendHost:         "localhost:8080",
		StunURL:              "stun:stun.l.google.com:19302",
		RoomTTLSeconds:       3600,
		MaxPublishersDefault: 10,
		JWTExpirySeconds:     900,
		InvitationTTLSeconds: 86400,
	}

	h := NewHandler(st, authSvc, cfg)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/api/v1")
	h.RegisterRoutes(v1)
	return h, r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateRoom_ReturnsCreatorKeyOnce(t *testing.T) {
	_, r := testHandler(t)

	resp := doJSON(t, r, "POST", "/api/v1/rooms", CreateRoomRequest{Name: "Standup"})
	require.Equal(t, http.StatusCreated, resp.Code)

	var out CreateRoomResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.NotEmpty(t, out.RoomID)
	require.NotEmpty(t, out.CreatorKey)
	require.Equal(t, "Standup", out.Name)
}

func TestCreateRoom_RejectsMissingName(t *testing.T) {
	_, r := testHandler(t)

	resp := doJSON(t, r, "POST", "/api/v1/rooms", map[string]string{})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetRoom_NotFound(t *testing.T) {
	_, r := testHandler(t)

	resp := doJSON(t, r, "GET", "/api/v1/rooms/missing-room", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestJoinRoom_WithCreatorKey(t *testing.T) {
	_, r := testHandler(t)

	createResp := doJSON(t, r, "POST", "/api/v1/rooms", CreateRoomRequest{Name: "Standup"})
	var created CreateRoomResponse
	require.NoError(t, json.Unmarshal(createResp.Body.Bytes(), &created))

	joinResp := doJSON(t, r, "POST", "/api/v1/rooms/"+created.RoomID+"/join", JoinRequest{
		Display:    "Alice",
		CreatorKey: &created.CreatorKey,
	})
	require.Equal(t, http.StatusOK, joinResp.Code)

	var joined JoinResponse
	require.NoError(t, json.Unmarshal(joinResp.Body.Bytes(), &joined))
	require.NotEmpty(t, joined.UserID)
	require.NotEmpty(t, joined.Token)
	require.NotEmpty(t, joined.IceServers)
	require.Contains(t, joined.WsURL, created.RoomID)
}

func TestJoinRoom_RejectsWrongCreatorKey(t *testing.T) {
	_, r := testHandler(t)

	createResp := doJSON(t, r, "POST", "/api/v1/rooms", CreateRoomRequest{Name: "Standup"})
	var created CreateRoomResponse
	require.NoError(t, json.Unmarshal(createResp.Body.Bytes(), &created))

	wrong := "not-the-right-key"
	joinResp := doJSON(t, r, "POST", "/api/v1/rooms/"+created.RoomID+"/join", JoinRequest{
		Display:    "Alice",
		CreatorKey: &wrong,
	})
	require.Equal(t, http.StatusUnauthorized, joinResp.Code)
}

func TestJoinRoom_RejectsMissingCredential(t *testing.T) {
	_, r := testHandler(t)

	createResp := doJSON(t, r, "POST", "/api/v1/rooms", CreateRoomRequest{Name: "Standup"})
	var created CreateRoomResponse
	require.NoError(t, json.Unmarshal(createResp.Body.Bytes(), &created))

	joinResp := doJSON(t, r, "POST", "/api/v1/rooms/"+created.RoomID+"/join", JoinRequest{Display: "Alice"})
	require.Equal(t, http.StatusUnauthorized, joinResp.Code)
}

func TestJoinRoom_RejectsAtCapacity(t *testing.T) {
	h, r := testHandler(t)

	createResp := doJSON(t, r, "POST", "/api/v1/rooms", CreateRoomRequest{Name: "Tiny", MaxPublishers: 1})
	var created CreateRoomResponse
	require.NoError(t, json.Unmarshal(createResp.Body.Bytes(), &created))

	first := doJSON(t, r, "POST", "/api/v1/rooms/"+created.RoomID+"/join", JoinRequest{
		Display: "Alice", CreatorKey: &created.CreatorKey,
	})
	require.Equal(t, http.StatusOK, first.Code)

	// The creator key is single-use by convention but not invalidated by the
	// store itself, so a second join attempt exercises the capacity check
	// directly rather than the credential check.
	second := doJSON(t, r, "POST", "/api/v1/rooms/"+created.RoomID+"/join", JoinRequest{
		Display: "Bob", CreatorKey: &created.CreatorKey,
	})
	require.Equal(t, http.StatusConflict, second.Code)
	_ = h
}

func TestCreateInvitation_ThenJoinWithCode(t *testing.T) {
	_, r := testHandler(t)

	createResp := doJSON(t, r, "POST", "/api/v1/rooms", CreateRoomRequest{Name: "Standup"})
	var created CreateRoomResponse
	require.NoError(t, json.Unmarshal(createResp.Body.Bytes(), &created))

	invResp := doJSON(t, r, "POST", "/api/v1/rooms/"+created.RoomID+"/invitations", CreateInvitationRequest{})
	require.Equal(t, http.StatusCreated, invResp.Code)

	var inv CreateInvitationResponse
	require.NoError(t, json.Unmarshal(invResp.Body.Bytes(), &inv))
	require.NotEmpty(t, inv.Token)
	require.NotEmpty(t, inv.Code)
	require.WithinDuration(t, time.Now().UTC().Add(86400*time.Second), inv.ExpiresAt, time.Minute)

	joinResp := doJSON(t, r, "POST", "/api/v1/rooms/"+created.RoomID+"/join", JoinRequest{
		Display:     "Guest",
		InviteToken: &inv.Token,
		InviteCode:  &inv.Code,
	})
	require.Equal(t, http.StatusOK, joinResp.Code)
}

func TestJoinRoom_RejectsWrongInviteCode(t *testing.T) {
	_, r := testHandler(t)

	createResp := doJSON(t, r, "POST", "/api/v1/rooms", CreateRoomRequest{Name: "Standup"})
	var created CreateRoomResponse
	require.NoError(t, json.Unmarshal(createResp.Body.Bytes(), &created))

	invResp := doJSON(t, r, "POST", "/api/v1/rooms/"+created.RoomID+"/invitations", CreateInvitationRequest{})
	var inv CreateInvitationResponse
	require.NoError(t, json.Unmarshal(invResp.Body.Bytes(), &inv))

	wrongCode := "ZZZZ-ZZZZ"
	joinResp := doJSON(t, r, "POST", "/api/v1/rooms/"+created.RoomID+"/join", JoinRequest{
		Display:     "Guest",
		InviteToken: &inv.Token,
		InviteCode:  &wrongCode,
	})
	require.Equal(t, http.StatusUnauthorized, joinResp.Code)
}
