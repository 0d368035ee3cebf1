// Package api implements the REST surface: room lifecycle, join
// credential exchange, and guest invitation issuance. It hands minted JWTs
// to the Signaling Hub's WebSocket upgrade and never touches media itself.
package api

import "time"

// CreateRoomRequest is the body of POST /api/v1/rooms.
type CreateRoomRequest struct {
	Name          string `json:"name" binding:"required,max=100"`
	MaxPublishers int    `json:"max_publishers"`
	TTLSeconds    int    `json:"ttl_seconds"`
}

// CreateRoomResponse carries the one-time creator_key; it is never
// retrievable again after this response.
type CreateRoomResponse struct {
	RoomID        string    `json:"room_id"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
	MaxPublishers int       `json:"max_publishers"`
	TTLSeconds    int       `json:"ttl_seconds"`
	CreatorKey    string    `json:"creator_key"`
}

// JoinRequest is the body of POST /api/v1/rooms/{id}/join. Exactly one of
// CreatorKey or (InviteToken, InviteCode) must be supplied.
type JoinRequest struct {
	Display     string  `json:"display" binding:"required,max=100"`
	CreatorKey  *string `json:"creator_key,omitempty"`
	InviteToken *string `json:"invite_token,omitempty"`
	InviteCode  *string `json:"invite_code,omitempty"`
}

// IceServer mirrors the WebRTC RTCIceServer shape sent to clients.
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// JoinResponse is returned after a successful join, carrying everything the
// client needs to open the signaling WebSocket.
type JoinResponse struct {
	RoomID       string      `json:"room_id"`
	UserID       string      `json:"user_id"`
	WsURL        string      `json:"ws_url"`
	Token        string      `json:"token"`
	IceServers   []IceServer `json:"ice_servers"`
	ExpiresIn    int         `json:"expires_in"`
	Participants []string    `json:"participants"`
}

// CreateInvitationRequest is the body of POST /api/v1/rooms/{id}/invitations.
type CreateInvitationRequest struct {
	MaxUses    *int    `json:"max_uses,omitempty"`
	Email      *string `json:"email,omitempty"`
	TTLSeconds int     `json:"ttl_seconds,omitempty"`
}

// CreateInvitationResponse carries the one-time plaintext code; like the
// creator key, only its hash is persisted.
type CreateInvitationResponse struct {
	Token     string    `json:"token"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}
