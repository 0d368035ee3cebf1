package store

import "time"

// Room is the persisted record for a meeting room.
type Room struct {
	RoomID        string    `json:"room_id"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
	MaxPublishers int       `json:"max_publishers"`
	TTLSeconds    int       `json:"ttl_seconds"`
}

// Status summarizes whether a room currently has any members.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Info aggregates a Room with its current membership for the REST info
// endpoint and for the signaling "joined" snapshot.
type Info struct {
	RoomID            string          `json:"room_id"`
	Name              string          `json:"name"`
	Participants      []string        `json:"participants"`
	Publishers        []PublisherInfo `json:"publishers"`
	Status            Status          `json:"status"`
	ParticipantsCount int             `json:"participants_count"`
	CreatedAt         time.Time       `json:"created_at"`
}

// PublisherInfo describes one active media feed within a room.
type PublisherInfo struct {
	FeedID   string    `json:"feed_id"`
	UserID   string    `json:"user_id"`
	Display  string    `json:"display"`
	JoinedAt time.Time `json:"joined_at"`
}

// Invitation is a guest join credential: a caller redeems either the
// unguessable token (link) or the human code (typed), both of which are
// checked against code_hash rather than stored raw.
type Invitation struct {
	Token     string     `json:"token"`
	RoomID    string     `json:"room_id"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	MaxUses   *int       `json:"max_uses,omitempty"`
	Uses      int        `json:"uses"`
	Email     *string    `json:"email,omitempty"`
	CodeHash  string     `json:"code_hash"`
	CodeSalt  string     `json:"code_salt"`
}

// IsValid reports whether the invitation has neither expired nor been
// exhausted.
func (i *Invitation) IsValid(now time.Time) bool {
	if now.After(i.ExpiresAt) {
		return false
	}
	if i.MaxUses != nil && i.Uses >= *i.MaxUses {
		return false
	}
	return true
}
