// Package store implements the Room Store: the Redis-backed persistence
// layer for rooms, membership, publisher feeds, WebSocket sessions and
// guest invitations. It follows the connection/circuit-breaker shape the
// rest of this codebase uses for every outbound network dependency, so a
// degraded Redis fails calls open rather than taking the process down.
package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/truegather/backend/internal/apperrors"
	"github.com/truegather/backend/internal/logging"
	"github.com/truegather/backend/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Store is the Redis-backed Room Store.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// New creates a Store and verifies connectivity immediately.
func New(addr, password string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "room_store",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("room_store").Set(v)
		},
	}

	return &Store{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// NewWithClient builds a Store around an already-configured client and
// circuit breaker, for tests that need a miniredis-backed instance without
// New's hardcoded connection settings.
func NewWithClient(client *redis.Client, cb *gobreaker.CircuitBreaker) *Store {
	return &Store{client: client, cb: cb}
}

func (s *Store) exec(fn func() (any, error)) (any, error) {
	res, err := s.cb.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("room_store").Inc()
		}
		return nil, err
	}
	return res, nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.exec(func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// --- key layout -------------------------------------------------------

func roomKey(roomID string) string          { return fmt.Sprintf("room:%s", roomID) }
func membersKey(roomID string) string       { return fmt.Sprintf("room:%s:members", roomID) }
func memberInfoKey(roomID string) string    { return fmt.Sprintf("room:%s:member_info", roomID) }
func publishersKey(roomID string) string    { return fmt.Sprintf("room:%s:publishers", roomID) }
func creatorKeyHashKey(roomID string) string { return fmt.Sprintf("room:%s:creator_key_hash", roomID) }
func invitationsKey(roomID string) string   { return fmt.Sprintf("room:%s:invitations", roomID) }
func invitationKey(token string) string     { return fmt.Sprintf("invitation:%s", token) }
func wsSessionKey(connID string) string     { return fmt.Sprintf("ws:%s", connID) }

// --- rooms --------------------------------------------------------------

// CreateRoom persists a new room with a TTL equal to its configured
// lifetime.
func (s *Store) CreateRoom(ctx context.Context, room *Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return apperrors.Internal("marshal room", err)
	}
	_, err = s.exec(func() (any, error) {
		return nil, s.client.Set(ctx, roomKey(room.RoomID), data, time.Duration(room.TTLSeconds)*time.Second).Err()
	})
	if err != nil {
		return apperrors.Storage("create room", err)
	}
	return nil
}

// GetRoom fetches a room by ID, returning apperrors.KindNotFound if absent.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	res, err := s.exec(func() (any, error) {
		return s.client.Get(ctx, roomKey(roomID)).Result()
	})
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound(fmt.Sprintf("room %s not found", roomID))
		}
		return nil, apperrors.Storage("get room", err)
	}
	var room Room
	if err := json.Unmarshal([]byte(res.(string)), &room); err != nil {
		return nil, apperrors.Internal("unmarshal room", err)
	}
	return &room, nil
}

// RefreshRoomTTL extends the room record and its cascading keys so an
// active room does not expire out from under its participants.
func (s *Store) RefreshRoomTTL(ctx context.Context, roomID string, ttlSeconds int) error {
	ttl := time.Duration(ttlSeconds) * time.Second
	_, err := s.exec(func() (any, error) {
		pipe := s.client.Pipeline()
		pipe.Expire(ctx, roomKey(roomID), ttl)
		pipe.Expire(ctx, membersKey(roomID), ttl)
		pipe.Expire(ctx, memberInfoKey(roomID), ttl)
		pipe.Expire(ctx, publishersKey(roomID), ttl)
		pipe.Expire(ctx, invitationsKey(roomID), ttl)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return apperrors.Storage("refresh room ttl", err)
	}
	return nil
}

// DeleteRoom removes a room and every key derived from it.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := s.exec(func() (any, error) {
		return nil, s.client.Del(ctx,
			roomKey(roomID),
			membersKey(roomID),
			memberInfoKey(roomID),
			publishersKey(roomID),
			creatorKeyHashKey(roomID),
			invitationsKey(roomID),
		).Err()
	})
	if err != nil {
		return apperrors.Storage("delete room", err)
	}
	return nil
}

// GetRoomInfo aggregates membership and publisher state for a room.
func (s *Store) GetRoomInfo(ctx context.Context, roomID string) (*Info, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	members, err := s.Members(ctx, roomID)
	if err != nil {
		return nil, err
	}
	publishers, err := s.ListPublishers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	status := StatusInactive
	if len(members) > 0 {
		status = StatusActive
	}
	return &Info{
		RoomID:            room.RoomID,
		Name:              room.Name,
		Participants:      members,
		Publishers:        publishers,
		Status:            status,
		ParticipantsCount: len(members),
		CreatedAt:         room.CreatedAt,
	}, nil
}

// --- membership -----------------------------------------------------------

// AddMember records a user as present in a room.
func (s *Store) AddMember(ctx context.Context, roomID, userID string) error {
	_, err := s.exec(func() (any, error) {
		return nil, s.client.SAdd(ctx, membersKey(roomID), userID).Err()
	})
	if err != nil {
		return apperrors.Storage("add member", err)
	}
	return nil
}

// RemoveMember removes a user from a room's membership set.
func (s *Store) RemoveMember(ctx context.Context, roomID, userID string) error {
	_, err := s.exec(func() (any, error) {
		return nil, s.client.SRem(ctx, membersKey(roomID), userID).Err()
	})
	if err != nil {
		return apperrors.Storage("remove member", err)
	}
	return nil
}

// Members lists every user currently recorded as present in a room.
func (s *Store) Members(ctx context.Context, roomID string) ([]string, error) {
	res, err := s.exec(func() (any, error) {
		return s.client.SMembers(ctx, membersKey(roomID)).Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, nil
		}
		return nil, apperrors.Storage("list members", err)
	}
	return res.([]string), nil
}

// MemberCount returns the number of members in a room without fetching them.
func (s *Store) MemberCount(ctx context.Context, roomID string) (int, error) {
	res, err := s.exec(func() (any, error) {
		return s.client.SCard(ctx, membersKey(roomID)).Result()
	})
	if err != nil {
		return 0, apperrors.Storage("count members", err)
	}
	return int(res.(int64)), nil
}

// IsMember reports whether a user is currently present in a room.
func (s *Store) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	res, err := s.exec(func() (any, error) {
		return s.client.SIsMember(ctx, membersKey(roomID), userID).Result()
	})
	if err != nil {
		return false, apperrors.Storage("check membership", err)
	}
	return res.(bool), nil
}

// MemberInfo is the display-name record stored alongside a member.
type MemberInfo struct {
	Display  string    `json:"display"`
	JoinedAt time.Time `json:"joined_at"`
}

// SetMemberInfo stores the display name and join time for a member.
func (s *Store) SetMemberInfo(ctx context.Context, roomID, userID string, info MemberInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return apperrors.Internal("marshal member info", err)
	}
	_, err = s.exec(func() (any, error) {
		return nil, s.client.HSet(ctx, memberInfoKey(roomID), userID, data).Err()
	})
	if err != nil {
		return apperrors.Storage("set member info", err)
	}
	return nil
}

// GetMemberInfo fetches the display-name record for a member.
func (s *Store) GetMemberInfo(ctx context.Context, roomID, userID string) (*MemberInfo, error) {
	res, err := s.exec(func() (any, error) {
		return s.client.HGet(ctx, memberInfoKey(roomID), userID).Result()
	})
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound("member info not found")
		}
		return nil, apperrors.Storage("get member info", err)
	}
	var info MemberInfo
	if err := json.Unmarshal([]byte(res.(string)), &info); err != nil {
		return nil, apperrors.Internal("unmarshal member info", err)
	}
	return &info, nil
}

// RemoveMemberInfo deletes the display-name record for a member.
func (s *Store) RemoveMemberInfo(ctx context.Context, roomID, userID string) error {
	_, err := s.exec(func() (any, error) {
		return nil, s.client.HDel(ctx, memberInfoKey(roomID), userID).Err()
	})
	if err != nil {
		return apperrors.Storage("remove member info", err)
	}
	return nil
}

// --- publishers -----------------------------------------------------------

// SetPublisher records a publisher's feed metadata, keyed by user ID.
func (s *Store) SetPublisher(ctx context.Context, roomID, userID string, info PublisherInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return apperrors.Internal("marshal publisher info", err)
	}
	_, err = s.exec(func() (any, error) {
		return nil, s.client.HSet(ctx, publishersKey(roomID), userID, data).Err()
	})
	if err != nil {
		return apperrors.Storage("set publisher", err)
	}
	return nil
}

// GetPublisher fetches a single publisher's feed metadata.
func (s *Store) GetPublisher(ctx context.Context, roomID, userID string) (*PublisherInfo, error) {
	res, err := s.exec(func() (any, error) {
		return s.client.HGet(ctx, publishersKey(roomID), userID).Result()
	})
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound("publisher not found")
		}
		return nil, apperrors.Storage("get publisher", err)
	}
	var info PublisherInfo
	if err := json.Unmarshal([]byte(res.(string)), &info); err != nil {
		return nil, apperrors.Internal("unmarshal publisher info", err)
	}
	return &info, nil
}

// RemovePublisher removes a publisher's feed metadata.
func (s *Store) RemovePublisher(ctx context.Context, roomID, userID string) error {
	_, err := s.exec(func() (any, error) {
		return nil, s.client.HDel(ctx, publishersKey(roomID), userID).Err()
	})
	if err != nil {
		return apperrors.Storage("remove publisher", err)
	}
	return nil
}

// ListPublishers returns every active publisher in a room.
func (s *Store) ListPublishers(ctx context.Context, roomID string) ([]PublisherInfo, error) {
	res, err := s.exec(func() (any, error) {
		return s.client.HGetAll(ctx, publishersKey(roomID)).Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, nil
		}
		return nil, apperrors.Storage("list publishers", err)
	}
	raw := res.(map[string]string)
	out := make([]PublisherInfo, 0, len(raw))
	for _, v := range raw {
		var info PublisherInfo
		if err := json.Unmarshal([]byte(v), &info); err != nil {
			logging.Error(ctx, "corrupt publisher record", zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// PublisherCount returns the number of active publishers in a room.
func (s *Store) PublisherCount(ctx context.Context, roomID string) (int, error) {
	res, err := s.exec(func() (any, error) {
		return s.client.HLen(ctx, publishersKey(roomID)).Result()
	})
	if err != nil {
		return 0, apperrors.Storage("count publishers", err)
	}
	return int(res.(int64)), nil
}

// --- WebSocket sessions -----------------------------------------------------

// WsSession is the short-lived record tying a connection to a room/user pair.
type WsSession struct {
	ConnID     string    `json:"conn_id"`
	UserID     string    `json:"user_id"`
	RoomID     string    `json:"room_id"`
	LastPingAt time.Time `json:"last_ping_at"`
}

// CreateWsSession persists a connection record with the given TTL.
func (s *Store) CreateWsSession(ctx context.Context, sess WsSession, ttlSeconds int) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return apperrors.Internal("marshal ws session", err)
	}
	_, err = s.exec(func() (any, error) {
		return nil, s.client.Set(ctx, wsSessionKey(sess.ConnID), data, time.Duration(ttlSeconds)*time.Second).Err()
	})
	if err != nil {
		return apperrors.Storage("create ws session", err)
	}
	return nil
}

// UpdateWsSessionPing refreshes the last-ping timestamp and TTL for a session.
func (s *Store) UpdateWsSessionPing(ctx context.Context, connID string, ttlSeconds int) error {
	res, err := s.exec(func() (any, error) {
		return s.client.Get(ctx, wsSessionKey(connID)).Result()
	})
	if err != nil {
		if err == redis.Nil {
			return apperrors.NotFound("ws session not found")
		}
		return apperrors.Storage("get ws session", err)
	}
	var sess WsSession
	if err := json.Unmarshal([]byte(res.(string)), &sess); err != nil {
		return apperrors.Internal("unmarshal ws session", err)
	}
	sess.LastPingAt = time.Now().UTC()
	return s.CreateWsSession(ctx, sess, ttlSeconds)
}

// DeleteWsSession removes a connection record, typically on socket close.
func (s *Store) DeleteWsSession(ctx context.Context, connID string) error {
	_, err := s.exec(func() (any, error) {
		return nil, s.client.Del(ctx, wsSessionKey(connID)).Err()
	})
	if err != nil {
		return apperrors.Storage("delete ws session", err)
	}
	return nil
}

// --- invitations ------------------------------------------------------------

// CreateInvitation persists a guest invitation and indexes it under its room.
func (s *Store) CreateInvitation(ctx context.Context, inv Invitation) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return apperrors.Internal("marshal invitation", err)
	}
	ttl := time.Until(inv.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	_, err = s.exec(func() (any, error) {
		pipe := s.client.Pipeline()
		pipe.Set(ctx, invitationKey(inv.Token), data, ttl)
		pipe.SAdd(ctx, invitationsKey(inv.RoomID), inv.Token)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return apperrors.Storage("create invitation", err)
	}
	return nil
}

// GetInvitation fetches an invitation by its opaque token.
func (s *Store) GetInvitation(ctx context.Context, token string) (*Invitation, error) {
	res, err := s.exec(func() (any, error) {
		return s.client.Get(ctx, invitationKey(token)).Result()
	})
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound("invitation not found")
		}
		return nil, apperrors.Storage("get invitation", err)
	}
	var inv Invitation
	if err := json.Unmarshal([]byte(res.(string)), &inv); err != nil {
		return nil, apperrors.Internal("unmarshal invitation", err)
	}
	return &inv, nil
}

// FindInvitationByCode scans a room's invitations for one whose code_hash
// matches the supplied human code, constant-time compared against the
// salted hash. Room invitation counts are small, so a linear scan mirrors
// the original implementation rather than requiring a secondary index.
func (s *Store) FindInvitationByCode(ctx context.Context, roomID, code string) (*Invitation, error) {
	tokens, err := s.exec(func() (any, error) {
		return s.client.SMembers(ctx, invitationsKey(roomID)).Result()
	})
	if err != nil {
		return nil, apperrors.Storage("list invitations", err)
	}
	for _, token := range tokens.([]string) {
		inv, err := s.GetInvitation(ctx, token)
		if err != nil {
			continue
		}
		if ConstantTimeEqual(HashSecret(code, inv.CodeSalt), inv.CodeHash) {
			return inv, nil
		}
	}
	return nil, apperrors.NotFound("invite code not recognized")
}

// UseInvitation atomically re-checks validity and increments the use
// counter on an invitation after a successful redemption. It reports
// false, with no error, when the invitation has expired or is already
// exhausted rather than silently over-incrementing it.
func (s *Store) UseInvitation(ctx context.Context, token string) (bool, error) {
	inv, err := s.GetInvitation(ctx, token)
	if err != nil {
		return false, err
	}
	if !inv.IsValid(time.Now().UTC()) {
		return false, nil
	}
	inv.Uses++
	if err := s.CreateInvitation(ctx, *inv); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteInvitation removes an invitation record.
func (s *Store) DeleteInvitation(ctx context.Context, token, roomID string) error {
	_, err := s.exec(func() (any, error) {
		pipe := s.client.Pipeline()
		pipe.Del(ctx, invitationKey(token))
		pipe.SRem(ctx, invitationsKey(roomID), token)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return apperrors.Storage("delete invitation", err)
	}
	return nil
}

// --- creator key ------------------------------------------------------------

// SetCreatorKeyHash stores the salted hash of a room's one-time creator key.
func (s *Store) SetCreatorKeyHash(ctx context.Context, roomID, salt, hash string, ttlSeconds int) error {
	value := salt + ":" + hash
	_, err := s.exec(func() (any, error) {
		return nil, s.client.Set(ctx, creatorKeyHashKey(roomID), value, time.Duration(ttlSeconds)*time.Second).Err()
	})
	if err != nil {
		return apperrors.Storage("set creator key hash", err)
	}
	return nil
}

// VerifyCreatorKey checks a presented creator key against the stored salted
// hash using a constant-time comparison.
func (s *Store) VerifyCreatorKey(ctx context.Context, roomID, key string) (bool, error) {
	res, err := s.exec(func() (any, error) {
		return s.client.Get(ctx, creatorKeyHashKey(roomID)).Result()
	})
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, apperrors.Storage("get creator key hash", err)
	}
	value := res.(string)
	idx := -1
	for i := 0; i < len(value); i++ {
		if value[i] == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, apperrors.Internal("corrupt creator key record", nil)
	}
	salt, hash := value[:idx], value[idx+1:]
	return ConstantTimeEqual(HashSecret(key, salt), hash), nil
}

// --- security helpers --------------------------------------------------------

const inviteCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // excludes confusable chars

// randCharset draws n characters from charset using crypto/rand, rejecting
// modulo bias via rand.Int rather than a masked byte read.
func randCharset(charset string, n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("store: crypto/rand unavailable: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}

// GenerateInviteCode produces an 8-character human code grouped as "XXXX-XXXX".
func GenerateInviteCode() string {
	b := randCharset(inviteCodeCharset, 8)
	return b[:4] + "-" + b[4:]
}

const secretCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateCreatorKey produces a 32-character random host secret.
func GenerateCreatorKey() string {
	return randCharset(secretCharset, 32)
}

// GenerateSaltHex produces a 16-byte random salt, hex encoded.
func GenerateSaltHex() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("store: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// HashSecret computes SHA-256(salt + ":" + secret), hex encoded.
func HashSecret(secret, saltHex string) string {
	sum := sha256.Sum256([]byte(saltHex + ":" + secret))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual compares two hex digests without leaking timing
// information about where they first differ.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
