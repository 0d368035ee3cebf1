package signaling

import "encoding/json"

// marshalMessage serializes a SignalingMessage to a JSON text frame.
func marshalMessage(msg SignalingMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// unmarshalMessage parses a JSON text frame into a SignalingMessage.
func unmarshalMessage(data []byte, msg *SignalingMessage) error {
	return json.Unmarshal(data, msg)
}

// Message type strings carried in SignalingMessage.Type.
const (
	MsgJoinRoom        = "join_room"
	MsgPublishOffer    = "publish_offer"
	MsgTrickleICE      = "trickle_ice"
	MsgSubscribe       = "subscribe"
	MsgSubscribeAnswer = "subscribe_answer"
	MsgLeave           = "leave"
	MsgPing            = "ping"

	MsgJoined         = "joined"
	MsgPublishAnswer  = "publish_answer"
	MsgSubscribeOffer = "subscribe_offer"
	MsgPublisherJoined = "publisher_joined"
	MsgPublisherLeft   = "publisher_left"
	MsgMemberJoined    = "member_joined"
	MsgMemberLeft      = "member_left"
	MsgLeftRoom        = "left_room"
	MsgPong            = "pong"
	MsgError           = "error"
)

// SignalingMessage is the envelope every WebSocket text frame carries.
// RequestID is echoed back on responses so clients can correlate replies
// with the request that triggered them.
type SignalingMessage struct {
	Type      string          `json:"type"`
	RequestID *string         `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// NewMessage builds a SignalingMessage by marshaling payload.
func NewMessage(msgType string, payload any) (SignalingMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SignalingMessage{}, err
	}
	return SignalingMessage{Type: msgType, Payload: raw}, nil
}

// WithRequestID returns msg with RequestID set, for chaining after NewMessage.
func (m SignalingMessage) WithRequestID(requestID *string) SignalingMessage {
	m.RequestID = requestID
	return m
}

// NewErrorMessage builds an "error" message carrying a numeric code and text.
func NewErrorMessage(code int, message string, requestID *string) SignalingMessage {
	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return SignalingMessage{Type: MsgError, RequestID: requestID, Payload: payload}
}

// ErrorPayload is the body of an "error" message.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JoinRoomPayload is the body of a "join_room" request.
type JoinRoomPayload struct {
	RoomID string `json:"room_id"`
}

// PublisherPayload describes one active publisher, as returned in "joined".
type PublisherPayload struct {
	FeedID  string `json:"feed_id"`
	Display string `json:"display"`
}

// JoinedPayload is the body of a "joined" response.
type JoinedPayload struct {
	RoomID     string             `json:"room_id"`
	UserID     string             `json:"user_id"`
	Publishers []PublisherPayload `json:"publishers"`
}

// PublishOfferPayload is the body of a "publish_offer" request.
type PublishOfferPayload struct {
	SDP string `json:"sdp"`
}

// PublishAnswerPayload is the body of a "publish_answer" response.
type PublishAnswerPayload struct {
	SDP string `json:"sdp"`
}

// PublisherJoinedPayload is broadcast to the room when a new feed starts.
type PublisherJoinedPayload struct {
	FeedID  string `json:"feed_id"`
	Display string `json:"display"`
	RoomID  string `json:"room_id"`
}

// PublisherLeftPayload is broadcast to the room when a feed stops.
type PublisherLeftPayload struct {
	FeedID string `json:"feed_id"`
	RoomID string `json:"room_id"`
}

// TrickleIcePayload is the body of a "trickle_ice" request. Target is either
// "publisher" or "subscriber"; FeedID is required only for "subscriber".
type TrickleIcePayload struct {
	Target        string  `json:"target"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
	FeedID        *string `json:"feed_id,omitempty"`
}

// FeedRequest names one feed to subscribe to.
type FeedRequest struct {
	FeedID string `json:"feed_id"`
}

// SubscribePayload is the body of a "subscribe" request.
type SubscribePayload struct {
	Feeds []FeedRequest `json:"feeds"`
}

// SubscribeOfferPayload is the body of a "subscribe_offer" response.
type SubscribeOfferPayload struct {
	SDP     string   `json:"sdp"`
	FeedIDs []string `json:"feed_ids"`
}

// SubscribeAnswerPayload is the body of a "subscribe_answer" request.
type SubscribeAnswerPayload struct {
	SDP string `json:"sdp"`
}

// LeftRoomPayload is the body of a "left_room" response.
type LeftRoomPayload struct {
	Success bool `json:"success"`
}

// MemberPayload is broadcast to the room when a connection joins or leaves.
type MemberPayload struct {
	UserID  string `json:"user_id"`
	Display string `json:"display"`
	RoomID  string `json:"room_id"`
}
