package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMessage_RoundTrip(t *testing.T) {
	msg, err := NewMessage(MsgJoined, JoinedPayload{RoomID: "r1", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, MsgJoined, msg.Type)
	require.Nil(t, msg.RequestID)

	var payload JoinedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	require.Equal(t, "r1", payload.RoomID)
	require.Equal(t, "u1", payload.UserID)
}

func TestWithRequestID_SetsField(t *testing.T) {
	requestID := "req-1"
	msg, err := NewMessage(MsgPong, struct{}{})
	require.NoError(t, err)

	msg = msg.WithRequestID(&requestID)
	require.Equal(t, &requestID, msg.RequestID)
}

func TestNewErrorMessage_CarriesCodeAndMessage(t *testing.T) {
	msg := NewErrorMessage(404, "room not found", nil)
	require.Equal(t, MsgError, msg.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	require.Equal(t, 404, payload.Code)
	require.Equal(t, "room not found", payload.Message)
}

func TestMarshalUnmarshalMessage_RoundTrip(t *testing.T) {
	requestID := "req-9"
	original, err := NewMessage(MsgJoinRoom, JoinRoomPayload{RoomID: "r1"})
	require.NoError(t, err)
	original = original.WithRequestID(&requestID)

	data, err := marshalMessage(original)
	require.NoError(t, err)

	var decoded SignalingMessage
	require.NoError(t, unmarshalMessage(data, &decoded))
	require.Equal(t, original.Type, decoded.Type)
	require.Equal(t, *original.RequestID, *decoded.RequestID)
}
