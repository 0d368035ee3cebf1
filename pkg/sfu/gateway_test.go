package sfu

import (
	"context"
	"testing"

	"github.com/truegather/backend/internal/config"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func icePlaceholder() webrtc.ICECandidateInit {
	candidate := "candidate:1 1 UDP 2130706431 127.0.0.1 9 typ host"
	return webrtc.ICECandidateInit{Candidate: candidate}
}

func testGateway(t *testing.T) *Gateway {
	t.Helper()
	cfg := &config.Config{StunURL: "stun:stun.l.google.com:19302"}
	gw, err := NewGateway(cfg)
	require.NoError(t, err)
	return gw
}

func TestNewGateway_RegistersCodecsAndICEServers(t *testing.T) {
	gw := testGateway(t)
	require.NotNil(t, gw.api)
	require.Len(t, gw.iceServers, 1)
	require.True(t, gw.IsHealthy())
}

func TestNewGateway_IncludesTurnServerWhenConfigured(t *testing.T) {
	cfg := &config.Config{
		StunURL:        "stun:stun.l.google.com:19302",
		TurnURL:        "turn:turn.example.com:3478",
		TurnUsername:   "u",
		TurnCredential: "p",
	}
	gw, err := NewGateway(cfg)
	require.NoError(t, err)
	require.Len(t, gw.iceServers, 2)
	require.Equal(t, "turn:turn.example.com:3478", gw.iceServers[1].URLs[0])
}

func TestGetOrCreateRoom_ReusesExistingRoom(t *testing.T) {
	gw := testGateway(t)
	room1 := gw.getOrCreateRoom("r1")
	room2 := gw.getOrCreateRoom("r1")
	require.Same(t, room1, room2)
}

func TestCounts_ZeroForUnknownRoom(t *testing.T) {
	gw := testGateway(t)
	require.Equal(t, 0, gw.GetPublisherCount("missing"))
	require.Equal(t, 0, gw.GetSubscriberCount("missing"))
}

func TestCreateSubscriber_NotFoundForUnknownRoom(t *testing.T) {
	gw := testGateway(t)
	_, err := gw.CreateSubscriber(context.Background(), "missing-room", "user-1", []string{"feed-1"})
	require.Error(t, err)
}

func TestRemovePublisher_IsIdempotentForUnknownSession(t *testing.T) {
	gw := testGateway(t)
	gw.getOrCreateRoom("r1")
	// No publisher registered under "ghost"; must not panic.
	gw.RemovePublisher("r1", "ghost")
	require.Equal(t, 0, gw.GetPublisherCount("r1"))
}

func TestRemoveSubscriber_IsIdempotentForUnknownSession(t *testing.T) {
	gw := testGateway(t)
	gw.getOrCreateRoom("r1")
	gw.RemoveSubscriber("r1", "ghost")
	require.Equal(t, 0, gw.GetSubscriberCount("r1"))
}

func TestCleanupRoom_RemovesUnknownRoomSafely(t *testing.T) {
	gw := testGateway(t)
	gw.CleanupRoom("never-existed")
}

func TestAddICECandidatePublisher_BestEffortOnMissingRoom(t *testing.T) {
	gw := testGateway(t)
	err := gw.AddICECandidatePublisher("missing", "user-1", icePlaceholder())
	require.NoError(t, err)
}

func TestAddICECandidateSubscriber_BestEffortOnMissingSession(t *testing.T) {
	gw := testGateway(t)
	gw.getOrCreateRoom("r1")
	err := gw.AddICECandidateSubscriber("r1", "ghost", icePlaceholder())
	require.NoError(t, err)
}
