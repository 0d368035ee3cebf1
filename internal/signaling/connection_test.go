package signaling

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientHandle_SendDropsAfterClose(t *testing.T) {
	c := newClientHandle("conn-1", "u1", "r1", "Alice")
	c.closeOutbound()

	msg, err := NewMessage(MsgPong, struct{}{})
	require.NoError(t, err)

	require.NotPanics(t, func() { c.Send(msg) })
}

func TestClientHandle_SendDoesNotBlockWhenMailboxFull(t *testing.T) {
	c := newClientHandle("conn-1", "u1", "r1", "Alice")
	msg, err := NewMessage(MsgPong, struct{}{})
	require.NoError(t, err)

	for i := 0; i < cap(c.outbound)+5; i++ {
		c.Send(msg)
	}
	require.Len(t, c.outbound, cap(c.outbound))
}

func TestRoomConnections_AddRemoveBroadcast(t *testing.T) {
	room := newRoomConnections()
	a := newClientHandle("a", "u-a", "r1", "A")
	b := newClientHandle("b", "u-b", "r1", "B")
	room.addClient(a)
	room.addClient(b)

	require.Equal(t, 2, room.clientCount())
	require.NotNil(t, room.getClient("a"))

	msg, err := NewMessage(MsgPong, struct{}{})
	require.NoError(t, err)
	room.broadcast(msg, "a")

	require.Len(t, a.outbound, 0)
	require.Len(t, b.outbound, 1)

	removed := room.removeClient("a")
	require.Equal(t, a, removed)
	require.Equal(t, 1, room.clientCount())
}

func TestConnectionsManager_RemoveClientFromRoomDropsEmptyRoom(t *testing.T) {
	m := newConnectionsManager()
	room := m.getOrCreateRoom("r1")
	client := newClientHandle("a", "u-a", "r1", "A")
	room.addClient(client)

	m.removeClientFromRoom("r1", "a")
	require.Nil(t, m.getRoom("r1"))
}

func TestConnectionsManager_GetOrCreateRoomReusesExisting(t *testing.T) {
	m := newConnectionsManager()
	r1 := m.getOrCreateRoom("r1")
	r2 := m.getOrCreateRoom("r1")
	require.Same(t, r1, r2)
}
