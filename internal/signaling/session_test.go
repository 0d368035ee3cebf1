package signaling

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWsSessionState_SetPublishing(t *testing.T) {
	s := newWsSessionState("c1", "u1", "r1", "Alice")
	require.False(t, s.isPublishing)

	s.setPublishing("feed-1")
	require.True(t, s.isPublishing)
	require.Equal(t, "feed-1", s.feedID)
}

func TestWsSessionState_AddSubscriptionDeduplicates(t *testing.T) {
	s := newWsSessionState("c1", "u1", "r1", "Alice")
	s.addSubscription("feed-1")
	s.addSubscription("feed-2")
	s.addSubscription("feed-1")

	require.Equal(t, []string{"feed-1", "feed-2"}, s.subscribedFeeds)
}
