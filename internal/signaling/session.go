package signaling

// wsSessionState is the per-connection mutable state tracked for the
// lifetime of one WebSocket: what this connection is publishing (if
// anything) and which feeds it has subscribed to.
type wsSessionState struct {
	connID  string
	userID  string
	roomID  string
	display string

	isPublishing    bool
	feedID          string
	subscribedFeeds []string
}

func newWsSessionState(connID, userID, roomID, display string) *wsSessionState {
	return &wsSessionState{connID: connID, userID: userID, roomID: roomID, display: display}
}

func (s *wsSessionState) setPublishing(feedID string) {
	s.isPublishing = true
	s.feedID = feedID
}

func (s *wsSessionState) addSubscription(feedID string) {
	for _, f := range s.subscribedFeeds {
		if f == feedID {
			return
		}
	}
	s.subscribedFeeds = append(s.subscribedFeeds, feedID)
}
