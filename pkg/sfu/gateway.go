// Package sfu implements the Media Gateway: a selective forwarding unit that
// relays RTP between publisher and subscriber peer connections without
// decoding or transcoding media.
package sfu

import (
	"context"
	"fmt"
	"sync"

	"github.com/truegather/backend/internal/apperrors"
	"github.com/truegather/backend/internal/config"
	"github.com/truegather/backend/internal/logging"
	"github.com/truegather/backend/internal/metrics"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// PublisherSession holds the peer connection and forwarding state for one
// publisher's media feed.
type PublisherSession struct {
	mu          sync.RWMutex
	pc          *webrtc.PeerConnection
	userID      string
	feedID      string
	localTracks []*webrtc.TrackLocalStaticRTP
	forwarders  []*Forwarder
}

// SubscriberSession holds the peer connection for one viewer's subscription
// to a set of feeds.
type SubscriberSession struct {
	mu              sync.RWMutex
	pc              *webrtc.PeerConnection
	userID          string
	subscribedFeeds []string
}

// RoomMedia is the per-room registry of publisher and subscriber sessions.
type RoomMedia struct {
	mu          sync.RWMutex
	publishers  map[string]*PublisherSession  // user_id -> session
	subscribers map[string]*SubscriberSession // user_id -> session
}

func newRoomMedia() *RoomMedia {
	return &RoomMedia{
		publishers:  make(map[string]*PublisherSession),
		subscribers: make(map[string]*SubscriberSession),
	}
}

// Gateway is the SFU implementation built on pion/webrtc. It holds one
// shared codec/interceptor configuration and a registry of per-room media
// state.
type Gateway struct {
	mu         sync.RWMutex
	rooms      map[string]*RoomMedia
	iceServers []webrtc.ICEServer
	api        *webrtc.API
}

// NewGateway configures the media engine (Opus + VP8), the default
// interceptor chain plus a PLI interceptor for keyframe requests, and the
// ICE server list from cfg.
func NewGateway(cfg *config.Config) (*Gateway, error) {
	mediaEngine := &webrtc.MediaEngine{}

	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register vp8 codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	pliFactory, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create PLI interceptor: %w", err)
	}
	registry.Add(pliFactory)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	iceServers := []webrtc.ICEServer{{URLs: []string{cfg.StunURL}}}
	if cfg.TurnURL != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       []string{cfg.TurnURL},
			Username:   cfg.TurnUsername,
			Credential: cfg.TurnCredential,
		})
	}

	return &Gateway{
		rooms:      make(map[string]*RoomMedia),
		iceServers: iceServers,
		api:        api,
	}, nil
}

// IsHealthy reports whether the gateway can accept new sessions.
func (g *Gateway) IsHealthy() bool { return true }

func (g *Gateway) getOrCreateRoom(roomID string) *RoomMedia {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[roomID]
	if !ok {
		room = newRoomMedia()
		g.rooms[roomID] = room
	}
	return room
}

func (g *Gateway) getRoom(roomID string) (*RoomMedia, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[roomID]
	return room, ok
}

func (g *Gateway) rtcConfig() webrtc.Configuration {
	return webrtc.Configuration{ICEServers: g.iceServers}
}

// CreatePublisher creates a peer connection for a new publisher, applies the
// client's offer, and returns the SDP answer once ICE gathering completes.
// Incoming tracks are forwarded to every current and future subscriber of
// this feed via a Forwarder.
func (g *Gateway) CreatePublisher(ctx context.Context, roomID, userID, feedID, offerSDP string) (string, error) {
	room := g.getOrCreateRoom(roomID)

	pc, err := g.api.NewPeerConnection(g.rtcConfig())
	if err != nil {
		return "", apperrors.Media("create publisher peer connection", err)
	}

	session := &PublisherSession{pc: pc, userID: userID, feedID: feedID}

	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		logging.Info(ctx, "received track from publisher",
			zap.String("feed_id", feedID), zap.String("kind", remote.Kind().String()))

		localTrack, err := webrtc.NewTrackLocalStaticRTP(
			remote.Codec().RTPCodecCapability,
			fmt.Sprintf("%s-%s", feedID, remote.Kind()),
			fmt.Sprintf("truegather-%s", feedID),
		)
		if err != nil {
			logging.Error(ctx, "failed to create local track", zap.Error(err))
			return
		}

		forwarder := NewForwarder(remote, localTrack)

		session.mu.Lock()
		session.localTracks = append(session.localTracks, localTrack)
		session.forwarders = append(session.forwarders, forwarder)
		session.mu.Unlock()

		forwarder.Start(ctx)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logging.Info(ctx, "publisher peer connection state changed",
			zap.String("user_id", userID), zap.String("state", state.String()))
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		_ = pc.Close()
		return "", apperrors.Media("set publisher remote description", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", apperrors.Media("create publisher answer", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return "", apperrors.Media("set publisher local description", err)
	}
	<-gatherComplete

	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return "", apperrors.Media("no local description after gathering", nil)
	}

	room.mu.Lock()
	room.publishers[userID] = session
	room.mu.Unlock()

	metrics.ActivePublishers.WithLabelValues(roomID).Inc()

	logging.Info(ctx, "publisher peer connection created",
		zap.String("room_id", roomID), zap.String("user_id", userID), zap.String("feed_id", feedID))

	return local.SDP, nil
}

// AddICECandidatePublisher adds a trickled ICE candidate to a publisher's
// peer connection. Missing rooms or sessions are silently ignored; ICE
// trickle is best-effort and arriving after teardown is not an error.
func (g *Gateway) AddICECandidatePublisher(roomID, userID string, candidate webrtc.ICECandidateInit) error {
	room, ok := g.getRoom(roomID)
	if !ok {
		return nil
	}
	room.mu.RLock()
	session, ok := room.publishers[userID]
	room.mu.RUnlock()
	if !ok {
		return nil
	}
	return session.pc.AddICECandidate(candidate)
}

// CreateSubscriber creates a peer connection that receives the named feeds.
// Unknown feed IDs are skipped rather than treated as an error, matching the
// rest of the forwarding path's best-effort semantics.
func (g *Gateway) CreateSubscriber(ctx context.Context, roomID, userID string, feedIDs []string) (string, error) {
	room, ok := g.getRoom(roomID)
	if !ok {
		return "", apperrors.NotFound("room not found")
	}

	pc, err := g.api.NewPeerConnection(g.rtcConfig())
	if err != nil {
		return "", apperrors.Media("create subscriber peer connection", err)
	}

	for _, feedID := range feedIDs {
		room.mu.RLock()
		var tracks []*webrtc.TrackLocalStaticRTP
		for _, pub := range room.publishers {
			pub.mu.RLock()
			if pub.feedID == feedID {
				tracks = append(tracks, pub.localTracks...)
			}
			pub.mu.RUnlock()
		}
		room.mu.RUnlock()

		for _, track := range tracks {
			sender, err := pc.AddTrack(track)
			if err != nil {
				logging.Error(ctx, "failed to add track to subscriber", zap.Error(err))
				continue
			}
			go drainRTCP(sender)
		}
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logging.Info(ctx, "subscriber peer connection state changed",
			zap.String("user_id", userID), zap.String("state", state.String()))
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return "", apperrors.Media("create subscriber offer", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return "", apperrors.Media("set subscriber local description", err)
	}
	<-gatherComplete

	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return "", apperrors.Media("no local description after gathering", nil)
	}

	room.mu.Lock()
	room.subscribers[userID] = &SubscriberSession{pc: pc, userID: userID, subscribedFeeds: feedIDs}
	room.mu.Unlock()

	metrics.ActiveSubscribers.WithLabelValues(roomID).Inc()

	logging.Info(ctx, "subscriber peer connection created",
		zap.String("room_id", roomID), zap.String("user_id", userID))

	return local.SDP, nil
}

// drainRTCP reads and discards RTCP packets on an RTP sender so the
// interceptor pipeline (NACK, PLI, etc.) keeps functioning.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// SetSubscriberAnswer applies the client's SDP answer to a subscriber's peer
// connection.
func (g *Gateway) SetSubscriberAnswer(roomID, userID, answerSDP string) error {
	room, ok := g.getRoom(roomID)
	if !ok {
		return nil
	}
	room.mu.RLock()
	session, ok := room.subscribers[userID]
	room.mu.RUnlock()
	if !ok {
		return nil
	}
	return session.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	})
}

// AddICECandidateSubscriber adds a trickled ICE candidate to a subscriber's
// peer connection. Best-effort, like AddICECandidatePublisher.
func (g *Gateway) AddICECandidateSubscriber(roomID, userID string, candidate webrtc.ICECandidateInit) error {
	room, ok := g.getRoom(roomID)
	if !ok {
		return nil
	}
	room.mu.RLock()
	session, ok := room.subscribers[userID]
	room.mu.RUnlock()
	if !ok {
		return nil
	}
	return session.pc.AddICECandidate(candidate)
}

// RemovePublisher stops the publisher's forwarders and closes its peer
// connection. Idempotent: removing an unknown publisher is a no-op.
func (g *Gateway) RemovePublisher(roomID, userID string) {
	room, ok := g.getRoom(roomID)
	if !ok {
		return
	}
	room.mu.Lock()
	session, ok := room.publishers[userID]
	if ok {
		delete(room.publishers, userID)
	}
	room.mu.Unlock()
	if !ok {
		return
	}

	session.mu.RLock()
	for _, f := range session.forwarders {
		f.Stop()
	}
	session.mu.RUnlock()
	_ = session.pc.Close()

	metrics.ActivePublishers.WithLabelValues(roomID).Dec()
	logging.Info(context.Background(), "publisher removed",
		zap.String("room_id", roomID), zap.String("user_id", userID))
}

// RemoveSubscriber closes the subscriber's peer connection. Idempotent.
func (g *Gateway) RemoveSubscriber(roomID, userID string) {
	room, ok := g.getRoom(roomID)
	if !ok {
		return
	}
	room.mu.Lock()
	session, ok := room.subscribers[userID]
	if ok {
		delete(room.subscribers, userID)
	}
	room.mu.Unlock()
	if !ok {
		return
	}

	_ = session.pc.Close()
	metrics.ActiveSubscribers.WithLabelValues(roomID).Dec()
	logging.Info(context.Background(), "subscriber removed",
		zap.String("room_id", roomID), zap.String("user_id", userID))
}

// CleanupRoom stops every forwarder and closes every peer connection for a
// room, then drops the room's media state entirely.
func (g *Gateway) CleanupRoom(roomID string) {
	g.mu.Lock()
	room, ok := g.rooms[roomID]
	if ok {
		delete(g.rooms, roomID)
	}
	g.mu.Unlock()
	if !ok {
		return
	}

	room.mu.RLock()
	defer room.mu.RUnlock()

	for _, pub := range room.publishers {
		pub.mu.RLock()
		for _, f := range pub.forwarders {
			f.Stop()
		}
		pub.mu.RUnlock()
		_ = pub.pc.Close()
	}
	for _, sub := range room.subscribers {
		_ = sub.pc.Close()
	}

	metrics.ActivePublishers.DeleteLabelValues(roomID)
	metrics.ActiveSubscribers.DeleteLabelValues(roomID)
	logging.Info(context.Background(), "room media cleaned up", zap.String("room_id", roomID))
}

// GetPublisherCount returns the number of active publishers in a room.
func (g *Gateway) GetPublisherCount(roomID string) int {
	room, ok := g.getRoom(roomID)
	if !ok {
		return 0
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.publishers)
}

// GetSubscriberCount returns the number of active subscribers in a room.
func (g *Gateway) GetSubscriberCount(roomID string) int {
	room, ok := g.getRoom(roomID)
	if !ok {
		return 0
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.subscribers)
}
