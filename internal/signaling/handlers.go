package signaling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/truegather/backend/internal/apperrors"
	"github.com/truegather/backend/internal/logging"
	"github.com/truegather/backend/internal/store"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// iceCandidateInit converts a trickled ICE payload into the shape pion
// expects, carrying sdp_mid/sdp_mline_index through unchanged when present.
func iceCandidateInit(req TrickleIcePayload) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     req.Candidate,
		SDPMid:        req.SDPMid,
		SDPMLineIndex: req.SDPMLineIndex,
	}
}

// handleMessage dispatches one incoming signaling message to its handler.
func (h *Hub) handleMessage(ctx context.Context, msg SignalingMessage, session *wsSessionState, client *ClientHandle) error {
	logging.Debug(ctx, "received message", zap.String("type", msg.Type), zap.String("conn_id", session.connID))

	switch msg.Type {
	case MsgJoinRoom:
		return h.handleJoinRoom(ctx, msg.Payload, msg.RequestID, session, client)
	case MsgPublishOffer:
		return h.handlePublishOffer(ctx, msg.Payload, msg.RequestID, session, client)
	case MsgTrickleICE:
		return h.handleTrickleICE(msg.Payload, session)
	case MsgSubscribe:
		return h.handleSubscribe(ctx, msg.Payload, msg.RequestID, session, client)
	case MsgSubscribeAnswer:
		return h.handleSubscribeAnswer(msg.Payload, session)
	case MsgLeave:
		return h.handleLeave(msg.RequestID, session, client)
	case MsgPing:
		return h.handlePing(ctx, msg.RequestID, session, client)
	default:
		client.Send(NewErrorMessage(apperrors.HTTPStatus(apperrors.KindBadRequest), "unknown message type", msg.RequestID))
		return nil
	}
}

func (h *Hub) handleJoinRoom(ctx context.Context, payload json.RawMessage, requestID *string, session *wsSessionState, client *ClientHandle) error {
	var req JoinRoomPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.BadRequest("invalid join_room payload")
	}
	if req.RoomID != session.roomID {
		return apperrors.Unauthorized("room_id does not match token")
	}

	publishers, err := h.store.ListPublishers(ctx, session.roomID)
	if err != nil {
		return apperrors.Storage("list publishers", err)
	}
	payloads := make([]PublisherPayload, 0, len(publishers))
	for _, p := range publishers {
		payloads = append(payloads, PublisherPayload{FeedID: p.FeedID, Display: p.Display})
	}

	resp, err := NewMessage(MsgJoined, JoinedPayload{
		RoomID:     session.roomID,
		UserID:     session.userID,
		Publishers: payloads,
	})
	if err != nil {
		return apperrors.Internal("build joined response", err)
	}
	client.Send(resp.WithRequestID(requestID))

	_ = h.store.AddMember(ctx, session.roomID, session.userID)

	joinedBroadcast, err := NewMessage(MsgMemberJoined, MemberPayload{
		UserID: session.userID, Display: session.display, RoomID: session.roomID,
	})
	if err == nil {
		h.connections.broadcastToRoom(session.roomID, joinedBroadcast, session.connID)
	}

	logging.Info(ctx, "user joined room via signaling",
		zap.String("room_id", session.roomID), zap.String("user_id", session.userID))
	return nil
}

func (h *Hub) handlePublishOffer(ctx context.Context, payload json.RawMessage, requestID *string, session *wsSessionState, client *ClientHandle) error {
	var req PublishOfferPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.BadRequest("invalid publish_offer payload")
	}
	if session.isPublishing {
		return apperrors.BadRequest("already publishing")
	}

	feedID := uuid.NewString()

	answerSDP, err := h.gateway.CreatePublisher(ctx, session.roomID, session.userID, feedID, req.SDP)
	if err != nil {
		return err
	}

	session.setPublishing(feedID)

	if err := h.store.SetPublisher(ctx, session.roomID, session.userID, store.PublisherInfo{
		FeedID:   feedID,
		UserID:   session.userID,
		Display:  session.display,
		JoinedAt: time.Now().UTC(),
	}); err != nil {
		return apperrors.Storage("persist publisher", err)
	}

	resp, err := NewMessage(MsgPublishAnswer, PublishAnswerPayload{SDP: answerSDP})
	if err != nil {
		return apperrors.Internal("build publish_answer response", err)
	}
	client.Send(resp.WithRequestID(requestID))

	broadcast, err := NewMessage(MsgPublisherJoined, PublisherJoinedPayload{
		FeedID:  feedID,
		Display: session.display,
		RoomID:  session.roomID,
	})
	if err == nil {
		h.connections.broadcastToRoom(session.roomID, broadcast, session.connID)
	}

	logging.Info(ctx, "publisher started streaming",
		zap.String("room_id", session.roomID), zap.String("user_id", session.userID), zap.String("feed_id", feedID))
	return nil
}

func (h *Hub) handleTrickleICE(payload json.RawMessage, session *wsSessionState) error {
	var req TrickleIcePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.BadRequest("invalid trickle_ice payload")
	}

	candidate := iceCandidateInit(req)

	switch req.Target {
	case "publisher":
		return h.gateway.AddICECandidatePublisher(session.roomID, session.userID, candidate)
	case "subscriber":
		if req.FeedID != nil {
			return h.gateway.AddICECandidateSubscriber(session.roomID, session.userID, candidate)
		}
	}
	return nil
}

func (h *Hub) handleSubscribe(ctx context.Context, payload json.RawMessage, requestID *string, session *wsSessionState, client *ClientHandle) error {
	var req SubscribePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.BadRequest("invalid subscribe payload")
	}

	feedIDs := make([]string, 0, len(req.Feeds))
	for _, f := range req.Feeds {
		feedIDs = append(feedIDs, f.FeedID)
	}

	offerSDP, err := h.gateway.CreateSubscriber(ctx, session.roomID, session.userID, feedIDs)
	if err != nil {
		return err
	}

	for _, feedID := range feedIDs {
		session.addSubscription(feedID)
	}

	resp, err := NewMessage(MsgSubscribeOffer, SubscribeOfferPayload{SDP: offerSDP, FeedIDs: feedIDs})
	if err != nil {
		return apperrors.Internal("build subscribe_offer response", err)
	}
	client.Send(resp.WithRequestID(requestID))

	logging.Debug(ctx, "subscribe offer sent",
		zap.String("room_id", session.roomID), zap.String("user_id", session.userID))
	return nil
}

func (h *Hub) handleSubscribeAnswer(payload json.RawMessage, session *wsSessionState) error {
	var req SubscribeAnswerPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.BadRequest("invalid subscribe_answer payload")
	}
	return h.gateway.SetSubscriberAnswer(session.roomID, session.userID, req.SDP)
}

// handleLeave replies immediately; the actual teardown happens when the
// socket closes, not here.
func (h *Hub) handleLeave(requestID *string, session *wsSessionState, client *ClientHandle) error {
	resp, err := NewMessage(MsgLeftRoom, LeftRoomPayload{Success: true})
	if err != nil {
		return apperrors.Internal("build left_room response", err)
	}
	client.Send(resp.WithRequestID(requestID))
	return nil
}

func (h *Hub) handlePing(ctx context.Context, requestID *string, session *wsSessionState, client *ClientHandle) error {
	resp, err := NewMessage(MsgPong, struct{}{})
	if err != nil {
		return apperrors.Internal("build pong response", err)
	}
	client.Send(resp.WithRequestID(requestID))

	_ = h.store.UpdateWsSessionPing(ctx, session.connID, 1800)
	return nil
}
