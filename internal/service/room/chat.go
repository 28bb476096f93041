package room

import (
	"context"
	"fmt"

	"github.com/couchsync/couchsync/pkg/protocol"
)

type RelayReactionParams struct {
	SenderID string
	RoomID   string
	Type     string
}

// RelayReaction broadcasts to the whole room including the sender echo, so
// every client renders reactions through the same path. Rate-limit breaches
// are silent drops, not errors.
func (s *service) RelayReaction(ctx context.Context, params *RelayReactionParams) error {
	if !s.limiter.allow(params.SenderID, protocol.EventReaction) {
		return ErrRateLimited
	}

	if err := s.requireParticipant(ctx, params.RoomID, params.SenderID); err != nil {
		return err
	}

	conns, err := s.getConnsByRoomID(ctx, params.RoomID, "")
	if err != nil {
		return err
	}

	s.sender.Broadcast(conns, protocol.EventReaction, &protocol.ReactionPayload{
		RoomID: params.RoomID,
		Type:   params.Type,
		UserID: params.SenderID,
	})

	return nil
}

type RelayChatMessageParams struct {
	SenderID string
	RoomID   string
	Text     string
}

func (s *service) RelayChatMessage(ctx context.Context, params *RelayChatMessageParams) error {
	if !s.limiter.allow(params.SenderID, protocol.EventChatMessage) {
		return ErrRateLimited
	}

	if err := s.requireParticipant(ctx, params.RoomID, params.SenderID); err != nil {
		return err
	}

	conns, err := s.getConnsByRoomID(ctx, params.RoomID, "")
	if err != nil {
		return err
	}

	s.sender.Broadcast(conns, protocol.EventChatMessage, &protocol.ChatMessagePayload{
		RoomID: params.RoomID,
		Text:   params.Text,
		UserID: params.SenderID,
	})

	return nil
}

func (s *service) requireParticipant(ctx context.Context, roomID, userID string) error {
	userIDs, err := s.roomRepo.GetParticipantIDs(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to get participant ids: %w", err)
	}

	for _, id := range userIDs {
		if id == userID {
			return nil
		}
	}

	return ErrUnauthorized
}
