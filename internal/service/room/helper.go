package room

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	repository "github.com/couchsync/couchsync/internal/repository/room"
	"github.com/couchsync/couchsync/pkg/protocol"
)

// getConnsByRoomID returns the live connections of every participant except
// excludeUserID (pass "" to include everyone). Participants whose connection
// is gone, such as a host inside its grace period, are skipped.
func (s *service) getConnsByRoomID(ctx context.Context, roomID, excludeUserID string) ([]*websocket.Conn, error) {
	userIDs, err := s.roomRepo.GetParticipantIDs(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participant ids: %w", err)
	}

	conns := make([]*websocket.Conn, 0, len(userIDs))
	for _, userID := range userIDs {
		if userID == excludeUserID {
			continue
		}

		conn, err := s.connRepo.GetConn(userID)
		if err != nil {
			continue
		}

		conns = append(conns, conn)
	}

	return conns, nil
}

func (s *service) getParticipantList(ctx context.Context, roomID string) ([]protocol.Participant, error) {
	userIDs, err := s.roomRepo.GetParticipantIDs(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participant ids: %w", err)
	}

	participants := make([]protocol.Participant, 0, len(userIDs))
	for _, userID := range userIDs {
		participant, err := s.roomRepo.GetParticipant(ctx, &repository.GetParticipantParams{
			RoomID: roomID,
			UserID: userID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get participant: %w", err)
		}

		participants = append(participants, protocol.Participant{
			UserID:     participant.UserID,
			Role:       protocol.Role(participant.Role),
			JoinedAtMs: participant.JoinedAtMs,
		})
	}

	return participants, nil
}

func (s *service) getPlaybackState(ctx context.Context, roomID string) (protocol.PlaybackState, error) {
	player, err := s.roomRepo.GetPlayer(ctx, roomID)
	if err != nil {
		return protocol.PlaybackState{}, fmt.Errorf("failed to get player: %w", err)
	}

	return protocol.PlaybackState{
		IsPlaying:    player.IsPlaying,
		PositionSec:  player.PositionSec,
		PlaybackRate: player.PlaybackRate,
		LastUpdateMs: player.LastUpdateMs,
	}, nil
}
