package redis

import (
	"context"
	"fmt"

	"github.com/couchsync/couchsync/internal/repository/room"
)

func (r repo) getParticipantsKey(roomID string) string {
	return "room:" + roomID + ":participants"
}

func (r repo) getParticipantKey(roomID, userID string) string {
	return "room:" + roomID + ":participant:" + userID
}

func (r repo) AddParticipant(ctx context.Context, params *room.AddParticipantParams) error {
	participantKey := r.getParticipantKey(params.RoomID, params.UserID)
	participantsKey := r.getParticipantsKey(params.RoomID)

	pipe := r.rc.TxPipeline()
	pipe.HSet(ctx, participantKey, room.Participant{
		UserID:     params.UserID,
		Role:       params.Role,
		JoinedAtMs: params.JoinedAtMs,
	})
	pipe.ZAdd(ctx, participantsKey, redisZ(float64(params.JoinedAtMs), params.UserID))
	pipe.Expire(ctx, participantKey, r.expireDuration)
	pipe.Expire(ctx, participantsKey, r.expireDuration)

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}

	return nil
}

func (r repo) RemoveParticipant(ctx context.Context, params *room.RemoveParticipantParams) error {
	participantKey := r.getParticipantKey(params.RoomID, params.UserID)
	res, err := r.rc.Del(ctx, participantKey).Result()
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	if res == 0 {
		return room.ErrParticipantNotFound
	}

	if err := r.rc.ZRem(ctx, r.getParticipantsKey(params.RoomID), params.UserID).Err(); err != nil {
		return fmt.Errorf("failed to remove participant from list: %w", err)
	}

	return nil
}

func (r repo) GetParticipant(ctx context.Context, params *room.GetParticipantParams) (room.Participant, error) {
	participantKey := r.getParticipantKey(params.RoomID, params.UserID)
	res, err := r.rc.Exists(ctx, participantKey).Result()
	if err != nil {
		return room.Participant{}, fmt.Errorf("failed to check if participant exists: %w", err)
	}
	if res == 0 {
		return room.Participant{}, room.ErrParticipantNotFound
	}

	var participant room.Participant
	if err := r.rc.HGetAll(ctx, participantKey).Scan(&participant); err != nil {
		return room.Participant{}, fmt.Errorf("failed to get participant: %w", err)
	}

	r.rc.Expire(ctx, participantKey, r.expireDuration)

	return participant, nil
}

// GetParticipantIDs returns user ids ordered by join time, oldest first.
func (r repo) GetParticipantIDs(ctx context.Context, roomID string) ([]string, error) {
	participantsKey := r.getParticipantsKey(roomID)
	userIDs, err := r.rc.ZRange(ctx, participantsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get participant ids: %w", err)
	}

	r.rc.Expire(ctx, participantsKey, r.expireDuration)

	return userIDs, nil
}

func (r repo) UpdateParticipantRole(ctx context.Context, params *room.UpdateParticipantRoleParams) error {
	participantKey := r.getParticipantKey(params.RoomID, params.UserID)
	cmd := r.rc.Exists(ctx, participantKey)
	if err := cmd.Err(); err != nil {
		return err
	}
	if cmd.Val() == 0 {
		return room.ErrParticipantNotFound
	}

	if err := r.rc.HSet(ctx, participantKey, "role", params.Role).Err(); err != nil {
		return fmt.Errorf("failed to update participant role: %w", err)
	}

	r.rc.Expire(ctx, participantKey, r.expireDuration)

	return nil
}
