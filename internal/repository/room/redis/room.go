package redis

import (
	"context"
	"fmt"

	"github.com/couchsync/couchsync/internal/repository/room"
)

func (r repo) getRoomKey(roomID string) string {
	return "room:" + roomID
}

func (r repo) SetRoom(ctx context.Context, params *room.SetRoomParams) error {
	roomKey := r.getRoomKey(params.RoomID)
	value := room.Room{
		HostUserID:      params.HostUserID,
		FileFingerprint: params.FileFingerprint,
		FileSize:        params.FileSize,
		DurationMs:      params.DurationMs,
		Codec:           params.Codec,
		CreatedAtMs:     params.CreatedAtMs,
	}
	if err := r.rc.HSet(ctx, roomKey, value).Err(); err != nil {
		return fmt.Errorf("failed to set room: %w", err)
	}

	r.rc.Expire(ctx, roomKey, r.expireDuration)

	return nil
}

func (r repo) GetRoom(ctx context.Context, roomID string) (room.Room, error) {
	roomKey := r.getRoomKey(roomID)
	res, err := r.rc.Exists(ctx, roomKey).Result()
	if err != nil {
		return room.Room{}, fmt.Errorf("failed to check if room exists: %w", err)
	}
	if res == 0 {
		return room.Room{}, room.ErrRoomNotFound
	}

	var value room.Room
	if err := r.rc.HGetAll(ctx, roomKey).Scan(&value); err != nil {
		return room.Room{}, fmt.Errorf("failed to get room: %w", err)
	}

	r.rc.Expire(ctx, roomKey, r.expireDuration)

	return value, nil
}

func (r repo) UpdateRoomHost(ctx context.Context, params *room.UpdateRoomHostParams) error {
	roomKey := r.getRoomKey(params.RoomID)
	cmd := r.rc.Exists(ctx, roomKey)
	if err := cmd.Err(); err != nil {
		return err
	}
	if cmd.Val() == 0 {
		return room.ErrRoomNotFound
	}

	if err := r.rc.HSet(ctx, roomKey, "host_user_id", params.HostUserID).Err(); err != nil {
		return fmt.Errorf("failed to update room host: %w", err)
	}

	r.rc.Expire(ctx, roomKey, r.expireDuration)

	return nil
}

func (r repo) RemoveRoom(ctx context.Context, roomID string) error {
	userIDs, err := r.GetParticipantIDs(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to get participant ids: %w", err)
	}

	pipe := r.rc.TxPipeline()
	for _, userID := range userIDs {
		pipe.Del(ctx, r.getParticipantKey(roomID, userID))
	}
	pipe.Del(ctx, r.getParticipantsKey(roomID))
	pipe.Del(ctx, r.getPlayerKey(roomID))
	pipe.Del(ctx, r.getRoomKey(roomID))

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to remove room: %w", err)
	}

	return nil
}
