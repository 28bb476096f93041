package redis

import (
	"context"
	"fmt"

	"github.com/couchsync/couchsync/internal/repository/room"
)

func (r repo) getPlayerKey(roomID string) string {
	return "room:" + roomID + ":player"
}

func (r repo) SetPlayer(ctx context.Context, params *room.SetPlayerParams) error {
	playerKey := r.getPlayerKey(params.RoomID)
	player := room.Player{
		IsPlaying:    params.IsPlaying,
		PositionSec:  params.PositionSec,
		PlaybackRate: params.PlaybackRate,
		LastUpdateMs: params.LastUpdateMs,
	}
	if err := r.rc.HSet(ctx, playerKey, player).Err(); err != nil {
		return fmt.Errorf("failed to set player: %w", err)
	}

	r.rc.Expire(ctx, playerKey, r.expireDuration)

	return nil
}

func (r repo) GetPlayer(ctx context.Context, roomID string) (room.Player, error) {
	playerKey := r.getPlayerKey(roomID)
	res, err := r.rc.Exists(ctx, playerKey).Result()
	if err != nil {
		return room.Player{}, fmt.Errorf("failed to check if player exists: %w", err)
	}
	if res == 0 {
		return room.Player{}, room.ErrPlayerNotFound
	}

	var player room.Player
	if err := r.rc.HGetAll(ctx, playerKey).Scan(&player); err != nil {
		return room.Player{}, fmt.Errorf("failed to get player: %w", err)
	}

	r.rc.Expire(ctx, playerKey, r.expireDuration)

	return player, nil
}

func (r repo) UpdatePlayerState(ctx context.Context, params *room.UpdatePlayerStateParams) error {
	playerKey := r.getPlayerKey(params.RoomID)
	cmd := r.rc.Exists(ctx, playerKey)
	if err := cmd.Err(); err != nil {
		return err
	}
	if cmd.Val() == 0 {
		return room.ErrPlayerNotFound
	}

	if err := r.rc.HSet(ctx, playerKey,
		"is_playing", params.IsPlaying,
		"position_sec", params.PositionSec,
		"playback_rate", params.PlaybackRate,
		"last_update_ms", params.LastUpdateMs,
	).Err(); err != nil {
		return err
	}

	r.rc.Expire(ctx, playerKey, r.expireDuration)

	return nil
}

// UpdatePlayerRate leaves position_sec and last_update_ms untouched: a rate
// change does not move the anchor the drift projection is computed from.
func (r repo) UpdatePlayerRate(ctx context.Context, params *room.UpdatePlayerRateParams) error {
	playerKey := r.getPlayerKey(params.RoomID)
	cmd := r.rc.Exists(ctx, playerKey)
	if err := cmd.Err(); err != nil {
		return err
	}
	if cmd.Val() == 0 {
		return room.ErrPlayerNotFound
	}

	if err := r.rc.HSet(ctx, playerKey, "playback_rate", params.PlaybackRate).Err(); err != nil {
		return err
	}

	r.rc.Expire(ctx, playerKey, r.expireDuration)

	return nil
}
