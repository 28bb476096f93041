package room

import (
	"context"
	"fmt"

	repository "github.com/couchsync/couchsync/internal/repository/room"
	"github.com/couchsync/couchsync/pkg/protocol"
)

// authorizeHost enforces the single invariant the whole design rests on:
// canonical playback state is mutated only by the registered host.
func (s *service) authorizeHost(ctx context.Context, roomID, senderID string) error {
	roomValue, err := s.roomRepo.GetRoom(ctx, roomID)
	if err != nil {
		if err == repository.ErrRoomNotFound {
			return ErrRoomNotFound
		}
		return fmt.Errorf("failed to get room: %w", err)
	}

	if roomValue.HostUserID != senderID {
		return ErrUnauthorized
	}

	return nil
}

type HostPlayParams struct {
	SenderID        string
	RoomID          string
	PositionSec     float64
	HostTimestampMs int64
	PlaybackRate    float64
}

func (s *service) HostPlay(ctx context.Context, params *HostPlayParams) error {
	if !s.limiter.allow(params.SenderID, protocol.EventHostPlay) {
		return ErrRateLimited
	}

	unlock := s.locks.lock(params.RoomID)
	defer unlock()

	if err := s.authorizeHost(ctx, params.RoomID, params.SenderID); err != nil {
		return err
	}

	if err := s.roomRepo.UpdatePlayerState(ctx, &repository.UpdatePlayerStateParams{
		RoomID:       params.RoomID,
		IsPlaying:    true,
		PositionSec:  params.PositionSec,
		PlaybackRate: params.PlaybackRate,
		LastUpdateMs: params.HostTimestampMs,
	}); err != nil {
		return fmt.Errorf("failed to update player state: %w", err)
	}

	s.relay(ctx, params.RoomID, params.SenderID, protocol.EventHostPlay, &protocol.PlayPayload{
		RoomID:          params.RoomID,
		PositionSec:     params.PositionSec,
		HostTimestampMs: params.HostTimestampMs,
		PlaybackRate:    params.PlaybackRate,
	})

	return nil
}

type HostPauseParams struct {
	SenderID        string
	RoomID          string
	PositionSec     float64
	HostTimestampMs int64
}

func (s *service) HostPause(ctx context.Context, params *HostPauseParams) error {
	if !s.limiter.allow(params.SenderID, protocol.EventHostPause) {
		return ErrRateLimited
	}

	unlock := s.locks.lock(params.RoomID)
	defer unlock()

	if err := s.authorizeHost(ctx, params.RoomID, params.SenderID); err != nil {
		return err
	}

	player, err := s.roomRepo.GetPlayer(ctx, params.RoomID)
	if err != nil {
		return fmt.Errorf("failed to get player: %w", err)
	}

	if err := s.roomRepo.UpdatePlayerState(ctx, &repository.UpdatePlayerStateParams{
		RoomID:       params.RoomID,
		IsPlaying:    false,
		PositionSec:  params.PositionSec,
		PlaybackRate: player.PlaybackRate,
		LastUpdateMs: params.HostTimestampMs,
	}); err != nil {
		return fmt.Errorf("failed to update player state: %w", err)
	}

	s.relay(ctx, params.RoomID, params.SenderID, protocol.EventHostPause, &protocol.PausePayload{
		RoomID:          params.RoomID,
		PositionSec:     params.PositionSec,
		HostTimestampMs: params.HostTimestampMs,
	})

	return nil
}

type HostSeekParams struct {
	SenderID        string
	RoomID          string
	PositionSec     float64
	HostTimestampMs int64
}

func (s *service) HostSeek(ctx context.Context, params *HostSeekParams) error {
	if !s.limiter.allow(params.SenderID, protocol.EventHostSeek) {
		return ErrRateLimited
	}

	unlock := s.locks.lock(params.RoomID)
	defer unlock()

	if err := s.authorizeHost(ctx, params.RoomID, params.SenderID); err != nil {
		return err
	}

	player, err := s.roomRepo.GetPlayer(ctx, params.RoomID)
	if err != nil {
		return fmt.Errorf("failed to get player: %w", err)
	}

	if err := s.roomRepo.UpdatePlayerState(ctx, &repository.UpdatePlayerStateParams{
		RoomID:       params.RoomID,
		IsPlaying:    player.IsPlaying,
		PositionSec:  params.PositionSec,
		PlaybackRate: player.PlaybackRate,
		LastUpdateMs: params.HostTimestampMs,
	}); err != nil {
		return fmt.Errorf("failed to update player state: %w", err)
	}

	s.relay(ctx, params.RoomID, params.SenderID, protocol.EventHostSeek, &protocol.SeekPayload{
		RoomID:          params.RoomID,
		PositionSec:     params.PositionSec,
		HostTimestampMs: params.HostTimestampMs,
	})

	return nil
}

type HostTimeSyncParams struct {
	SenderID        string
	RoomID          string
	PositionSec     float64
	HostTimestampMs int64
	IsPlaying       bool
}

// HostTimeSync is the heartbeat path. Best effort by contract: the caller
// swallows ErrRateLimited and ErrUnauthorized instead of surfacing them.
func (s *service) HostTimeSync(ctx context.Context, params *HostTimeSyncParams) error {
	if !s.limiter.allow(params.SenderID, protocol.EventHostTimeSync) {
		return ErrRateLimited
	}

	unlock := s.locks.lock(params.RoomID)
	defer unlock()

	if err := s.authorizeHost(ctx, params.RoomID, params.SenderID); err != nil {
		return err
	}

	player, err := s.roomRepo.GetPlayer(ctx, params.RoomID)
	if err != nil {
		return fmt.Errorf("failed to get player: %w", err)
	}

	// a heartbeat older than the canonical anchor lost a race with a
	// discrete command; relaying it would hand followers a stale position
	if params.HostTimestampMs < player.LastUpdateMs {
		return nil
	}

	if err := s.roomRepo.UpdatePlayerState(ctx, &repository.UpdatePlayerStateParams{
		RoomID:       params.RoomID,
		IsPlaying:    params.IsPlaying,
		PositionSec:  params.PositionSec,
		PlaybackRate: player.PlaybackRate,
		LastUpdateMs: params.HostTimestampMs,
	}); err != nil {
		return fmt.Errorf("failed to update player state: %w", err)
	}

	s.relay(ctx, params.RoomID, params.SenderID, protocol.EventHostTimeSync, &protocol.TimeSyncPayload{
		RoomID:          params.RoomID,
		PositionSec:     params.PositionSec,
		HostTimestampMs: params.HostTimestampMs,
		IsPlaying:       params.IsPlaying,
	})

	return nil
}

type HostSpeedChangeParams struct {
	SenderID        string
	RoomID          string
	PlaybackRate    float64
	HostTimestampMs int64
}

func (s *service) HostSpeedChange(ctx context.Context, params *HostSpeedChangeParams) error {
	if !s.limiter.allow(params.SenderID, protocol.EventHostSpeedChange) {
		return ErrRateLimited
	}

	unlock := s.locks.lock(params.RoomID)
	defer unlock()

	if err := s.authorizeHost(ctx, params.RoomID, params.SenderID); err != nil {
		return err
	}

	if err := s.roomRepo.UpdatePlayerRate(ctx, &repository.UpdatePlayerRateParams{
		RoomID:       params.RoomID,
		PlaybackRate: params.PlaybackRate,
	}); err != nil {
		return fmt.Errorf("failed to update player rate: %w", err)
	}

	s.relay(ctx, params.RoomID, params.SenderID, protocol.EventHostSpeedChange, &protocol.SpeedChangePayload{
		RoomID:          params.RoomID,
		PlaybackRate:    params.PlaybackRate,
		HostTimestampMs: params.HostTimestampMs,
	})

	return nil
}

// relay fans an accepted host event out to every other participant. Never
// echoed back to the sender.
func (s *service) relay(ctx context.Context, roomID, senderID, eventName string, payload any) {
	conns, err := s.getConnsByRoomID(ctx, roomID, senderID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to get conns for relay", "error", err)
		return
	}

	s.sender.Broadcast(conns, eventName, payload)
}
