package room

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	repository "github.com/couchsync/couchsync/internal/repository/room"
	"github.com/couchsync/couchsync/pkg/protocol"
)

type CreateRoomParams struct {
	FileFingerprint string
	FileSize        int64
	DurationMs      int64
	Codec           string
}

type CreateRoomResponse struct {
	RoomID    string
	ShareURL  string
	UserID    string
	AuthToken string
}

// CreateRoom registers a room keyed by a shareable code and records the
// creator as its host. The playback state starts paused at zero; the host
// pushes real state once it connects.
func (s *service) CreateRoom(ctx context.Context, params *CreateRoomParams) (CreateRoomResponse, error) {
	roomID := s.generator.GenerateRandomString(roomCodeLength)
	userID := uuid.NewString()
	nowMs := s.nowMs()

	if err := s.roomRepo.SetRoom(ctx, &repository.SetRoomParams{
		RoomID:          roomID,
		HostUserID:      userID,
		FileFingerprint: params.FileFingerprint,
		FileSize:        params.FileSize,
		DurationMs:      params.DurationMs,
		Codec:           params.Codec,
		CreatedAtMs:     nowMs,
	}); err != nil {
		return CreateRoomResponse{}, fmt.Errorf("failed to set room: %w", err)
	}

	if err := s.roomRepo.SetPlayer(ctx, &repository.SetPlayerParams{
		RoomID:       roomID,
		IsPlaying:    false,
		PositionSec:  0,
		PlaybackRate: 1,
		LastUpdateMs: nowMs,
	}); err != nil {
		return CreateRoomResponse{}, fmt.Errorf("failed to set player: %w", err)
	}

	authToken, err := s.generateToken(&Claims{
		UserID: userID,
		RoomID: roomID,
		Role:   protocol.RoleHost,
	})
	if err != nil {
		return CreateRoomResponse{}, fmt.Errorf("failed to generate token: %w", err)
	}

	return CreateRoomResponse{
		RoomID:    roomID,
		ShareURL:  s.shareBaseURL + "/" + roomID,
		UserID:    userID,
		AuthToken: authToken,
	}, nil
}

type ResolveRoomParams struct {
	RoomID          string
	FileFingerprint string
}

type ResolveRoomResponse struct {
	HostFileFingerprint string
	HostFileSize        int64
	HostFileDurationMs  int64
	FingerprintMatches  bool
	UserID              string
	AuthToken           string
}

// ResolveRoom compares the caller's file fingerprint with the host's and
// mints a follower token only on a match; the host file facts are returned
// either way so the caller can tell the user what differs.
func (s *service) ResolveRoom(ctx context.Context, params *ResolveRoomParams) (ResolveRoomResponse, error) {
	roomValue, err := s.roomRepo.GetRoom(ctx, params.RoomID)
	if err != nil {
		if err == repository.ErrRoomNotFound {
			return ResolveRoomResponse{}, ErrRoomNotFound
		}
		return ResolveRoomResponse{}, fmt.Errorf("failed to get room: %w", err)
	}

	resp := ResolveRoomResponse{
		HostFileFingerprint: roomValue.FileFingerprint,
		HostFileSize:        roomValue.FileSize,
		HostFileDurationMs:  roomValue.DurationMs,
		FingerprintMatches:  roomValue.FileFingerprint == params.FileFingerprint,
	}
	if !resp.FingerprintMatches {
		return resp, nil
	}

	resp.UserID = uuid.NewString()
	resp.AuthToken, err = s.generateToken(&Claims{
		UserID: resp.UserID,
		RoomID: params.RoomID,
		Role:   protocol.RoleFollower,
	})
	if err != nil {
		return ResolveRoomResponse{}, fmt.Errorf("failed to generate token: %w", err)
	}

	return resp, nil
}

// RequestRoomState serves late joiners and clients resynchronizing after a
// transport reconnect, without waiting for the next heartbeat.
func (s *service) RequestRoomState(ctx context.Context, roomID string) (protocol.RoomStatePayload, error) {
	if _, err := s.roomRepo.GetRoom(ctx, roomID); err != nil {
		if err == repository.ErrRoomNotFound {
			return protocol.RoomStatePayload{}, ErrRoomNotFound
		}
		return protocol.RoomStatePayload{}, fmt.Errorf("failed to get room: %w", err)
	}

	participants, err := s.getParticipantList(ctx, roomID)
	if err != nil {
		return protocol.RoomStatePayload{}, err
	}

	currentState, err := s.getPlaybackState(ctx, roomID)
	if err != nil {
		return protocol.RoomStatePayload{}, err
	}

	return protocol.RoomStatePayload{
		RoomID:       roomID,
		Participants: participants,
		CurrentState: currentState,
	}, nil
}
