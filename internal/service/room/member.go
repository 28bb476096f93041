package room

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	repository "github.com/couchsync/couchsync/internal/repository/room"
	"github.com/couchsync/couchsync/pkg/protocol"
)

type JoinRoomParams struct {
	Conn            *websocket.Conn
	UserID          string
	RoomID          string
	Role            protocol.Role
	FileFingerprint string
}

type JoinRoomResponse struct {
	Joined          protocol.JoinedPayload
	HostReconnected bool
}

// JoinRoom admits a participant. A follower whose fingerprint differs from
// the host's is rejected outright: partial sync against a different file is
// worse than no sync. A host rejoining within the grace period cancels the
// pending transfer and the room is told the host is back.
func (s *service) JoinRoom(ctx context.Context, params *JoinRoomParams) (JoinRoomResponse, error) {
	unlock := s.locks.lock(params.RoomID)
	defer unlock()

	roomValue, err := s.roomRepo.GetRoom(ctx, params.RoomID)
	if err != nil {
		if err == repository.ErrRoomNotFound {
			return JoinRoomResponse{}, ErrRoomNotFound
		}
		return JoinRoomResponse{}, fmt.Errorf("failed to get room: %w", err)
	}

	hostReconnected := false
	switch params.Role {
	case protocol.RoleHost:
		if roomValue.HostUserID != params.UserID {
			return JoinRoomResponse{}, ErrUnauthorized
		}
		hostReconnected = s.cancelGraceTimer(params.RoomID)
	default:
		if roomValue.FileFingerprint != params.FileFingerprint {
			return JoinRoomResponse{}, ErrFileMismatch
		}

		userIDs, err := s.roomRepo.GetParticipantIDs(ctx, params.RoomID)
		if err != nil {
			return JoinRoomResponse{}, fmt.Errorf("failed to get participant ids: %w", err)
		}
		if s.membersLimit > 0 && len(userIDs) >= s.membersLimit {
			return JoinRoomResponse{}, ErrRoomFull
		}
	}

	if err := s.roomRepo.AddParticipant(ctx, &repository.AddParticipantParams{
		RoomID:     params.RoomID,
		UserID:     params.UserID,
		Role:       string(params.Role),
		JoinedAtMs: s.nowMs(),
	}); err != nil {
		return JoinRoomResponse{}, fmt.Errorf("failed to add participant: %w", err)
	}

	if err := s.connRepo.Add(params.Conn, params.UserID); err != nil {
		return JoinRoomResponse{}, fmt.Errorf("failed to add connection: %w", err)
	}

	if hostReconnected {
		conns, err := s.getConnsByRoomID(ctx, params.RoomID, params.UserID)
		if err == nil {
			s.sender.Broadcast(conns, protocol.EventHostReconnected, nil)
		}
	}

	participants, err := s.getParticipantList(ctx, params.RoomID)
	if err != nil {
		return JoinRoomResponse{}, err
	}

	currentState, err := s.getPlaybackState(ctx, params.RoomID)
	if err != nil {
		return JoinRoomResponse{}, err
	}

	return JoinRoomResponse{
		Joined: protocol.JoinedPayload{
			RoomID:       params.RoomID,
			Participants: participants,
			CurrentState: currentState,
		},
		HostReconnected: hostReconnected,
	}, nil
}

type RemoveParticipantParams struct {
	UserID string
	RoomID string
}

type RemoveParticipantResponse struct {
	IsRoomDeleted bool
	HostLeft      bool
}

// RemoveParticipant handles both explicit leaves and transport disconnects;
// the room-level consequences are identical. A departing host arms the
// grace timer, an empty room is deleted on the spot.
func (s *service) RemoveParticipant(ctx context.Context, params *RemoveParticipantParams) (RemoveParticipantResponse, error) {
	unlock := s.locks.lock(params.RoomID)
	defer unlock()

	if _, err := s.roomRepo.GetParticipant(ctx, &repository.GetParticipantParams{
		RoomID: params.RoomID,
		UserID: params.UserID,
	}); err != nil {
		if err == repository.ErrParticipantNotFound {
			return RemoveParticipantResponse{}, ErrParticipantNotFound
		}
		return RemoveParticipantResponse{}, fmt.Errorf("failed to get participant: %w", err)
	}

	roomValue, err := s.roomRepo.GetRoom(ctx, params.RoomID)
	if err != nil {
		if err == repository.ErrRoomNotFound {
			return RemoveParticipantResponse{}, ErrRoomNotFound
		}
		return RemoveParticipantResponse{}, fmt.Errorf("failed to get room: %w", err)
	}

	if err := s.roomRepo.RemoveParticipant(ctx, &repository.RemoveParticipantParams{
		RoomID: params.RoomID,
		UserID: params.UserID,
	}); err != nil {
		return RemoveParticipantResponse{}, fmt.Errorf("failed to remove participant: %w", err)
	}

	if conn, err := s.connRepo.GetConn(params.UserID); err == nil {
		s.sender.Forget(conn)
	}
	_ = s.connRepo.RemoveByUserID(params.UserID)
	s.limiter.forget(params.UserID)

	userIDs, err := s.roomRepo.GetParticipantIDs(ctx, params.RoomID)
	if err != nil {
		return RemoveParticipantResponse{}, fmt.Errorf("failed to get participant ids: %w", err)
	}

	if len(userIDs) == 0 {
		s.cancelGraceTimer(params.RoomID)
		if err := s.roomRepo.RemoveRoom(ctx, params.RoomID); err != nil {
			return RemoveParticipantResponse{}, fmt.Errorf("failed to remove room: %w", err)
		}

		return RemoveParticipantResponse{IsRoomDeleted: true}, nil
	}

	participants, err := s.getParticipantList(ctx, params.RoomID)
	if err != nil {
		return RemoveParticipantResponse{}, err
	}

	conns, err := s.getConnsByRoomID(ctx, params.RoomID, "")
	if err != nil {
		return RemoveParticipantResponse{}, err
	}

	s.sender.Broadcast(conns, protocol.EventParticipantLeft, &protocol.ParticipantLeftPayload{
		UserID:       params.UserID,
		Participants: participants,
	})

	hostLeft := roomValue.HostUserID == params.UserID
	if hostLeft {
		s.sender.Broadcast(conns, protocol.EventHostDisconnected, &protocol.HostDisconnectedPayload{
			Message:       "host disconnected, waiting for reconnect",
			GracePeriodMs: s.gracePeriod.Milliseconds(),
		})
		s.armGraceTimer(params.RoomID)
	}

	return RemoveParticipantResponse{HostLeft: hostLeft}, nil
}

// DisconnectConn resolves a dropped connection back to its participant.
// Connections that never joined a room have nothing to clean up.
func (s *service) DisconnectConn(ctx context.Context, conn *websocket.Conn, roomID string) (RemoveParticipantResponse, error) {
	userID, err := s.connRepo.GetUserID(conn)
	if err != nil {
		s.sender.Forget(conn)
		return RemoveParticipantResponse{}, nil
	}

	return s.RemoveParticipant(ctx, &RemoveParticipantParams{
		UserID: userID,
		RoomID: roomID,
	})
}
