package room

import (
	"context"
	"fmt"

	repository "github.com/couchsync/couchsync/internal/repository/room"
	"github.com/couchsync/couchsync/pkg/protocol"
)

func (s *service) armGraceTimer(roomID string) {
	s.graceMu.Lock()
	defer s.graceMu.Unlock()

	if _, ok := s.graceTimers[roomID]; ok {
		return
	}

	s.graceTimers[roomID] = s.clock.AfterFunc(s.gracePeriod, func() {
		s.onGraceExpired(roomID)
	})
}

// cancelGraceTimer reports whether a timer was pending, i.e. whether the
// room was inside a host grace period.
func (s *service) cancelGraceTimer(roomID string) bool {
	s.graceMu.Lock()
	defer s.graceMu.Unlock()

	timer, ok := s.graceTimers[roomID]
	if !ok {
		return false
	}

	timer.Stop()
	delete(s.graceTimers, roomID)

	return true
}

// onGraceExpired promotes the earliest-joined remaining participant to host.
// The timer may race a host rejoin that grabbed the room lock first, so the
// host's presence is re-checked under the lock before any role changes.
func (s *service) onGraceExpired(roomID string) {
	ctx := context.Background()

	s.graceMu.Lock()
	delete(s.graceTimers, roomID)
	s.graceMu.Unlock()

	unlock := s.locks.lock(roomID)
	defer unlock()

	roomValue, err := s.roomRepo.GetRoom(ctx, roomID)
	if err != nil {
		return
	}

	if _, err := s.roomRepo.GetParticipant(ctx, &repository.GetParticipantParams{
		RoomID: roomID,
		UserID: roomValue.HostUserID,
	}); err == nil {
		return
	}

	userIDs, err := s.roomRepo.GetParticipantIDs(ctx, roomID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to get participant ids on grace expiry", "room_id", roomID, "error", err)
		return
	}
	if len(userIDs) == 0 {
		_ = s.roomRepo.RemoveRoom(ctx, roomID)
		return
	}

	newHostUserID := userIDs[0]
	if err := s.transferHost(ctx, roomID, newHostUserID, "grace period expired"); err != nil {
		s.logger.WarnContext(ctx, "failed to transfer host", "room_id", roomID, "error", err)
	}
}

// transferHost flips the room's registered host and the participant role in
// one locked section, preserving the at-most-one-host invariant. Caller
// holds the room lock.
func (s *service) transferHost(ctx context.Context, roomID, newHostUserID, reason string) error {
	if err := s.roomRepo.UpdateParticipantRole(ctx, &repository.UpdateParticipantRoleParams{
		RoomID: roomID,
		UserID: newHostUserID,
		Role:   string(protocol.RoleHost),
	}); err != nil {
		return fmt.Errorf("failed to update participant role: %w", err)
	}

	if err := s.roomRepo.UpdateRoomHost(ctx, &repository.UpdateRoomHostParams{
		RoomID:     roomID,
		HostUserID: newHostUserID,
	}); err != nil {
		return fmt.Errorf("failed to update room host: %w", err)
	}

	conns, err := s.getConnsByRoomID(ctx, roomID, "")
	if err != nil {
		return err
	}

	s.sender.Broadcast(conns, protocol.EventHostTransferred, &protocol.HostTransferredPayload{
		NewHostUserID: newHostUserID,
		Reason:        reason,
	})

	s.logger.InfoContext(ctx, "host transferred", "room_id", roomID, "new_host_user_id", newHostUserID, "reason", reason)

	return nil
}
