package room

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrPlayerNotFound      = errors.New("player not found")
	ErrParticipantNotFound = errors.New("participant not found")
)
