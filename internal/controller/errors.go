package controller

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"

	"github.com/couchsync/couchsync/internal/service/room"
	"github.com/couchsync/couchsync/pkg/protocol"
)

// mapServiceError converts a service sentinel into the wire error code sent
// back to the offending client.
func mapServiceError(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return protocol.CodeRoomNotFound
	case errors.Is(err, room.ErrFileMismatch):
		return protocol.CodeFileMismatch
	case errors.Is(err, room.ErrUnauthorized), errors.Is(err, room.ErrParticipantNotFound):
		return protocol.CodeUnauthorized
	case errors.Is(err, room.ErrRateLimited):
		return protocol.CodeRateLimit
	case errors.Is(err, room.ErrRoomFull):
		return protocol.CodeRoomFull
	default:
		return protocol.CodeInternalError
	}
}

func errorMessage(code string) string {
	switch code {
	case protocol.CodeRoomNotFound:
		return "room not found"
	case protocol.CodeFileMismatch:
		return "file fingerprint does not match the host's file"
	case protocol.CodeUnauthorized:
		return "not allowed"
	case protocol.CodeRateLimit:
		return "too many events, slow down"
	case protocol.CodeRoomFull:
		return "room is full"
	case protocol.CodeInvalidData:
		return "invalid payload"
	default:
		return "internal error"
	}
}

func (c controller) writeError(ctx context.Context, conn *websocket.Conn, code, message string) {
	if message == "" {
		message = errorMessage(code)
	}

	if err := c.sender.Send(conn, protocol.EventError, protocol.ErrorPayload{
		Code:    code,
		Message: message,
	}); err != nil {
		c.logger.DebugContext(ctx, "failed to write error frame", "error", err)
	}
}

func (c controller) writeServiceError(ctx context.Context, conn *websocket.Conn, err error) {
	c.writeError(ctx, conn, mapServiceError(err), "")
}
