package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/couchsync/couchsync/internal/service/room"
	"github.com/couchsync/couchsync/pkg/ctxlogger"
	"github.com/couchsync/couchsync/pkg/protocol"
	"github.com/couchsync/couchsync/pkg/rest"
	"github.com/couchsync/couchsync/pkg/wsrouter"
)

// serveWS authenticates the connect token, upgrades and pumps messages until
// the connection drops. Teardown of the participant happens here so a
// transport failure and an explicit leave converge on the same path.
func (c controller) serveWS(w http.ResponseWriter, r *http.Request) {
	authToken := r.URL.Query().Get("auth-token")
	if authToken == "" {
		rest.WriteJSON(w, http.StatusUnauthorized, rest.Envelope{"error": "auth-token is required"})
		return
	}

	claims, err := c.roomService.ParseToken(authToken)
	if err != nil {
		c.logger.DebugContext(r.Context(), "failed to parse token", "error", err)
		rest.WriteJSON(w, http.StatusUnauthorized, rest.Envelope{"error": "invalid auth token"})
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade to websocket", "error", err)
		return
	}

	ctx := context.WithValue(r.Context(), claimsCtxKey, claims)
	ctx = ctxlogger.AppendCtx(ctx, slog.String("user_id", claims.UserID))
	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_id", claims.RoomID))

	if err := c.wsmux.ServeConn(ctx, conn); err != nil {
		c.logger.DebugContext(ctx, "connection closed", "error", err)
	}

	// the read loop is gone; the participant may already be removed if the
	// client sent leaveRoom first
	if _, err := c.roomService.DisconnectConn(context.WithoutCancel(ctx), conn, claims.RoomID); err != nil {
		c.logger.WarnContext(ctx, "failed to disconnect", "error", err)
	}
}

func (c controller) handleJoinRoom(ctx context.Context, conn *websocket.Conn, payload protocol.JoinRoomPayload) error {
	if validationErrors, ok := c.validate.Validate(payload); !ok {
		c.writeError(ctx, conn, protocol.CodeInvalidData, validationErrors[0].Message)
		return fmt.Errorf("validation failed: %s", validationErrors[0].Message)
	}

	claims := c.getClaimsFromCtx(ctx)
	if payload.RoomID != claims.RoomID || payload.Role != claims.Role {
		c.writeError(ctx, conn, protocol.CodeUnauthorized, "token does not match the requested room")
		return room.ErrUnauthorized
	}

	joinRoomResp, err := c.roomService.JoinRoom(ctx, &room.JoinRoomParams{
		Conn:            conn,
		UserID:          claims.UserID,
		RoomID:          payload.RoomID,
		Role:            payload.Role,
		FileFingerprint: payload.FileFingerprint,
	})
	if err != nil {
		c.writeServiceError(ctx, conn, err)
		return fmt.Errorf("failed to join room: %w", err)
	}

	return c.sender.Send(conn, protocol.EventJoined, joinRoomResp.Joined)
}

func (c controller) handleLeaveRoom(ctx context.Context, conn *websocket.Conn, payload protocol.LeaveRoomPayload) error {
	claims := c.getClaimsFromCtx(ctx)

	if _, err := c.roomService.RemoveParticipant(ctx, &room.RemoveParticipantParams{
		UserID: claims.UserID,
		RoomID: claims.RoomID,
	}); err != nil {
		c.writeServiceError(ctx, conn, err)
		return fmt.Errorf("failed to leave room: %w", err)
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		c.clock.Now().Add(5*time.Second))

	return nil
}

func (c controller) handleRequestRoomState(ctx context.Context, conn *websocket.Conn, payload protocol.RequestRoomStatePayload) error {
	claims := c.getClaimsFromCtx(ctx)

	roomState, err := c.roomService.RequestRoomState(ctx, claims.RoomID)
	if err != nil {
		c.writeServiceError(ctx, conn, err)
		return fmt.Errorf("failed to get room state: %w", err)
	}

	return c.sender.Send(conn, protocol.EventRoomState, roomState)
}

func (c controller) handleHostPlay(ctx context.Context, conn *websocket.Conn, payload protocol.PlayPayload) error {
	if validationErrors, ok := c.validate.Validate(payload); !ok {
		c.writeError(ctx, conn, protocol.CodeInvalidData, validationErrors[0].Message)
		return fmt.Errorf("validation failed: %s", validationErrors[0].Message)
	}

	claims := c.getClaimsFromCtx(ctx)

	if err := c.roomService.HostPlay(ctx, &room.HostPlayParams{
		SenderID:        claims.UserID,
		RoomID:          payload.RoomID,
		PositionSec:     payload.PositionSec,
		HostTimestampMs: payload.HostTimestampMs,
		PlaybackRate:    payload.PlaybackRate,
	}); err != nil {
		c.writeServiceError(ctx, conn, err)
		return fmt.Errorf("failed to handle play: %w", err)
	}

	return nil
}

func (c controller) handleHostPause(ctx context.Context, conn *websocket.Conn, payload protocol.PausePayload) error {
	if validationErrors, ok := c.validate.Validate(payload); !ok {
		c.writeError(ctx, conn, protocol.CodeInvalidData, validationErrors[0].Message)
		return fmt.Errorf("validation failed: %s", validationErrors[0].Message)
	}

	claims := c.getClaimsFromCtx(ctx)

	if err := c.roomService.HostPause(ctx, &room.HostPauseParams{
		SenderID:        claims.UserID,
		RoomID:          payload.RoomID,
		PositionSec:     payload.PositionSec,
		HostTimestampMs: payload.HostTimestampMs,
	}); err != nil {
		c.writeServiceError(ctx, conn, err)
		return fmt.Errorf("failed to handle pause: %w", err)
	}

	return nil
}

func (c controller) handleHostSeek(ctx context.Context, conn *websocket.Conn, payload protocol.SeekPayload) error {
	if validationErrors, ok := c.validate.Validate(payload); !ok {
		c.writeError(ctx, conn, protocol.CodeInvalidData, validationErrors[0].Message)
		return fmt.Errorf("validation failed: %s", validationErrors[0].Message)
	}

	claims := c.getClaimsFromCtx(ctx)

	if err := c.roomService.HostSeek(ctx, &room.HostSeekParams{
		SenderID:        claims.UserID,
		RoomID:          payload.RoomID,
		PositionSec:     payload.PositionSec,
		HostTimestampMs: payload.HostTimestampMs,
	}); err != nil {
		c.writeServiceError(ctx, conn, err)
		return fmt.Errorf("failed to handle seek: %w", err)
	}

	return nil
}

// handleHostTimeSync is the heartbeat path: best effort, never acked, and
// failures are dropped without an error frame so a throttled heartbeat does
// not trigger client-side error handling every second.
func (c controller) handleHostTimeSync(ctx context.Context, conn *websocket.Conn, payload protocol.TimeSyncPayload) error {
	if validationErrors, ok := c.validate.Validate(payload); !ok {
		return fmt.Errorf("validation failed: %s", validationErrors[0].Message)
	}

	claims := c.getClaimsFromCtx(ctx)

	if err := c.roomService.HostTimeSync(ctx, &room.HostTimeSyncParams{
		SenderID:        claims.UserID,
		RoomID:          payload.RoomID,
		PositionSec:     payload.PositionSec,
		HostTimestampMs: payload.HostTimestampMs,
		IsPlaying:       payload.IsPlaying,
	}); err != nil {
		return fmt.Errorf("failed to handle time sync: %w", err)
	}

	return nil
}

func (c controller) handleHostSpeedChange(ctx context.Context, conn *websocket.Conn, payload protocol.SpeedChangePayload) error {
	if validationErrors, ok := c.validate.Validate(payload); !ok {
		c.writeError(ctx, conn, protocol.CodeInvalidData, validationErrors[0].Message)
		return fmt.Errorf("validation failed: %s", validationErrors[0].Message)
	}

	claims := c.getClaimsFromCtx(ctx)

	if err := c.roomService.HostSpeedChange(ctx, &room.HostSpeedChangeParams{
		SenderID:        claims.UserID,
		RoomID:          payload.RoomID,
		PlaybackRate:    payload.PlaybackRate,
		HostTimestampMs: payload.HostTimestampMs,
	}); err != nil {
		c.writeServiceError(ctx, conn, err)
		return fmt.Errorf("failed to handle speed change: %w", err)
	}

	return nil
}

func (c controller) handlePing(ctx context.Context, conn *websocket.Conn, payload protocol.PingPayload) error {
	if validationErrors, ok := c.validate.Validate(payload); !ok {
		return fmt.Errorf("validation failed: %s", validationErrors[0].Message)
	}

	return c.sender.Send(conn, protocol.EventPong, protocol.PongPayload{
		Nonce:    payload.Nonce,
		ClientTs: payload.Ts,
		ServerTs: c.clock.Now().UnixMilli(),
	})
}

// handleReaction relays without an error frame on rate limit; a dropped
// emoji is not worth surfacing.
func (c controller) handleReaction(ctx context.Context, conn *websocket.Conn, payload protocol.ReactionPayload) error {
	if validationErrors, ok := c.validate.Validate(payload); !ok {
		return fmt.Errorf("validation failed: %s", validationErrors[0].Message)
	}

	claims := c.getClaimsFromCtx(ctx)

	if err := c.roomService.RelayReaction(ctx, &room.RelayReactionParams{
		SenderID: claims.UserID,
		RoomID:   payload.RoomID,
		Type:     payload.Type,
	}); err != nil {
		return fmt.Errorf("failed to relay reaction: %w", err)
	}

	return nil
}

func (c controller) handleChatMessage(ctx context.Context, conn *websocket.Conn, payload protocol.ChatMessagePayload) error {
	if validationErrors, ok := c.validate.Validate(payload); !ok {
		c.writeError(ctx, conn, protocol.CodeInvalidData, validationErrors[0].Message)
		return fmt.Errorf("validation failed: %s", validationErrors[0].Message)
	}

	claims := c.getClaimsFromCtx(ctx)

	if err := c.roomService.RelayChatMessage(ctx, &room.RelayChatMessageParams{
		SenderID: claims.UserID,
		RoomID:   payload.RoomID,
		Text:     payload.Text,
	}); err != nil {
		if errors.Is(err, room.ErrRateLimited) {
			return fmt.Errorf("failed to relay chat message: %w", err)
		}
		c.writeServiceError(ctx, conn, err)
		return fmt.Errorf("failed to relay chat message: %w", err)
	}

	return nil
}

func (c controller) handleUnknown(ctx context.Context, conn *websocket.Conn, messageType string) error {
	c.writeError(ctx, conn, protocol.CodeInvalidData, fmt.Sprintf("unknown message type: %s", messageType))
	return nil
}

func (c controller) handleMalformed(ctx context.Context, conn *websocket.Conn, cause error) error {
	c.logger.DebugContext(ctx, "malformed payload", "error", cause)
	c.writeError(ctx, conn, protocol.CodeInvalidData,
		fmt.Sprintf("malformed payload for %s", wsrouter.GetMessageTypeFromCtx(ctx)))
	return nil
}
