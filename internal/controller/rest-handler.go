package controller

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/couchsync/couchsync/internal/service/room"
	"github.com/couchsync/couchsync/pkg/rest"
)

type createRoomRequest struct {
	FileFingerprint string `json:"file_fingerprint" validate:"required,max=128"`
	FileSize        int64  `json:"file_size" validate:"required,gt=0"`
	DurationMs      int64  `json:"duration_ms" validate:"gte=0"`
	Codec           string `json:"codec" validate:"max=64"`
}

type createRoomResponse struct {
	RoomID    string `json:"room_id"`
	ShareURL  string `json:"share_url"`
	UserID    string `json:"user_id"`
	AuthToken string `json:"auth_token"`
}

func (c controller) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest

	if err := rest.ReadJSON(r, &req); err != nil {
		c.logger.DebugContext(r.Context(), "failed to read json", "error", err)
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		c.logger.DebugContext(r.Context(), "validation failed", "errors", validationErrors)
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	createRoomResp, err := c.roomService.CreateRoom(r.Context(), &room.CreateRoomParams{
		FileFingerprint: req.FileFingerprint,
		FileSize:        req.FileSize,
		DurationMs:      req.DurationMs,
		Codec:           req.Codec,
	})
	if err != nil {
		c.logger.ErrorContext(r.Context(), "failed to create room", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal error"})
		return
	}

	rest.WriteJSON(w, http.StatusCreated, rest.Envelope{"data": createRoomResponse{
		RoomID:    createRoomResp.RoomID,
		ShareURL:  createRoomResp.ShareURL,
		UserID:    createRoomResp.UserID,
		AuthToken: createRoomResp.AuthToken,
	}})
}

type resolveRoomRequest struct {
	FileFingerprint string `json:"file_fingerprint" validate:"required,max=128"`
}

type resolveRoomResponse struct {
	HostFileFingerprint string `json:"host_file_fingerprint"`
	HostFileSize        int64  `json:"host_file_size"`
	HostFileDurationMs  int64  `json:"host_file_duration_ms"`
	FingerprintMatches  bool   `json:"fingerprint_matches"`
	UserID              string `json:"user_id,omitempty"`
	AuthToken           string `json:"auth_token,omitempty"`
}

// resolveRoom compares the caller's local file against the host's and hands
// out a follower connect token only on a match. A mismatch is a definitive
// rejection, not a degraded join.
func (c controller) resolveRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room-id")
	if roomID == "" {
		rest.WriteJSON(w, http.StatusNotFound, rest.Envelope{"error": "room not found"})
		return
	}

	var req resolveRoomRequest

	if err := rest.ReadJSON(r, &req); err != nil {
		c.logger.DebugContext(r.Context(), "failed to read json", "error", err)
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		c.logger.DebugContext(r.Context(), "validation failed", "errors", validationErrors)
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	resolveRoomResp, err := c.roomService.ResolveRoom(r.Context(), &room.ResolveRoomParams{
		RoomID:          roomID,
		FileFingerprint: req.FileFingerprint,
	})
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			rest.WriteJSON(w, http.StatusNotFound, rest.Envelope{"error": "room not found"})
			return
		}
		c.logger.ErrorContext(r.Context(), "failed to resolve room", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal error"})
		return
	}

	status := http.StatusOK
	if !resolveRoomResp.FingerprintMatches {
		status = http.StatusConflict
	}

	rest.WriteJSON(w, status, rest.Envelope{"data": resolveRoomResponse{
		HostFileFingerprint: resolveRoomResp.HostFileFingerprint,
		HostFileSize:        resolveRoomResp.HostFileSize,
		HostFileDurationMs:  resolveRoomResp.HostFileDurationMs,
		FingerprintMatches:  resolveRoomResp.FingerprintMatches,
		UserID:              resolveRoomResp.UserID,
		AuthToken:           resolveRoomResp.AuthToken,
	}})
}
