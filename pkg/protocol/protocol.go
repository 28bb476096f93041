// Package protocol defines the wire format shared by the server and the
// client SDK: one envelope per websocket frame, a typed payload per event
// name, and the error codes surfaced to clients.
package protocol

import "encoding/json"

// Envelope is the frame every websocket message travels in.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Role of a participant inside a room.
type Role string

const (
	RoleHost     Role = "host"
	RoleFollower Role = "follower"
)

// PlaybackState is the canonical player state owned by the room authority.
// LastUpdateMs is the host's wall clock at the moment PositionSec was true;
// receivers must never assume it equals their own "now".
type PlaybackState struct {
	IsPlaying    bool    `json:"is_playing"`
	PositionSec  float64 `json:"position_sec"`
	PlaybackRate float64 `json:"playback_rate"`
	LastUpdateMs int64   `json:"last_update_ms"`
}

type Participant struct {
	UserID     string `json:"user_id"`
	Role       Role   `json:"role"`
	JoinedAtMs int64  `json:"joined_at_ms"`
}
