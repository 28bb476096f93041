package protocol

// Event names carried in Envelope.Type.
const (
	// client -> server
	EventJoinRoom         = "joinRoom"
	EventLeaveRoom        = "leaveRoom"
	EventRequestRoomState = "requestRoomState"

	// client -> server -> relay (host-originated playback control)
	EventHostPlay        = "hostPlay"
	EventHostPause       = "hostPause"
	EventHostSeek        = "hostSeek"
	EventHostTimeSync    = "hostTimeSync"
	EventHostSpeedChange = "hostSpeedChange"

	// client -> server -> broadcast (sender echo included)
	EventReaction    = "reaction"
	EventChatMessage = "chatMessage"

	// bidirectional clock probe
	EventPing = "ping"
	EventPong = "pong"

	// server -> client
	EventJoined           = "joined"
	EventRoomState        = "roomState"
	EventParticipantLeft  = "participantLeft"
	EventHostDisconnected = "hostDisconnected"
	EventHostReconnected  = "hostReconnected"
	EventHostTransferred  = "hostTransferred"
	EventError            = "error"
)

type JoinRoomPayload struct {
	RoomID          string `json:"room_id" validate:"required"`
	Role            Role   `json:"role" validate:"required,oneof=host follower"`
	FileFingerprint string `json:"file_fingerprint" validate:"required,max=128"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"room_id" validate:"required"`
}

type RequestRoomStatePayload struct {
	RoomID string `json:"room_id" validate:"required"`
}

type PlayPayload struct {
	RoomID          string  `json:"room_id" validate:"required"`
	PositionSec     float64 `json:"position_sec" validate:"gte=0"`
	HostTimestampMs int64   `json:"host_timestamp_ms" validate:"required,gt=0"`
	PlaybackRate    float64 `json:"playback_rate" validate:"gt=0,lte=4"`
}

type PausePayload struct {
	RoomID          string  `json:"room_id" validate:"required"`
	PositionSec     float64 `json:"position_sec" validate:"gte=0"`
	HostTimestampMs int64   `json:"host_timestamp_ms" validate:"required,gt=0"`
}

type SeekPayload struct {
	RoomID          string  `json:"room_id" validate:"required"`
	PositionSec     float64 `json:"position_sec" validate:"gte=0"`
	HostTimestampMs int64   `json:"host_timestamp_ms" validate:"required,gt=0"`
}

// TimeSyncPayload is the periodic heartbeat. Best effort: never acked,
// silently dropped on rate-limit or authorization failure.
type TimeSyncPayload struct {
	RoomID          string  `json:"room_id" validate:"required"`
	PositionSec     float64 `json:"position_sec" validate:"gte=0"`
	HostTimestampMs int64   `json:"host_timestamp_ms" validate:"required,gt=0"`
	IsPlaying       bool    `json:"is_playing"`
}

type SpeedChangePayload struct {
	RoomID          string  `json:"room_id" validate:"required"`
	PlaybackRate    float64 `json:"playback_rate" validate:"gt=0,lte=4"`
	HostTimestampMs int64   `json:"host_timestamp_ms" validate:"required,gt=0"`
}

type PingPayload struct {
	Nonce string `json:"nonce" validate:"required"`
	Ts    int64  `json:"ts" validate:"required,gt=0"`
}

type PongPayload struct {
	Nonce    string `json:"nonce"`
	ClientTs int64  `json:"client_ts"`
	ServerTs int64  `json:"server_ts"`
}

type ReactionPayload struct {
	RoomID string `json:"room_id" validate:"required"`
	Type   string `json:"type" validate:"required,max=32"`
	UserID string `json:"user_id,omitempty"`
}

type ChatMessagePayload struct {
	RoomID string `json:"room_id" validate:"required"`
	Text   string `json:"text" validate:"required,max=500"`
	UserID string `json:"user_id,omitempty"`
}

type JoinedPayload struct {
	RoomID       string        `json:"room_id"`
	Participants []Participant `json:"participants"`
	CurrentState PlaybackState `json:"current_state"`
}

type RoomStatePayload struct {
	RoomID       string        `json:"room_id"`
	Participants []Participant `json:"participants"`
	CurrentState PlaybackState `json:"current_state"`
}

type ParticipantLeftPayload struct {
	UserID       string        `json:"user_id"`
	Participants []Participant `json:"participants"`
}

type HostDisconnectedPayload struct {
	Message       string `json:"message"`
	GracePeriodMs int64  `json:"grace_period_ms"`
}

type HostTransferredPayload struct {
	NewHostUserID string `json:"new_host_user_id"`
	Reason        string `json:"reason"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
