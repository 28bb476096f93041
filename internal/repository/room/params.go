package room

type SetRoomParams struct {
	RoomID          string
	HostUserID      string
	FileFingerprint string
	FileSize        int64
	DurationMs      int64
	Codec           string
	CreatedAtMs     int64
}

type SetPlayerParams struct {
	RoomID       string
	IsPlaying    bool
	PositionSec  float64
	PlaybackRate float64
	LastUpdateMs int64
}

type UpdatePlayerStateParams struct {
	RoomID       string
	IsPlaying    bool
	PositionSec  float64
	PlaybackRate float64
	LastUpdateMs int64
}

type UpdatePlayerRateParams struct {
	RoomID       string
	PlaybackRate float64
}

type AddParticipantParams struct {
	RoomID     string
	UserID     string
	Role       string
	JoinedAtMs int64
}

type RemoveParticipantParams struct {
	RoomID string
	UserID string
}

type GetParticipantParams struct {
	RoomID string
	UserID string
}

type UpdateParticipantRoleParams struct {
	RoomID string
	UserID string
	Role   string
}

type UpdateRoomHostParams struct {
	RoomID     string
	HostUserID string
}
