package room

type Room struct {
	HostUserID      string `redis:"host_user_id"`
	FileFingerprint string `redis:"file_fingerprint"`
	FileSize        int64  `redis:"file_size"`
	DurationMs      int64  `redis:"duration_ms"`
	Codec           string `redis:"codec"`
	CreatedAtMs     int64  `redis:"created_at_ms"`
}

type Player struct {
	IsPlaying    bool    `redis:"is_playing"`
	PositionSec  float64 `redis:"position_sec"`
	PlaybackRate float64 `redis:"playback_rate"`
	LastUpdateMs int64   `redis:"last_update_ms"`
}

type Participant struct {
	UserID     string `redis:"user_id"`
	Role       string `redis:"role"`
	JoinedAtMs int64  `redis:"joined_at_ms"`
}
