package protocol

// Error codes carried in ErrorPayload.Code.
const (
	CodeRoomNotFound  = "ROOM_NOT_FOUND"
	CodeFileMismatch  = "FILE_MISMATCH"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeRateLimit     = "RATE_LIMIT"
	CodeInvalidData   = "INVALID_DATA"
	CodeRoomFull      = "ROOM_FULL"
	CodeInternalError = "INTERNAL_ERROR"
)
