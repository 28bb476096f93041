package wsrouter

import (
	"context"
	"errors"
)

var ErrMalformedPayload = errors.New("malformed payload")

type ctxKey int

const messageTypeKey ctxKey = iota

// GetMessageTypeFromCtx returns the envelope type of the message currently
// being handled. Only valid inside a handler or middleware.
func GetMessageTypeFromCtx(ctx context.Context) string {
	messageType, _ := ctx.Value(messageTypeKey).(string)
	return messageType
}
