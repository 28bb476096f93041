// Package wsrouter routes typed websocket messages. Every frame is an
// envelope {type, payload}; handlers are registered per type and receive the
// payload already unmarshalled into their input struct.
package wsrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type HandlerFunc[T any] func(ctx context.Context, conn *websocket.Conn, payload T) error

type Middleware func(next HandlerFunc[any]) HandlerFunc[any]

type WSRouter struct {
	routes      map[string]HandlerFunc[json.RawMessage]
	middlewares []Middleware
	unknown     HandlerFunc[string]
	malformed   HandlerFunc[error]
}

func New() *WSRouter {
	return &WSRouter{routes: make(map[string]HandlerFunc[json.RawMessage])}
}

// Use appends a middleware to the chain. Middlewares wrap every handler,
// including ones registered before the Use call.
func (r *WSRouter) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

// HandleUnknown sets the handler invoked for message types with no route.
func (r *WSRouter) HandleUnknown(handler HandlerFunc[string]) {
	r.unknown = handler
}

// HandleMalformed sets the handler invoked when a routed message's payload
// fails to unmarshal. The message type is available on the context.
func (r *WSRouter) HandleMalformed(handler HandlerFunc[error]) {
	r.malformed = handler
}

// Handle registers a typed handler for messageType. The raw payload is
// unmarshalled into T before the middleware chain runs; a malformed payload
// is reported as an error from the chain without invoking the handler.
func Handle[T any](r *WSRouter, messageType string, handler HandlerFunc[T]) {
	r.routes[messageType] = func(ctx context.Context, conn *websocket.Conn, raw json.RawMessage) error {
		var payload T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("%w: %s", ErrMalformedPayload, err)
			}
		}

		wrapped := func(ctx context.Context, conn *websocket.Conn, p any) error {
			return handler(ctx, conn, p.(T))
		}
		for i := len(r.middlewares) - 1; i >= 0; i-- {
			wrapped = r.middlewares[i](wrapped)
		}

		return wrapped(ctx, conn, payload)
	}
}

// ServeConn reads frames until the connection fails or ctx is done. Handler
// errors do not terminate the connection; they are surfaced to the handlers
// themselves (which write error frames) and to the logging middleware. An
// undecodable payload goes to the malformed handler so the sender hears
// back instead of being silently dropped.
func (r *WSRouter) ServeConn(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		handler, ok := r.routes[msg.Type]
		if !ok {
			if r.unknown != nil {
				_ = r.unknown(ctx, conn, msg.Type)
			}
			continue
		}

		hctx := context.WithValue(ctx, messageTypeKey, msg.Type)
		if err := handler(hctx, conn, msg.Payload); errors.Is(err, ErrMalformedPayload) && r.malformed != nil {
			_ = r.malformed(hctx, conn, err)
		}
	}
}
