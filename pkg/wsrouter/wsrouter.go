package wsrouter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// HandlerFunc handles one inbound message with an already-decoded payload.
type HandlerFunc[T any] func(ctx context.Context, conn *websocket.Conn, payload T) error

type Middleware func(next HandlerFunc[any]) HandlerFunc[any]

type WSRouter struct {
	routes      map[string]HandlerFunc[json.RawMessage]
	middlewares []Middleware
}

func New() *WSRouter {
	return &WSRouter{routes: make(map[string]HandlerFunc[json.RawMessage])}
}

func (r *WSRouter) Use(mw ...Middleware) {
	r.middlewares = append(r.middlewares, mw...)
}

// Handle registers a typed handler for a message type. The raw payload is
// unmarshalled into T before the middleware chain runs.
func Handle[T any](r *WSRouter, messageType string, handler HandlerFunc[T]) {
	r.routes[messageType] = func(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
		var input T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &input); err != nil {
				return fmt.Errorf("failed to unmarshal %s payload: %w", messageType, err)
			}
		}

		wrapped := HandlerFunc[any](func(ctx context.Context, conn *websocket.Conn, payload any) error {
			return handler(ctx, conn, payload.(T))
		})
		for i := len(r.middlewares) - 1; i >= 0; i-- {
			wrapped = r.middlewares[i](wrapped)
		}

		return wrapped(withMessageType(ctx, messageType), conn, input)
	}
}

// ServeConn reads messages until the connection fails and dispatches each to
// its registered handler. Handler errors are reported to onError and do not
// terminate the loop; the read error that ends the loop is returned.
func (r *WSRouter) ServeConn(ctx context.Context, conn *websocket.Conn, onError func(ctx context.Context, conn *websocket.Conn, err error)) error {
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		handler, ok := r.routes[msg.Type]
		if !ok {
			if onError != nil {
				onError(ctx, conn, fmt.Errorf("unknown message type: %s", msg.Type))
			}
			continue
		}

		if err := handler(ctx, conn, msg.Payload); err != nil && onError != nil {
			onError(ctx, conn, err)
		}
	}
}
