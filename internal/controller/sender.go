package controller

import (
	"context"
	"sync"
	"time"

	"github.com/couchsync/server/internal/domain"
	"github.com/couchsync/server/internal/service/room"
	"github.com/gorilla/websocket"
)

type Output struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (c *controller) connLock(conn *websocket.Conn) *sync.Mutex {
	lock, _ := c.writeLocks.LoadOrStore(conn, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (c *controller) writeToConn(ctx context.Context, conn *websocket.Conn, output *Output) error {
	lock := c.connLock(conn)
	lock.Lock()
	defer lock.Unlock()

	return conn.WriteJSON(output)
}

func (c *controller) broadcast(ctx context.Context, conns []*websocket.Conn, output *Output) error {
	for _, conn := range conns {
		if err := c.writeToConn(ctx, conn, output); err != nil {
			c.logger.WarnContext(ctx, "failed to write to conn", "error", err)
		}
	}

	return nil
}

func (c *controller) broadcastSyncState(ctx context.Context, conns []*websocket.Conn, state *domain.Room) error {
	return c.broadcast(ctx, conns, &Output{
		Type:    "sync_state",
		Payload: state,
	})
}

func (c *controller) broadcastPlayerAction(ctx context.Context, conns []*websocket.Conn, action *room.PlayerAction) error {
	return c.broadcast(ctx, conns, &Output{
		Type:    "player_action",
		Payload: action,
	})
}

func (c *controller) broadcastRoomUsers(ctx context.Context, conns []*websocket.Conn, members []domain.Member) error {
	return c.broadcast(ctx, conns, &Output{
		Type: "room_users",
		Payload: map[string]any{
			"users": members,
		},
	})
}

func (c *controller) broadcastRoomBuffering(ctx context.Context, conns []*websocket.Conn, isBuffering bool) error {
	return c.broadcast(ctx, conns, &Output{
		Type: "room_buffering",
		Payload: map[string]any{
			"isBuffering": isBuffering,
		},
	})
}

func (c *controller) writeRoomError(ctx context.Context, conn *websocket.Conn, message string) error {
	return c.writeToConn(ctx, conn, &Output{
		Type: "room_error",
		Payload: map[string]any{
			"message": message,
		},
	})
}

func (c *controller) closeConn(conn *websocket.Conn) {
	lock := c.connLock(conn)
	lock.Lock()
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(5*time.Second))
	lock.Unlock()

	conn.Close()
	c.writeLocks.Delete(conn)
}
