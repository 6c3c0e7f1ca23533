package controller

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/couchsync/server/internal/service/room"
	"github.com/couchsync/server/pkg/ctxlogger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func (c *controller) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade to websocket", "error", err)
		return
	}

	memberId := uuid.NewString()
	if err := c.roomService.ConnectMember(conn, memberId); err != nil {
		c.logger.WarnContext(r.Context(), "failed to connect member", "error", err)
		conn.Close()
		return
	}
	defer c.disconnect(r.Context(), conn, memberId)

	ctx := context.WithValue(r.Context(), memberIdCtxKey, memberId)
	ctx = ctxlogger.AppendCtx(ctx, slog.String("member_id", memberId))

	// handshake: the client needs its id before it can join a room
	if err := c.writeToConn(ctx, conn, &Output{
		Type: "connected",
		Payload: map[string]any{
			"id": memberId,
		},
	}); err != nil {
		c.logger.WarnContext(ctx, "failed to write connected message", "error", err)
		return
	}

	if err := c.wsmux.ServeConn(ctx, conn, c.onWSError); err != nil {
		c.logger.DebugContext(ctx, "connection closed", "error", err)
	}
}

func (c *controller) onWSError(ctx context.Context, conn *websocket.Conn, err error) {
	c.logger.WarnContext(ctx, "failed to handle websocket message", "error", err)

	if err := c.writeRoomError(ctx, conn, "failed to handle message"); err != nil {
		c.logger.WarnContext(ctx, "failed to write room error", "error", err)
	}
}

func (c *controller) disconnect(ctx context.Context, conn *websocket.Conn, memberId string) {
	if err := c.roomService.RemoveConn(conn); err != nil {
		c.logger.WarnContext(ctx, "failed to remove conn", "error", err)
	}

	disconnectResp, err := c.roomService.Disconnect(ctx, &room.DisconnectParams{MemberId: memberId})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to disconnect member", "member_id", memberId, "error", err)
	}

	for _, roomDisconnect := range disconnectResp.Rooms {
		if err := c.broadcastRoomUsers(ctx, roomDisconnect.Conns, roomDisconnect.MemberList); err != nil {
			c.logger.WarnContext(ctx, "failed to broadcast room users", "error", err)
		}
		if err := c.broadcastRoomBuffering(ctx, roomDisconnect.Conns, roomDisconnect.IsRoomBuffering); err != nil {
			c.logger.WarnContext(ctx, "failed to broadcast room buffering", "error", err)
		}
		if roomDisconnect.Resumed != nil {
			if err := c.broadcastPlayerAction(ctx, roomDisconnect.Conns, roomDisconnect.Resumed); err != nil {
				c.logger.WarnContext(ctx, "failed to broadcast player action", "error", err)
			}
		}
	}

	conn.Close()
	c.writeLocks.Delete(conn)
}
