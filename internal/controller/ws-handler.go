package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchsync/server/internal/service/room"
	"github.com/gorilla/websocket"
)

type EmptyInput struct{}

type JoinRoomInput struct {
	RoomId   string `json:"roomId"`
	Nickname string `json:"nickname"`
}

func (c *controller) handleJoinRoom(ctx context.Context, conn *websocket.Conn, input JoinRoomInput) error {
	memberId := c.getMemberIdFromCtx(ctx)

	joinRoomResp, err := c.roomService.JoinRoom(ctx, &room.JoinRoomParams{
		RoomId:   input.RoomId,
		Nickname: input.Nickname,
		MemberId: memberId,
	})
	if err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}

	// the joiner gets the snapshot directly, no broadcast round-trip
	if err := c.writeToConn(ctx, conn, &Output{
		Type:    "sync_state",
		Payload: joinRoomResp.Room,
	}); err != nil {
		return fmt.Errorf("failed to write sync state: %w", err)
	}

	if err := c.broadcastRoomUsers(ctx, joinRoomResp.Conns, joinRoomResp.MemberList); err != nil {
		return fmt.Errorf("failed to broadcast room users: %w", err)
	}
	if err := c.broadcastRoomBuffering(ctx, joinRoomResp.Conns, joinRoomResp.IsRoomBuffering); err != nil {
		return fmt.Errorf("failed to broadcast room buffering: %w", err)
	}

	return nil
}

func (c *controller) handleDisconnect(ctx context.Context, conn *websocket.Conn, _ EmptyInput) error {
	// cleanup runs in serveWS once the read loop ends
	c.closeConn(conn)
	return nil
}

type SetUrlInput struct {
	RoomId  string `json:"roomId"`
	Url     string `json:"url" validate:"required,url"`
	Referer string `json:"referer"`
}

func (c *controller) handleSetUrl(ctx context.Context, conn *websocket.Conn, input SetUrlInput) error {
	memberId := c.getMemberIdFromCtx(ctx)

	if validationErrors, ok := c.validate.Validate(input); !ok {
		return fmt.Errorf("validation error: %v", validationErrors)
	}

	beginResp, err := c.roomService.BeginVideoChange(ctx, &room.BeginVideoChangeParams{
		RoomId:   input.RoomId,
		SenderId: memberId,
	})
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			return nil
		}
		return fmt.Errorf("failed to begin video change: %w", err)
	}

	if err := c.broadcast(ctx, beginResp.Conns, &Output{
		Type:    "video_changing",
		Payload: map[string]any{},
	}); err != nil {
		return fmt.Errorf("failed to broadcast video changing: %w", err)
	}

	// resolution takes seconds, do not block the read loop
	go func() {
		ctx := context.WithoutCancel(ctx)

		completeResp, err := c.roomService.CompleteVideoChange(ctx, &room.CompleteVideoChangeParams{
			RoomId:   input.RoomId,
			SenderId: memberId,
			Url:      input.Url,
			Referer:  input.Referer,
		})
		if err != nil {
			c.logger.WarnContext(ctx, "failed to complete video change", "room_id", input.RoomId, "url", input.Url, "error", err)
			c.broadcast(ctx, beginResp.Conns, &Output{
				Type: "room_error",
				Payload: map[string]any{
					"message": "failed to load video",
				},
			})
			return
		}

		c.broadcast(ctx, completeResp.Conns, &Output{
			Type: "url_changed",
			Payload: map[string]any{
				"url":     completeResp.Room.VideoUrl,
				"referer": completeResp.Room.Referer,
			},
		})
		c.broadcastSyncState(ctx, completeResp.Conns, &completeResp.Room)
	}()

	return nil
}

type PlayInput struct {
	RoomId string  `json:"roomId"`
	Time   float64 `json:"time"`
}

func (c *controller) handlePlay(ctx context.Context, conn *websocket.Conn, input PlayInput) error {
	memberId := c.getMemberIdFromCtx(ctx)

	playResp, err := c.roomService.Play(ctx, &room.PlayParams{
		RoomId:   input.RoomId,
		SenderId: memberId,
		Time:     input.Time,
	})
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			return nil
		}
		return fmt.Errorf("failed to play: %w", err)
	}

	if err := c.broadcastPlayerAction(ctx, playResp.Conns, &playResp.Action); err != nil {
		return fmt.Errorf("failed to broadcast player action: %w", err)
	}

	return nil
}

type PauseInput struct {
	RoomId string  `json:"roomId"`
	Time   float64 `json:"time"`
}

func (c *controller) handlePause(ctx context.Context, conn *websocket.Conn, input PauseInput) error {
	memberId := c.getMemberIdFromCtx(ctx)

	pauseResp, err := c.roomService.Pause(ctx, &room.PauseParams{
		RoomId:   input.RoomId,
		SenderId: memberId,
		Time:     input.Time,
	})
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			return nil
		}
		return fmt.Errorf("failed to pause: %w", err)
	}

	if err := c.broadcastPlayerAction(ctx, pauseResp.Conns, &pauseResp.Action); err != nil {
		return fmt.Errorf("failed to broadcast player action: %w", err)
	}

	return nil
}

type SeekInput struct {
	RoomId     string  `json:"roomId"`
	Time       float64 `json:"time"`
	WasPlaying bool    `json:"wasPlaying"`
}

func (c *controller) handleSeek(ctx context.Context, conn *websocket.Conn, input SeekInput) error {
	memberId := c.getMemberIdFromCtx(ctx)

	seekResp, err := c.roomService.Seek(ctx, &room.SeekParams{
		RoomId:     input.RoomId,
		SenderId:   memberId,
		Time:       input.Time,
		WasPlaying: input.WasPlaying,
	})
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			return nil
		}
		return fmt.Errorf("failed to seek: %w", err)
	}

	if err := c.broadcastSyncState(ctx, seekResp.Conns, &seekResp.Room); err != nil {
		return fmt.Errorf("failed to broadcast sync state: %w", err)
	}
	for i := range seekResp.Actions {
		if err := c.broadcastPlayerAction(ctx, seekResp.Conns, &seekResp.Actions[i]); err != nil {
			return fmt.Errorf("failed to broadcast player action: %w", err)
		}
	}

	return nil
}

type BufferingInput struct {
	RoomId string `json:"roomId"`
}

func (c *controller) handleBufferingStart(ctx context.Context, conn *websocket.Conn, input BufferingInput) error {
	memberId := c.getMemberIdFromCtx(ctx)

	bufferingResp, err := c.roomService.BufferingStart(ctx, &room.BufferingParams{
		RoomId:   input.RoomId,
		MemberId: memberId,
	})
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) || errors.Is(err, room.ErrMemberNotFound) {
			return nil
		}
		return fmt.Errorf("failed to start buffering: %w", err)
	}

	if err := c.broadcastRoomBuffering(ctx, bufferingResp.Conns, bufferingResp.IsRoomBuffering); err != nil {
		return fmt.Errorf("failed to broadcast room buffering: %w", err)
	}
	if err := c.broadcastRoomUsers(ctx, bufferingResp.Conns, bufferingResp.MemberList); err != nil {
		return fmt.Errorf("failed to broadcast room users: %w", err)
	}

	return nil
}

func (c *controller) handleBufferingEnd(ctx context.Context, conn *websocket.Conn, input BufferingInput) error {
	memberId := c.getMemberIdFromCtx(ctx)

	bufferingResp, err := c.roomService.BufferingEnd(ctx, &room.BufferingParams{
		RoomId:   input.RoomId,
		MemberId: memberId,
	})
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) || errors.Is(err, room.ErrMemberNotFound) {
			return nil
		}
		return fmt.Errorf("failed to end buffering: %w", err)
	}

	if err := c.broadcastRoomBuffering(ctx, bufferingResp.Conns, bufferingResp.IsRoomBuffering); err != nil {
		return fmt.Errorf("failed to broadcast room buffering: %w", err)
	}
	if err := c.broadcastRoomUsers(ctx, bufferingResp.Conns, bufferingResp.MemberList); err != nil {
		return fmt.Errorf("failed to broadcast room users: %w", err)
	}
	if bufferingResp.Resumed != nil {
		if err := c.broadcastPlayerAction(ctx, bufferingResp.Conns, bufferingResp.Resumed); err != nil {
			return fmt.Errorf("failed to broadcast player action: %w", err)
		}
	}

	return nil
}

type TimeUpdateInput struct {
	RoomId string  `json:"roomId"`
	Time   float64 `json:"time"`
}

func (c *controller) handleTimeUpdate(ctx context.Context, conn *websocket.Conn, input TimeUpdateInput) error {
	memberId := c.getMemberIdFromCtx(ctx)

	// heartbeat: corrects server-side drift, never broadcast
	if err := c.roomService.TimeUpdate(ctx, &room.TimeUpdateParams{
		RoomId:   input.RoomId,
		SenderId: memberId,
		Time:     input.Time,
	}); err != nil && !errors.Is(err, room.ErrRoomNotFound) {
		return fmt.Errorf("failed to update time: %w", err)
	}

	return nil
}
