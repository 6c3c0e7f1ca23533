package controller

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/couchsync/server/internal/resolver"
	"github.com/couchsync/server/internal/service/room"
	"github.com/couchsync/server/pkg/validator"
	"github.com/couchsync/server/pkg/wsrouter"
	"github.com/gorilla/websocket"
)

type iRoomService interface {
	ConnectMember(conn *websocket.Conn, memberId string) error
	RemoveConn(conn *websocket.Conn) error
	GetMemberId(conn *websocket.Conn) (string, error)
	RoomExists(roomId string) bool
	JoinRoom(context.Context, *room.JoinRoomParams) (room.JoinRoomResponse, error)
	Disconnect(context.Context, *room.DisconnectParams) (room.DisconnectResponse, error)
	Play(context.Context, *room.PlayParams) (room.PlayResponse, error)
	Pause(context.Context, *room.PauseParams) (room.PauseResponse, error)
	Seek(context.Context, *room.SeekParams) (room.SeekResponse, error)
	BufferingStart(context.Context, *room.BufferingParams) (room.BufferingResponse, error)
	BufferingEnd(context.Context, *room.BufferingParams) (room.BufferingResponse, error)
	TimeUpdate(context.Context, *room.TimeUpdateParams) error
	BeginVideoChange(context.Context, *room.BeginVideoChangeParams) (room.BeginVideoChangeResponse, error)
	CompleteVideoChange(context.Context, *room.CompleteVideoChangeParams) (room.CompleteVideoChangeResponse, error)
	ResolveSource(ctx context.Context, roomId, url string) (resolver.Media, error)
}

type iProxyHandler interface {
	ServeProxy(w http.ResponseWriter, r *http.Request)
	ServeManifestRedirect(w http.ResponseWriter, r *http.Request)
}

type controller struct {
	roomService iRoomService
	proxy       iProxyHandler
	upgrader    websocket.Upgrader
	validate    *validator.Validator
	wsmux       *wsrouter.WSRouter
	logger      *slog.Logger
	// gorilla conns allow one concurrent writer; every write goes through
	// the conn's lock in here
	writeLocks sync.Map
}

func NewController(roomService iRoomService, proxy iProxyHandler, logger *slog.Logger) *controller {
	c := &controller{
		roomService: roomService,
		proxy:       proxy,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		validate: validator.NewValidator(),
		logger:   logger,
	}
	c.wsmux = c.getWSRouter()

	return c
}
