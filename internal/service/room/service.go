package room

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchsync/server/internal/domain"
	"github.com/couchsync/server/internal/repository/mediasource"
	"github.com/couchsync/server/internal/repository/room"
	"github.com/couchsync/server/internal/resolver"
	"github.com/gorilla/websocket"
)

var (
	ErrRoomNotFound   = room.ErrRoomNotFound
	ErrMemberNotFound = room.ErrMemberNotFound
)

type iRoomRepo interface {
	LockRoom(roomId string) func()
	GetOrCreateRoom(roomId string) domain.Room
	GetRoom(roomId string) (domain.Room, error)
	SetRoom(roomId string, state domain.Room) error
	HasRoom(roomId string) bool
	AddMember(roomId string, member domain.Member) error
	RemoveMember(roomId, memberId string) (int, error)
	GetMembers(roomId string) ([]domain.Member, error)
	SetMemberBuffering(roomId, memberId string, isBuffering bool) error
	GetMemberRooms(memberId string) []string
	ScheduleDeleteIfEmpty(roomId string)
}

type iConnRepo interface {
	Add(conn *websocket.Conn, memberId string) error
	RemoveByConn(conn *websocket.Conn) error
	GetMemberId(conn *websocket.Conn) (string, error)
	GetConn(memberId string) (*websocket.Conn, error)
	GetConns(memberIds []string) []*websocket.Conn
}

type iSourceCache interface {
	Get(ctx context.Context, roomId, originalUrl string) (mediasource.MediaSource, error)
	Set(ctx context.Context, roomId, originalUrl string, source mediasource.MediaSource) error
}

type iResolver interface {
	Resolve(ctx context.Context, url string) (resolver.Media, error)
}

type iChunkCache interface {
	RemoveMember(roomId, memberId string)
}

// service is the sync engine: it owns every room-state transition and tells
// the caller which connections to broadcast to afterwards. All mutations for
// one room run under that room's lock.
type service struct {
	roomRepo    iRoomRepo
	connRepo    iConnRepo
	sourceCache iSourceCache
	resolver    iResolver
	chunkCache  iChunkCache
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(roomRepo iRoomRepo, connRepo iConnRepo, sourceCache iSourceCache, resolver iResolver, chunkCache iChunkCache, logger *slog.Logger) *service {
	return &service{
		roomRepo:    roomRepo,
		connRepo:    connRepo,
		sourceCache: sourceCache,
		resolver:    resolver,
		chunkCache:  chunkCache,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *service) ConnectMember(conn *websocket.Conn, memberId string) error {
	return s.connRepo.Add(conn, memberId)
}

func (s *service) RemoveConn(conn *websocket.Conn) error {
	return s.connRepo.RemoveByConn(conn)
}

func (s *service) GetMemberId(conn *websocket.Conn) (string, error) {
	return s.connRepo.GetMemberId(conn)
}

func (s *service) RoomExists(roomId string) bool {
	return s.roomRepo.HasRoom(roomId)
}

func (s *service) roomConns(roomId string) []*websocket.Conn {
	members, err := s.roomRepo.GetMembers(roomId)
	if err != nil {
		return nil
	}

	memberIds := make([]string, len(members))
	for i, m := range members {
		memberIds[i] = m.Id
	}

	return s.connRepo.GetConns(memberIds)
}

func isAnyBuffering(members []domain.Member) bool {
	for _, m := range members {
		if m.IsBuffering {
			return true
		}
	}

	return false
}
