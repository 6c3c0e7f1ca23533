package room

import (
	"context"
	"fmt"

	"github.com/couchsync/server/internal/domain"
	"github.com/gorilla/websocket"
)

type JoinRoomParams struct {
	RoomId   string
	Nickname string
	MemberId string
}

type JoinRoomResponse struct {
	Room            domain.Room
	JoinedMember    domain.Member
	MemberList      []domain.Member
	IsRoomBuffering bool
	Conns           []*websocket.Conn
}

// JoinRoom creates the room on first join and adds the member, buffering
// until their player reports ready. A join during playback freezes the clock
// so nobody's position advances while the newcomer loads.
func (s *service) JoinRoom(ctx context.Context, params *JoinRoomParams) (JoinRoomResponse, error) {
	unlock := s.roomRepo.LockRoom(params.RoomId)
	defer unlock()

	state := s.roomRepo.GetOrCreateRoom(params.RoomId)

	nickname := params.Nickname
	if nickname == "" {
		nickname = "User " + params.MemberId[:4]
	}

	member := domain.Member{
		Id:          params.MemberId,
		Nickname:    nickname,
		IsBuffering: true,
	}
	if err := s.roomRepo.AddMember(params.RoomId, member); err != nil {
		return JoinRoomResponse{}, fmt.Errorf("failed to add member: %w", err)
	}

	if state.IsPlaying {
		state.Freeze(s.now())
		state.IsPlaying = false
		state.WasPlayingBeforeSeek = true
		if err := s.roomRepo.SetRoom(params.RoomId, state); err != nil {
			return JoinRoomResponse{}, fmt.Errorf("failed to set room: %w", err)
		}
	}

	members, err := s.roomRepo.GetMembers(params.RoomId)
	if err != nil {
		return JoinRoomResponse{}, fmt.Errorf("failed to get members: %w", err)
	}

	s.logger.InfoContext(ctx, "member joined", "room_id", params.RoomId, "member_id", params.MemberId, "nickname", nickname)

	return JoinRoomResponse{
		Room:            state,
		JoinedMember:    member,
		MemberList:      members,
		IsRoomBuffering: isAnyBuffering(members),
		Conns:           s.roomConns(params.RoomId),
	}, nil
}

type DisconnectParams struct {
	MemberId string
}

type RoomDisconnect struct {
	RoomId          string
	MemberList      []domain.Member
	IsRoomBuffering bool
	Resumed         *PlayerAction
	Conns           []*websocket.Conn
}

type DisconnectResponse struct {
	Rooms []RoomDisconnect
}

// Disconnect removes the member from every room they were in. A departure
// that clears the last buffering flag resumes playback for the rest; an
// empty room is scheduled for deletion after the grace period.
func (s *service) Disconnect(ctx context.Context, params *DisconnectParams) (DisconnectResponse, error) {
	var resp DisconnectResponse

	for _, roomId := range s.roomRepo.GetMemberRooms(params.MemberId) {
		result, err := s.disconnectFromRoom(roomId, params.MemberId)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to disconnect member from room", "room_id", roomId, "member_id", params.MemberId, "error", err)
			continue
		}
		if result != nil {
			resp.Rooms = append(resp.Rooms, *result)
		}
	}

	return resp, nil
}

func (s *service) disconnectFromRoom(roomId, memberId string) (*RoomDisconnect, error) {
	unlock := s.roomRepo.LockRoom(roomId)
	defer unlock()

	left, err := s.roomRepo.RemoveMember(roomId, memberId)
	if err != nil {
		return nil, fmt.Errorf("failed to remove member: %w", err)
	}

	s.chunkCache.RemoveMember(roomId, memberId)

	if left == 0 {
		s.roomRepo.ScheduleDeleteIfEmpty(roomId)
		return nil, nil
	}

	members, err := s.roomRepo.GetMembers(roomId)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}

	result := RoomDisconnect{
		RoomId:          roomId,
		MemberList:      members,
		IsRoomBuffering: isAnyBuffering(members),
		Conns:           s.roomConns(roomId),
	}

	// the departed member may have been the last one buffering
	if !result.IsRoomBuffering {
		if action, err := s.resumeIfPending(roomId); err == nil && action != nil {
			result.Resumed = action
		}
	}

	return &result, nil
}

// resumeIfPending restarts the clock when the room is waiting to play and
// nobody buffers anymore. Caller holds the room lock.
func (s *service) resumeIfPending(roomId string) (*PlayerAction, error) {
	state, err := s.roomRepo.GetRoom(roomId)
	if err != nil {
		return nil, err
	}
	if !state.WasPlayingBeforeSeek || state.IsPlaying {
		return nil, nil
	}

	state.Resume(state.CurrentTime, s.now())
	state.WasPlayingBeforeSeek = false
	if err := s.roomRepo.SetRoom(roomId, state); err != nil {
		return nil, err
	}

	return &PlayerAction{Action: ActionPlay, Time: state.CurrentTime}, nil
}
