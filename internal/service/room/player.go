package room

import (
	"context"
	"fmt"

	"github.com/couchsync/server/internal/domain"
	"github.com/gorilla/websocket"
)

type PlayParams struct {
	RoomId   string
	SenderId string
	Time     float64
}

type PlayResponse struct {
	Action PlayerAction
	Conns  []*websocket.Conn
}

func (s *service) Play(ctx context.Context, params *PlayParams) (PlayResponse, error) {
	unlock := s.roomRepo.LockRoom(params.RoomId)
	defer unlock()

	state, err := s.roomRepo.GetRoom(params.RoomId)
	if err != nil {
		return PlayResponse{}, fmt.Errorf("failed to get room: %w", err)
	}

	state.Resume(params.Time, s.now())
	state.WasPlayingBeforeSeek = false
	if err := s.roomRepo.SetRoom(params.RoomId, state); err != nil {
		return PlayResponse{}, fmt.Errorf("failed to set room: %w", err)
	}

	return PlayResponse{
		Action: PlayerAction{Action: ActionPlay, Time: params.Time},
		Conns:  s.roomConns(params.RoomId),
	}, nil
}

type PauseParams struct {
	RoomId   string
	SenderId string
	Time     float64
}

type PauseResponse struct {
	Action PlayerAction
	Conns  []*websocket.Conn
}

func (s *service) Pause(ctx context.Context, params *PauseParams) (PauseResponse, error) {
	unlock := s.roomRepo.LockRoom(params.RoomId)
	defer unlock()

	state, err := s.roomRepo.GetRoom(params.RoomId)
	if err != nil {
		return PauseResponse{}, fmt.Errorf("failed to get room: %w", err)
	}

	state.IsPlaying = false
	state.CurrentTime = params.Time
	state.LastUpdated = 0
	state.WasPlayingBeforeSeek = false
	if err := s.roomRepo.SetRoom(params.RoomId, state); err != nil {
		return PauseResponse{}, fmt.Errorf("failed to set room: %w", err)
	}

	return PauseResponse{
		Action: PlayerAction{Action: ActionPause, Time: params.Time},
		Conns:  s.roomConns(params.RoomId),
	}, nil
}

type SeekParams struct {
	RoomId     string
	SenderId   string
	Time       float64
	WasPlaying bool
}

type SeekResponse struct {
	Room    domain.Room
	Actions []PlayerAction
	Conns   []*websocket.Conn
}

// Seek forces the room to paused at the target instant first; playback
// resumes only once every member finished buffering there. That keeps fast
// clients from running ahead while slow ones are still seeking.
func (s *service) Seek(ctx context.Context, params *SeekParams) (SeekResponse, error) {
	unlock := s.roomRepo.LockRoom(params.RoomId)
	defer unlock()

	state, err := s.roomRepo.GetRoom(params.RoomId)
	if err != nil {
		return SeekResponse{}, fmt.Errorf("failed to get room: %w", err)
	}

	state.IsPlaying = false
	state.CurrentTime = params.Time
	state.LastUpdated = 0
	state.WasPlayingBeforeSeek = params.WasPlaying
	if err := s.roomRepo.SetRoom(params.RoomId, state); err != nil {
		return SeekResponse{}, fmt.Errorf("failed to set room: %w", err)
	}

	return SeekResponse{
		Room: state,
		Actions: []PlayerAction{
			{Action: ActionPause, Time: params.Time},
			{Action: ActionSeek, Time: params.Time},
		},
		Conns: s.roomConns(params.RoomId),
	}, nil
}

type BufferingParams struct {
	RoomId   string
	MemberId string
}

type BufferingResponse struct {
	MemberList      []domain.Member
	IsRoomBuffering bool
	Resumed         *PlayerAction
	Conns           []*websocket.Conn
}

// BufferingStart freezes the clock while anyone stalls so no member's
// position silently advances.
func (s *service) BufferingStart(ctx context.Context, params *BufferingParams) (BufferingResponse, error) {
	unlock := s.roomRepo.LockRoom(params.RoomId)
	defer unlock()

	if err := s.roomRepo.SetMemberBuffering(params.RoomId, params.MemberId, true); err != nil {
		return BufferingResponse{}, fmt.Errorf("failed to set member buffering: %w", err)
	}

	state, err := s.roomRepo.GetRoom(params.RoomId)
	if err != nil {
		return BufferingResponse{}, fmt.Errorf("failed to get room: %w", err)
	}
	if state.IsPlaying {
		state.Freeze(s.now())
		state.IsPlaying = false
		state.WasPlayingBeforeSeek = true
		if err := s.roomRepo.SetRoom(params.RoomId, state); err != nil {
			return BufferingResponse{}, fmt.Errorf("failed to set room: %w", err)
		}
	}

	members, err := s.roomRepo.GetMembers(params.RoomId)
	if err != nil {
		return BufferingResponse{}, fmt.Errorf("failed to get members: %w", err)
	}

	return BufferingResponse{
		MemberList:      members,
		IsRoomBuffering: true,
		Conns:           s.roomConns(params.RoomId),
	}, nil
}

// BufferingEnd clears the member's flag and, once nobody buffers and the room
// is waiting to play, resumes the clock and tells every member to play.
func (s *service) BufferingEnd(ctx context.Context, params *BufferingParams) (BufferingResponse, error) {
	unlock := s.roomRepo.LockRoom(params.RoomId)
	defer unlock()

	if err := s.roomRepo.SetMemberBuffering(params.RoomId, params.MemberId, false); err != nil {
		return BufferingResponse{}, fmt.Errorf("failed to set member buffering: %w", err)
	}

	members, err := s.roomRepo.GetMembers(params.RoomId)
	if err != nil {
		return BufferingResponse{}, fmt.Errorf("failed to get members: %w", err)
	}

	resp := BufferingResponse{
		MemberList:      members,
		IsRoomBuffering: isAnyBuffering(members),
		Conns:           s.roomConns(params.RoomId),
	}

	if !resp.IsRoomBuffering {
		action, err := s.resumeIfPending(params.RoomId)
		if err != nil {
			return BufferingResponse{}, fmt.Errorf("failed to resume room: %w", err)
		}
		resp.Resumed = action
	}

	return resp, nil
}

type TimeUpdateParams struct {
	RoomId   string
	SenderId string
	Time     float64
}

// TimeUpdate is the heartbeat correcting server-side drift from the playing
// member's own clock. It never broadcasts and is dropped while not playing so
// a late heartbeat cannot resurrect a frozen clock.
func (s *service) TimeUpdate(ctx context.Context, params *TimeUpdateParams) error {
	unlock := s.roomRepo.LockRoom(params.RoomId)
	defer unlock()

	state, err := s.roomRepo.GetRoom(params.RoomId)
	if err != nil {
		return fmt.Errorf("failed to get room: %w", err)
	}
	if !state.IsPlaying {
		return nil
	}

	state.CurrentTime = params.Time
	state.LastUpdated = s.now().UnixMilli()
	if err := s.roomRepo.SetRoom(params.RoomId, state); err != nil {
		return fmt.Errorf("failed to set room: %w", err)
	}

	return nil
}
