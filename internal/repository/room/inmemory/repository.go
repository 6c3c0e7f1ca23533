package inmemory

import (
	"sync"
	"time"

	"github.com/couchsync/server/internal/domain"
	"github.com/couchsync/server/internal/repository/room"
)

type roomEntry struct {
	state       domain.Room
	members     []domain.Member
	deleteTimer *time.Timer
}

// repo owns every room's playback state, ordered member list and deferred
// deletion timer. All maps are guarded by mu; the per-room event locks handed
// out by LockRoom serialize whole sync-engine operations, not single calls.
type repo struct {
	mu          sync.Mutex
	rooms       map[string]*roomEntry
	memberRooms map[string]map[string]struct{}
	locks       map[string]*sync.Mutex
	gracePeriod time.Duration
	onRemove    func(roomId string)
}

func NewRepo(gracePeriod time.Duration, onRemove func(roomId string)) *repo {
	return &repo{
		rooms:       make(map[string]*roomEntry),
		memberRooms: make(map[string]map[string]struct{}),
		locks:       make(map[string]*sync.Mutex),
		gracePeriod: gracePeriod,
		onRemove:    onRemove,
	}
}

// LockRoom acquires the event lock for a room, creating it if needed, and
// returns the unlock func. Every sync-engine operation for a room runs under
// this lock so mutations for one room never interleave.
func (r *repo) LockRoom(roomId string) func() {
	r.mu.Lock()
	l, ok := r.locks[roomId]
	if !ok {
		l = &sync.Mutex{}
		r.locks[roomId] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// GetOrCreateRoom returns the room state, creating a paused empty room on
// first use. A pending deletion timer for the id is disarmed.
func (r *repo) GetOrCreateRoom(roomId string) domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rooms[roomId]
	if !ok {
		entry = &roomEntry{}
		r.rooms[roomId] = entry
	}
	if entry.deleteTimer != nil {
		entry.deleteTimer.Stop()
		entry.deleteTimer = nil
	}

	return entry.state
}

func (r *repo) GetRoom(roomId string) (domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rooms[roomId]
	if !ok {
		return domain.Room{}, room.ErrRoomNotFound
	}

	return entry.state, nil
}

func (r *repo) SetRoom(roomId string, state domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rooms[roomId]
	if !ok {
		return room.ErrRoomNotFound
	}
	entry.state = state

	return nil
}

func (r *repo) HasRoom(roomId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.rooms[roomId]
	return ok
}

// AddMember appends a member to the room's list. An existing member with the
// same nickname is replaced: last join for a name wins.
func (r *repo) AddMember(roomId string, member domain.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rooms[roomId]
	if !ok {
		return room.ErrRoomNotFound
	}

	for i, m := range entry.members {
		if m.Nickname == member.Nickname {
			entry.members = append(entry.members[:i], entry.members[i+1:]...)
			r.unindexMemberLocked(m.Id, roomId)
			break
		}
	}
	entry.members = append(entry.members, member)

	rooms, ok := r.memberRooms[member.Id]
	if !ok {
		rooms = make(map[string]struct{})
		r.memberRooms[member.Id] = rooms
	}
	rooms[roomId] = struct{}{}

	return nil
}

// RemoveMember drops the member from the room's list and returns the number
// of members left.
func (r *repo) RemoveMember(roomId, memberId string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rooms[roomId]
	if !ok {
		return 0, room.ErrRoomNotFound
	}

	for i, m := range entry.members {
		if m.Id == memberId {
			entry.members = append(entry.members[:i], entry.members[i+1:]...)
			r.unindexMemberLocked(memberId, roomId)
			return len(entry.members), nil
		}
	}

	return len(entry.members), room.ErrMemberNotFound
}

func (r *repo) GetMembers(roomId string) ([]domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rooms[roomId]
	if !ok {
		return nil, room.ErrRoomNotFound
	}

	members := make([]domain.Member, len(entry.members))
	copy(members, entry.members)

	return members, nil
}

func (r *repo) SetMemberBuffering(roomId, memberId string, isBuffering bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rooms[roomId]
	if !ok {
		return room.ErrRoomNotFound
	}

	for i := range entry.members {
		if entry.members[i].Id == memberId {
			entry.members[i].IsBuffering = isBuffering
			return nil
		}
	}

	return room.ErrMemberNotFound
}

// GetMemberRooms returns the ids of every room the member belongs to.
func (r *repo) GetMemberRooms(memberId string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomIds := make([]string, 0, len(r.memberRooms[memberId]))
	for roomId := range r.memberRooms[memberId] {
		roomIds = append(roomIds, roomId)
	}

	return roomIds
}

// ScheduleDeleteIfEmpty arms a one-shot deletion timer when the room has no
// members. A GetOrCreateRoom before it fires disarms it.
func (r *repo) ScheduleDeleteIfEmpty(roomId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rooms[roomId]
	if !ok || len(entry.members) > 0 {
		return
	}
	if entry.deleteTimer != nil {
		entry.deleteTimer.Stop()
	}

	entry.deleteTimer = time.AfterFunc(r.gracePeriod, func() {
		r.removeIfStillEmpty(roomId)
	})
}

// removeIfStillEmpty is the deletion timer callback. It drops the room, its
// event lock and fires the removal hook so caches tied to the room go too.
func (r *repo) removeIfStillEmpty(roomId string) {
	r.mu.Lock()
	entry, ok := r.rooms[roomId]
	// a nil timer means a rejoin disarmed the deletion between the timer
	// firing and this callback taking the lock
	if !ok || entry.deleteTimer == nil || len(entry.members) > 0 {
		r.mu.Unlock()
		return
	}
	entry.deleteTimer = nil
	delete(r.rooms, roomId)
	delete(r.locks, roomId)
	r.mu.Unlock()

	if r.onRemove != nil {
		r.onRemove(roomId)
	}
}

func (r *repo) unindexMemberLocked(memberId, roomId string) {
	if rooms, ok := r.memberRooms[memberId]; ok {
		delete(rooms, roomId)
		if len(rooms) == 0 {
			delete(r.memberRooms, memberId)
		}
	}
}
