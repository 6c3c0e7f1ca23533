package proxy

import (
	"sync"
	"time"
)

// Chunk is one fetched upstream response cached for room members that still
// have the same segment ahead of them.
type Chunk struct {
	Data        []byte
	Status      int
	ContentType string
	Headers     map[string]string
	CreatedAt   time.Time

	pendingUsers map[string]struct{}
	loadingUsers map[string]struct{}
	timer        *time.Timer
}

// Cache holds chunks per room, keyed by (url, range header). Entries live
// until every pending member has loaded them, a member-less entry is never
// stored, and a stale timer bounds the worst case.
type Cache struct {
	mu         sync.Mutex
	rooms      map[string]map[string]*Chunk
	staleAfter time.Duration
}

func NewCache(staleAfter time.Duration) *Cache {
	return &Cache{
		rooms:      make(map[string]map[string]*Chunk),
		staleAfter: staleAfter,
	}
}

// Key builds the cache key for a target url and incoming Range header.
func Key(url, rangeHeader string) string {
	return url + "|" + rangeHeader
}

// Put stores a chunk on behalf of the fetcher. Members other than the fetcher
// become pending; with nobody pending the chunk is not stored at all.
func (c *Cache) Put(roomId, key string, chunk Chunk, memberIds []string, fetcherId string) bool {
	chunk.pendingUsers = make(map[string]struct{}, len(memberIds))
	for _, id := range memberIds {
		if id != fetcherId {
			chunk.pendingUsers[id] = struct{}{}
		}
	}
	if len(chunk.pendingUsers) == 0 {
		return false
	}
	chunk.loadingUsers = make(map[string]struct{})
	chunk.CreatedAt = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomId]
	if !ok {
		room = make(map[string]*Chunk)
		c.rooms[roomId] = room
	}
	if prev, ok := room[key]; ok && prev.timer != nil {
		prev.timer.Stop()
	}

	stored := &chunk
	stored.timer = time.AfterFunc(c.staleAfter, func() {
		c.expire(roomId, key)
	})
	room[key] = stored

	return true
}

// BeginLoad marks the member as mid-download of a cached chunk and returns it.
// Misses return ok=false and the caller goes upstream.
func (c *Cache) BeginLoad(roomId, key, memberId string) (Chunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chunk, ok := c.rooms[roomId][key]
	if !ok {
		return Chunk{}, false
	}

	delete(chunk.pendingUsers, memberId)
	chunk.loadingUsers[memberId] = struct{}{}

	return *chunk, true
}

// EndLoad marks the member's download finished and evicts the chunk once
// nobody is pending or loading.
func (c *Cache) EndLoad(roomId, key, memberId string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chunk, ok := c.rooms[roomId][key]
	if !ok {
		return
	}

	delete(chunk.loadingUsers, memberId)
	if len(chunk.pendingUsers) == 0 && len(chunk.loadingUsers) == 0 {
		c.deleteLocked(roomId, key, chunk)
	}
}

// RemoveMember unregisters a disconnected member from every chunk of the room
// and evicts chunks left with nobody to serve.
func (c *Cache) RemoveMember(roomId, memberId string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, chunk := range c.rooms[roomId] {
		delete(chunk.pendingUsers, memberId)
		delete(chunk.loadingUsers, memberId)
		if len(chunk.pendingUsers) == 0 && len(chunk.loadingUsers) == 0 {
			c.deleteLocked(roomId, key, chunk)
		}
	}
}

// DropRoom discards the room's whole cache.
func (c *Cache) DropRoom(roomId string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, chunk := range c.rooms[roomId] {
		c.deleteLocked(roomId, key, chunk)
	}
	delete(c.rooms, roomId)
}

func (c *Cache) Has(roomId, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.rooms[roomId][key]
	return ok
}

// expire runs on the stale timer. An entry somebody is mid-download of is
// kept alive and rechecked one period later.
func (c *Cache) expire(roomId, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chunk, ok := c.rooms[roomId][key]
	if !ok {
		return
	}
	if len(chunk.loadingUsers) > 0 {
		chunk.timer = time.AfterFunc(c.staleAfter, func() {
			c.expire(roomId, key)
		})
		return
	}

	c.deleteLocked(roomId, key, chunk)
}

func (c *Cache) deleteLocked(roomId, key string, chunk *Chunk) {
	if chunk.timer != nil {
		chunk.timer.Stop()
	}
	delete(c.rooms[roomId], key)
	if len(c.rooms[roomId]) == 0 {
		delete(c.rooms, roomId)
	}
}
