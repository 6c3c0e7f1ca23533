package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutSkippedWithNoPendingMembers(t *testing.T) {
	c := NewCache(time.Second)

	stored := c.Put("room1", "k", Chunk{Data: []byte("x")}, []string{"m1"}, "m1")
	assert.False(t, stored)
	assert.False(t, c.Has("room1", "k"))
}

func TestChunkEvictedAfterAllPendingLoaded(t *testing.T) {
	c := NewCache(time.Minute)

	stored := c.Put("room1", "k", Chunk{Data: []byte("segment"), Status: 200}, []string{"m1", "m2", "m3"}, "m1")
	require.True(t, stored)
	require.True(t, c.Has("room1", "k"))

	chunk, ok := c.BeginLoad("room1", "k", "m2")
	require.True(t, ok)
	assert.Equal(t, []byte("segment"), chunk.Data)
	c.EndLoad("room1", "k", "m2")
	// m3 still pending
	assert.True(t, c.Has("room1", "k"))

	_, ok = c.BeginLoad("room1", "k", "m3")
	require.True(t, ok)
	c.EndLoad("room1", "k", "m3")
	assert.False(t, c.Has("room1", "k"))
}

func TestRemoveMemberReleasesChunks(t *testing.T) {
	c := NewCache(time.Minute)

	c.Put("room1", "k", Chunk{Data: []byte("x")}, []string{"m1", "m2"}, "m1")
	require.True(t, c.Has("room1", "k"))

	c.RemoveMember("room1", "m2")
	assert.False(t, c.Has("room1", "k"), "chunk must not wait for a member who left")
}

func TestStaleTimerEvicts(t *testing.T) {
	c := NewCache(20 * time.Millisecond)

	c.Put("room1", "k", Chunk{Data: []byte("x")}, []string{"m1", "m2"}, "m1")
	require.True(t, c.Has("room1", "k"))

	time.Sleep(80 * time.Millisecond)
	assert.False(t, c.Has("room1", "k"))
}

func TestStaleTimerSparesActiveLoad(t *testing.T) {
	c := NewCache(30 * time.Millisecond)

	c.Put("room1", "k", Chunk{Data: []byte("x")}, []string{"m1", "m2"}, "m1")
	_, ok := c.BeginLoad("room1", "k", "m2")
	require.True(t, ok)

	// timer fires mid-load and must reschedule instead of evicting
	time.Sleep(50 * time.Millisecond)
	assert.True(t, c.Has("room1", "k"))

	c.EndLoad("room1", "k", "m2")
	assert.False(t, c.Has("room1", "k"))
}

func TestDropRoom(t *testing.T) {
	c := NewCache(time.Minute)

	c.Put("room1", "a", Chunk{}, []string{"m1", "m2"}, "m1")
	c.Put("room1", "b", Chunk{}, []string{"m1", "m2"}, "m2")
	c.Put("room2", "a", Chunk{}, []string{"x1", "x2"}, "x1")

	c.DropRoom("room1")
	assert.False(t, c.Has("room1", "a"))
	assert.False(t, c.Has("room1", "b"))
	assert.True(t, c.Has("room2", "a"))
}
