package room

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/couchsync/server/internal/repository/connection/inmemory"
	"github.com/couchsync/server/internal/repository/mediasource"
	roomInmemory "github.com/couchsync/server/internal/repository/room/inmemory"
	"github.com/couchsync/server/internal/resolver"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSourceCache struct {
	entries map[string]mediasource.MediaSource
}

func (f *fakeSourceCache) Get(_ context.Context, roomId, originalUrl string) (mediasource.MediaSource, error) {
	source, ok := f.entries[roomId+"|"+originalUrl]
	if !ok {
		return mediasource.MediaSource{}, mediasource.ErrNotFound
	}

	return source, nil
}

func (f *fakeSourceCache) Set(_ context.Context, roomId, originalUrl string, source mediasource.MediaSource) error {
	f.entries[roomId+"|"+originalUrl] = source
	return nil
}

type fakeResolver struct {
	media resolver.Media
	err   error
	calls int
}

func (f *fakeResolver) Resolve(_ context.Context, url string) (resolver.Media, error) {
	f.calls++
	return f.media, f.err
}

type fakeChunkCache struct {
	removed []string
}

func (f *fakeChunkCache) RemoveMember(roomId, memberId string) {
	f.removed = append(f.removed, roomId+"|"+memberId)
}

type testEnv struct {
	service  *service
	roomRepo iRoomRepo
	resolver *fakeResolver
	chunks   *fakeChunkCache
}

func newTestService(t *testing.T) *testEnv {
	t.Helper()

	roomRepo := roomInmemory.NewRepo(30*time.Millisecond, nil)
	connRepo := inmemory.NewRepo()
	res := &fakeResolver{media: resolver.Media{Url: "https://cdn.example.com/v.m3u8", Referer: "https://embed.example.com/"}}
	chunks := &fakeChunkCache{}
	svc := NewService(roomRepo, connRepo, &fakeSourceCache{entries: map[string]mediasource.MediaSource{}}, res, chunks, slog.Default())

	return &testEnv{
		service:  svc,
		roomRepo: roomRepo,
		resolver: res,
		chunks:   chunks,
	}
}

func (e *testEnv) join(t *testing.T, roomId, memberId, nickname string) JoinRoomResponse {
	t.Helper()
	require.NoError(t, e.service.ConnectMember(&websocket.Conn{}, memberId))
	resp, err := e.service.JoinRoom(context.Background(), &JoinRoomParams{
		RoomId:   roomId,
		MemberId: memberId,
		Nickname: nickname,
	})
	require.NoError(t, err)

	return resp
}

func (e *testEnv) ready(t *testing.T, roomId, memberId string) {
	t.Helper()
	_, err := e.service.BufferingEnd(context.Background(), &BufferingParams{RoomId: roomId, MemberId: memberId})
	require.NoError(t, err)
}

func TestJoinRoomCreatesWithDefaults(t *testing.T) {
	env := newTestService(t)

	resp := env.join(t, "room1", "m1-aaaa", "alice")

	assert.False(t, resp.Room.IsPlaying)
	assert.Equal(t, 0.0, resp.Room.CurrentTime)
	assert.Equal(t, "alice", resp.JoinedMember.Nickname)
	assert.True(t, resp.JoinedMember.IsBuffering, "joiner buffers until their player is ready")
	assert.True(t, resp.IsRoomBuffering)
	require.Len(t, resp.MemberList, 1)
	assert.Len(t, resp.Conns, 1)
}

func TestJoinRoomDefaultNickname(t *testing.T) {
	env := newTestService(t)

	resp := env.join(t, "room1", "abcdef", "")
	assert.Equal(t, "User abcd", resp.JoinedMember.Nickname)
}

func TestJoinRoomNicknameDedup(t *testing.T) {
	env := newTestService(t)

	env.join(t, "room1", "m1-aaaa", "alice")
	resp := env.join(t, "room1", "m2-bbbb", "alice")

	require.Len(t, resp.MemberList, 1, "last join for a nickname wins")
	assert.Equal(t, "m2-bbbb", resp.MemberList[0].Id)
}

func TestPlayPauseRoundTrip(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	env.join(t, "room1", "m1-aaaa", "alice")
	env.ready(t, "room1", "m1-aaaa")

	playResp, err := env.service.Play(ctx, &PlayParams{RoomId: "room1", SenderId: "m1-aaaa", Time: 10})
	require.NoError(t, err)
	assert.Equal(t, PlayerAction{Action: "play", Time: 10}, playResp.Action)

	pauseResp, err := env.service.Pause(ctx, &PauseParams{RoomId: "room1", SenderId: "m1-aaaa", Time: 14.5})
	require.NoError(t, err)
	assert.Equal(t, PlayerAction{Action: "pause", Time: 14.5}, pauseResp.Action)

	state, err := env.roomRepo.GetRoom("room1")
	require.NoError(t, err)
	assert.False(t, state.IsPlaying)
	assert.Equal(t, 14.5, state.CurrentTime)
	assert.EqualValues(t, 0, state.LastUpdated)
}

func TestUnknownRoomIgnored(t *testing.T) {
	env := newTestService(t)

	_, err := env.service.Play(context.Background(), &PlayParams{RoomId: "nope", Time: 1})
	assert.ErrorIs(t, err, ErrRoomNotFound)

	err = env.service.TimeUpdate(context.Background(), &TimeUpdateParams{RoomId: "nope", Time: 1})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestBufferingFreezesClock(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	env.join(t, "room1", "m1-aaaa", "alice")
	env.join(t, "room1", "m2-bbbb", "bob")
	env.ready(t, "room1", "m1-aaaa")
	env.ready(t, "room1", "m2-bbbb")

	_, err := env.service.Play(ctx, &PlayParams{RoomId: "room1", SenderId: "m1-aaaa", Time: 10})
	require.NoError(t, err)

	resp, err := env.service.BufferingStart(ctx, &BufferingParams{RoomId: "room1", MemberId: "m2-bbbb"})
	require.NoError(t, err)
	assert.True(t, resp.IsRoomBuffering)

	state, err := env.roomRepo.GetRoom("room1")
	require.NoError(t, err)
	assert.False(t, state.IsPlaying)
	assert.True(t, state.WasPlayingBeforeSeek, "room remembers it should resume")
	frozenAt := state.CurrentTime
	assert.InDelta(t, 10, frozenAt, 0.5)

	// position must not advance while someone buffers
	time.Sleep(50 * time.Millisecond)
	state, err = env.roomRepo.GetRoom("room1")
	require.NoError(t, err)
	assert.Equal(t, frozenAt, state.CurrentTime)

	endResp, err := env.service.BufferingEnd(ctx, &BufferingParams{RoomId: "room1", MemberId: "m2-bbbb"})
	require.NoError(t, err)
	assert.False(t, endResp.IsRoomBuffering)
	require.NotNil(t, endResp.Resumed)
	assert.Equal(t, "play", endResp.Resumed.Action)
	assert.Equal(t, frozenAt, endResp.Resumed.Time)

	state, err = env.roomRepo.GetRoom("room1")
	require.NoError(t, err)
	assert.True(t, state.IsPlaying)
	assert.False(t, state.WasPlayingBeforeSeek)
}

func TestJoinDuringPlaybackFreezes(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	env.join(t, "room1", "m1-aaaa", "alice")
	env.ready(t, "room1", "m1-aaaa")
	_, err := env.service.Play(ctx, &PlayParams{RoomId: "room1", SenderId: "m1-aaaa", Time: 20})
	require.NoError(t, err)

	resp := env.join(t, "room1", "m2-bbbb", "bob")
	assert.True(t, resp.IsRoomBuffering, "joiner sees the buffering flag in the join response")
	assert.False(t, resp.Room.IsPlaying)
	assert.InDelta(t, 20, resp.Room.CurrentTime, 0.5)
}

func TestSeekSequencing(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	env.join(t, "room1", "m1-aaaa", "alice")
	env.join(t, "room1", "m2-bbbb", "bob")
	env.ready(t, "room1", "m1-aaaa")
	env.ready(t, "room1", "m2-bbbb")
	_, err := env.service.Play(ctx, &PlayParams{RoomId: "room1", SenderId: "m1-aaaa", Time: 5})
	require.NoError(t, err)

	seekResp, err := env.service.Seek(ctx, &SeekParams{RoomId: "room1", SenderId: "m1-aaaa", Time: 12.5, WasPlaying: true})
	require.NoError(t, err)
	assert.False(t, seekResp.Room.IsPlaying)
	assert.Equal(t, 12.5, seekResp.Room.CurrentTime)
	require.Len(t, seekResp.Actions, 2)
	assert.Equal(t, PlayerAction{Action: "pause", Time: 12.5}, seekResp.Actions[0])
	assert.Equal(t, PlayerAction{Action: "seek", Time: 12.5}, seekResp.Actions[1])

	// both members buffer at the new position, then report ready
	_, err = env.service.BufferingStart(ctx, &BufferingParams{RoomId: "room1", MemberId: "m1-aaaa"})
	require.NoError(t, err)
	_, err = env.service.BufferingStart(ctx, &BufferingParams{RoomId: "room1", MemberId: "m2-bbbb"})
	require.NoError(t, err)

	first, err := env.service.BufferingEnd(ctx, &BufferingParams{RoomId: "room1", MemberId: "m1-aaaa"})
	require.NoError(t, err)
	assert.Nil(t, first.Resumed, "no resume while a member still buffers")

	second, err := env.service.BufferingEnd(ctx, &BufferingParams{RoomId: "room1", MemberId: "m2-bbbb"})
	require.NoError(t, err)
	require.NotNil(t, second.Resumed)
	assert.Equal(t, PlayerAction{Action: "play", Time: 12.5}, *second.Resumed)
}

func TestSeekWhilePausedDoesNotResume(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	env.join(t, "room1", "m1-aaaa", "alice")
	env.ready(t, "room1", "m1-aaaa")

	_, err := env.service.Seek(ctx, &SeekParams{RoomId: "room1", SenderId: "m1-aaaa", Time: 30, WasPlaying: false})
	require.NoError(t, err)

	_, err = env.service.BufferingStart(ctx, &BufferingParams{RoomId: "room1", MemberId: "m1-aaaa"})
	require.NoError(t, err)
	resp, err := env.service.BufferingEnd(ctx, &BufferingParams{RoomId: "room1", MemberId: "m1-aaaa"})
	require.NoError(t, err)
	assert.Nil(t, resp.Resumed)

	state, err := env.roomRepo.GetRoom("room1")
	require.NoError(t, err)
	assert.False(t, state.IsPlaying)
	assert.Equal(t, 30.0, state.CurrentTime)
}

func TestTimeUpdateOnlyWhilePlaying(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	env.join(t, "room1", "m1-aaaa", "alice")
	env.ready(t, "room1", "m1-aaaa")

	// paused: heartbeat is dropped
	require.NoError(t, env.service.TimeUpdate(ctx, &TimeUpdateParams{RoomId: "room1", SenderId: "m1-aaaa", Time: 99}))
	state, err := env.roomRepo.GetRoom("room1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, state.CurrentTime)

	_, err = env.service.Play(ctx, &PlayParams{RoomId: "room1", SenderId: "m1-aaaa", Time: 10})
	require.NoError(t, err)
	require.NoError(t, env.service.TimeUpdate(ctx, &TimeUpdateParams{RoomId: "room1", SenderId: "m1-aaaa", Time: 11.2}))

	state, err = env.roomRepo.GetRoom("room1")
	require.NoError(t, err)
	assert.Equal(t, 11.2, state.CurrentTime)
	assert.True(t, state.IsPlaying)
}

func TestDisconnectClearsBufferingAndResumes(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	env.join(t, "room1", "m1-aaaa", "alice")
	env.join(t, "room1", "m2-bbbb", "bob")
	env.ready(t, "room1", "m1-aaaa")
	env.ready(t, "room1", "m2-bbbb")
	_, err := env.service.Play(ctx, &PlayParams{RoomId: "room1", SenderId: "m1-aaaa", Time: 8})
	require.NoError(t, err)
	_, err = env.service.BufferingStart(ctx, &BufferingParams{RoomId: "room1", MemberId: "m2-bbbb"})
	require.NoError(t, err)

	resp, err := env.service.Disconnect(ctx, &DisconnectParams{MemberId: "m2-bbbb"})
	require.NoError(t, err)
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, "room1", resp.Rooms[0].RoomId)
	require.Len(t, resp.Rooms[0].MemberList, 1)
	assert.False(t, resp.Rooms[0].IsRoomBuffering)
	require.NotNil(t, resp.Rooms[0].Resumed, "departed member was the last one buffering")
	assert.Contains(t, env.chunks.removed, "room1|m2-bbbb")
}

func TestDisconnectLastMemberSchedulesDeletion(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	env.join(t, "room1", "m1-aaaa", "alice")

	resp, err := env.service.Disconnect(ctx, &DisconnectParams{MemberId: "m1-aaaa"})
	require.NoError(t, err)
	assert.Empty(t, resp.Rooms, "nobody left to broadcast to")

	// repo grace period is 30ms in tests
	assert.True(t, env.service.RoomExists("room1"), "room survives the grace period start")
	time.Sleep(100 * time.Millisecond)
	assert.False(t, env.service.RoomExists("room1"))
}

func TestVideoChangeResolved(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	env.join(t, "room1", "m1-aaaa", "alice")

	beginResp, err := env.service.BeginVideoChange(ctx, &BeginVideoChangeParams{RoomId: "room1", SenderId: "m1-aaaa"})
	require.NoError(t, err)
	assert.Len(t, beginResp.Conns, 1)

	resp, err := env.service.CompleteVideoChange(ctx, &CompleteVideoChangeParams{
		RoomId:   "room1",
		SenderId: "m1-aaaa",
		Url:      "https://site.example.com/watch/1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, env.resolver.calls)
	assert.Equal(t, "https://cdn.example.com/v.m3u8", resp.Room.VideoUrl)
	assert.Equal(t, "https://embed.example.com/", resp.Room.Referer)
	assert.True(t, resp.Room.IsPlaying)
	assert.Equal(t, 0.0, resp.Room.CurrentTime)

	// second change for the same url hits the source cache
	_, err = env.service.CompleteVideoChange(ctx, &CompleteVideoChangeParams{
		RoomId:   "room1",
		SenderId: "m1-aaaa",
		Url:      "https://site.example.com/watch/1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, env.resolver.calls)
}

func TestVideoChangeEmbeddableSkipsResolver(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	env.join(t, "room1", "m1-aaaa", "alice")

	resp, err := env.service.CompleteVideoChange(ctx, &CompleteVideoChangeParams{
		RoomId:   "room1",
		SenderId: "m1-aaaa",
		Url:      "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, env.resolver.calls)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", resp.Room.VideoUrl)
}

func TestVideoChangeFailureLeavesStateIntact(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	env.join(t, "room1", "m1-aaaa", "alice")
	env.resolver.err = fmt.Errorf("yt-dlp blew up: %w", resolver.ErrUnresolvable)
	env.resolver.media = resolver.Media{}

	before, err := env.roomRepo.GetRoom("room1")
	require.NoError(t, err)

	_, err = env.service.CompleteVideoChange(ctx, &CompleteVideoChangeParams{
		RoomId:   "room1",
		SenderId: "m1-aaaa",
		Url:      "https://site.example.com/watch/broken",
	})
	assert.ErrorIs(t, err, resolver.ErrUnresolvable)

	after, err := env.roomRepo.GetRoom("room1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
