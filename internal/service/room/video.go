package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchsync/server/internal/domain"
	"github.com/couchsync/server/internal/repository/mediasource"
	"github.com/couchsync/server/internal/resolver"
	"github.com/gorilla/websocket"
)

type BeginVideoChangeParams struct {
	RoomId   string
	SenderId string
}

type BeginVideoChangeResponse struct {
	Conns []*websocket.Conn
}

// BeginVideoChange announces the upcoming source change before the slow
// resolution starts, so clients can show a loading state.
func (s *service) BeginVideoChange(ctx context.Context, params *BeginVideoChangeParams) (BeginVideoChangeResponse, error) {
	if !s.roomRepo.HasRoom(params.RoomId) {
		return BeginVideoChangeResponse{}, ErrRoomNotFound
	}

	return BeginVideoChangeResponse{Conns: s.roomConns(params.RoomId)}, nil
}

type CompleteVideoChangeParams struct {
	RoomId   string
	SenderId string
	Url      string
	Referer  string
}

type CompleteVideoChangeResponse struct {
	Room  domain.Room
	Conns []*websocket.Conn
}

// CompleteVideoChange resolves the source and swaps the room onto it.
// Resolution runs outside the room lock; the state mutation is applied
// atomically only after it succeeds, so a failing resolver leaves the prior
// video untouched.
func (s *service) CompleteVideoChange(ctx context.Context, params *CompleteVideoChangeParams) (CompleteVideoChangeResponse, error) {
	media, err := s.resolveSource(ctx, params)
	if err != nil {
		return CompleteVideoChangeResponse{}, err
	}

	unlock := s.roomRepo.LockRoom(params.RoomId)
	defer unlock()

	state, err := s.roomRepo.GetRoom(params.RoomId)
	if err != nil {
		return CompleteVideoChangeResponse{}, fmt.Errorf("failed to get room: %w", err)
	}

	state.VideoUrl = media.Url
	state.Referer = media.Referer
	state.Resume(0, s.now())
	state.WasPlayingBeforeSeek = false
	if err := s.roomRepo.SetRoom(params.RoomId, state); err != nil {
		return CompleteVideoChangeResponse{}, fmt.Errorf("failed to set room: %w", err)
	}

	s.logger.InfoContext(ctx, "video changed", "room_id", params.RoomId, "url", media.Url)

	return CompleteVideoChangeResponse{
		Room:  state,
		Conns: s.roomConns(params.RoomId),
	}, nil
}

func (s *service) resolveSource(ctx context.Context, params *CompleteVideoChangeParams) (resolver.Media, error) {
	// embeddable providers keep their native player, no resolution needed
	if resolver.IsEmbeddable(params.Url) {
		return resolver.Media{Url: params.Url, Referer: params.Referer}, nil
	}

	if cached, err := s.sourceCache.Get(ctx, params.RoomId, params.Url); err == nil {
		return resolver.Media{Url: cached.Url, Referer: cached.Referer}, nil
	} else if !errors.Is(err, mediasource.ErrNotFound) {
		s.logger.WarnContext(ctx, "source cache lookup failed", "error", err)
	}

	media, err := s.resolver.Resolve(ctx, params.Url)
	if err != nil {
		return resolver.Media{}, fmt.Errorf("failed to resolve video url: %w", err)
	}
	if media.Referer == "" {
		media.Referer = params.Referer
	}

	if err := s.sourceCache.Set(ctx, params.RoomId, params.Url, mediasource.MediaSource{
		Url:     media.Url,
		Referer: media.Referer,
	}); err != nil {
		s.logger.WarnContext(ctx, "source cache store failed", "error", err)
	}

	return media, nil
}

// ResolveSource is the /resolve endpoint's path into the resolver, sharing
// the per-room source cache with set_url.
func (s *service) ResolveSource(ctx context.Context, roomId, url string) (resolver.Media, error) {
	return s.resolveSource(ctx, &CompleteVideoChangeParams{RoomId: roomId, Url: url})
}
