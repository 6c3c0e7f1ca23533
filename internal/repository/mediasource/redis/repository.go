package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/couchsync/server/internal/repository/mediasource"
	"github.com/redis/go-redis/v9"
)

// repo caches resolved media sources so repeated set_url calls for the same
// input skip the external resolver. Entries expire via redis TTL.
type repo struct {
	rc  *redis.Client
	ttl time.Duration
}

func NewRepo(rc *redis.Client, ttl time.Duration) *repo {
	return &repo{
		rc:  rc,
		ttl: ttl,
	}
}

func (r *repo) key(roomId, originalUrl string) string {
	return fmt.Sprintf("mediasource:%s:%s", roomId, originalUrl)
}

func (r *repo) Get(ctx context.Context, roomId, originalUrl string) (mediasource.MediaSource, error) {
	raw, err := r.rc.Get(ctx, r.key(roomId, originalUrl)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return mediasource.MediaSource{}, mediasource.ErrNotFound
		}
		return mediasource.MediaSource{}, fmt.Errorf("failed to get media source: %w", err)
	}

	var source mediasource.MediaSource
	if err := json.Unmarshal(raw, &source); err != nil {
		return mediasource.MediaSource{}, fmt.Errorf("failed to unmarshal media source: %w", err)
	}

	return source, nil
}

func (r *repo) Set(ctx context.Context, roomId, originalUrl string, source mediasource.MediaSource) error {
	raw, err := json.Marshal(source)
	if err != nil {
		return fmt.Errorf("failed to marshal media source: %w", err)
	}

	if err := r.rc.Set(ctx, r.key(roomId, originalUrl), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set media source: %w", err)
	}

	return nil
}

// DropRoom removes every cached source for a room. Called when the room is
// deleted.
func (r *repo) DropRoom(ctx context.Context, roomId string) error {
	var cursor uint64
	pattern := r.key(roomId, "*")

	for {
		keys, next, err := r.rc.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan media sources: %w", err)
		}
		if len(keys) > 0 {
			if err := r.rc.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete media sources: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
