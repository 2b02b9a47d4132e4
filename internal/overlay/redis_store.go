package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	overlayKeyPrefix = "overlay:"
	overlayIndexKey  = "overlays:index"
)

// RedisStore persists overlays as JSON documents in Redis, one value per
// overlay plus a set of ids for listing.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore returns a store backed by the given client. The caller is
// expected to have pinged the server already; see Ping.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Ping verifies the Redis server is reachable within ctx. Used at startup to
// decide between this store and the in-memory fallback.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func overlayKey(id string) string {
	return overlayKeyPrefix + id
}

func (s *RedisStore) save(ctx context.Context, o *Overlay) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, overlayKey(o.ID), data, 0)
	pipe.SAdd(ctx, overlayIndexKey, o.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// Create implements Store.Create.
func (s *RedisStore) Create(ctx context.Context, payload map[string]any) (*Overlay, error) {
	o, err := fromPayload(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	o.ID = uuid.NewString()
	o.CreatedAt = now
	o.UpdatedAt = now

	if err := s.save(ctx, o); err != nil {
		return nil, fmt.Errorf("save overlay: %w", err)
	}
	return o, nil
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, id string) (*Overlay, error) {
	data, err := s.client.Get(ctx, overlayKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var o Overlay
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// List implements Store.List.
func (s *RedisStore) List(ctx context.Context) ([]*Overlay, error) {
	ids, err := s.client.SMembers(ctx, overlayIndexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Overlay, 0, len(ids))
	for _, id := range ids {
		o, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Index entry without a document; skip rather than fail the
			// whole listing.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Update implements Store.Update.
func (s *RedisStore) Update(ctx context.Context, id string, payload map[string]any) (*Overlay, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyPayload(o, payload); err != nil {
		return nil, err
	}
	o.UpdatedAt = time.Now().UTC()
	if err := s.save(ctx, o); err != nil {
		return nil, fmt.Errorf("save overlay: %w", err)
	}
	return o, nil
}

// Delete implements Store.Delete.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, overlayKey(id)).Result()
	if err != nil {
		return err
	}
	if err := s.client.SRem(ctx, overlayIndexKey, id).Err(); err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
