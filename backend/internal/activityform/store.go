package activityform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"espeleo-club/backend/pkg/redis"
)

// ErrDraftNotFound 草稿不存在或已过期
var ErrDraftNotFound = errors.New("草稿不存在或已过期")

// DraftStore 草稿存储
type DraftStore interface {
	Save(ctx context.Context, d *Draft) error
	Load(ctx context.Context, id string) (*Draft, error)
	Delete(ctx context.Context, id string) error
}

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore 基于 Redis 的草稿存储，每次保存刷新 TTL
func NewRedisStore(client *redis.Client, ttl time.Duration) DraftStore {
	return &redisStore{client: client, ttl: ttl}
}

func (s *redisStore) Save(ctx context.Context, d *Draft) error {
	d.UpdatedAt = time.Now().UTC()
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("序列化草稿失败: %w", err)
	}
	return s.client.SaveDraft(ctx, d.ID, b, s.ttl)
}

func (s *redisStore) Load(ctx context.Context, id string) (*Draft, error) {
	b, err := s.client.LoadDraft(ctx, id)
	if errors.Is(err, redis.ErrNotFound) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, err
	}
	var d Draft
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("解析草稿失败: %w", err)
	}
	return &d, nil
}

func (s *redisStore) Delete(ctx context.Context, id string) error {
	return s.client.DeleteDraft(ctx, id)
}
