package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"espeleo-club/backend/config"
)

// ErrNotFound 键不存在或已过期
var ErrNotFound = errors.New("redis: 键不存在")

// Client Redis 客户端封装
// 用于 Token 黑名单、活动表单草稿、天气响应缓存与限流
type Client struct {
	rdb    *goredis.Client
	logger *zap.Logger
}

// NewClient 创建 Redis 连接并执行 Ping 健康检查
func NewClient(cfg *config.RedisConfig, logger *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}

	logger.Info("Redis 连接成功", zap.String("addr", cfg.Addr))

	return &Client{rdb: rdb, logger: logger}, nil
}

// ── Token 黑名单 ──

const blacklistPrefix = "token:blacklist:"

// BlacklistToken 将 JWT ID 加入黑名单，TTL 与 Token 剩余有效期一致
func (c *Client) BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil // Token 已过期，无需加入黑名单
	}
	return c.rdb.Set(ctx, blacklistPrefix+jti, "1", ttl).Err()
}

// IsBlacklisted 检查 JWT ID 是否在黑名单中
func (c *Client) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := c.rdb.Exists(ctx, blacklistPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ── 限流（滑动窗口） ──

// CheckRateLimit 基于有序集合的滑动窗口计数，返回本次请求是否放行
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()[:8]

	pipe := c.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.Add(-window).UnixNano(), 10))
	pipe.ZAdd(ctx, key, goredis.Z{Score: float64(now.UnixNano()), Member: member})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return count.Val() <= int64(limit), nil
}

// ── 活动表单草稿 ──

const draftPrefix = "activity:draft:"

// SaveDraft 保存草稿（JSON），每次保存刷新 TTL
func (c *Client) SaveDraft(ctx context.Context, id string, payload []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, draftPrefix+id, payload, ttl).Err()
}

// LoadDraft 读取草稿，不存在时返回 ErrNotFound
func (c *Client) LoadDraft(ctx context.Context, id string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, draftPrefix+id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

// DeleteDraft 删除草稿
func (c *Client) DeleteDraft(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, draftPrefix+id).Err()
}

// ── 天气响应缓存 ──

const weatherPrefix = "weather:cache:"

// GetWeather 读取缓存的上游响应体
func (c *Client) GetWeather(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, weatherPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

// SetWeather 缓存上游响应体
func (c *Client) SetWeather(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Set(ctx, weatherPrefix+key, body, ttl).Err()
}

// Ping 健康检查
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	return c.rdb.Close()
}
