package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"espeleo-club/backend/config"
	"espeleo-club/backend/internal/dto"
	applogger "espeleo-club/backend/pkg/logger"
	"espeleo-club/backend/pkg/metrics"
	"espeleo-club/backend/pkg/redis"
	"espeleo-club/backend/pkg/weather"
)

// ── 天气代理业务错误 ──

var (
	ErrWeatherDisabled   = errors.New("天气功能未启用")
	ErrWeatherKeyMissing = errors.New("未配置气象服务密钥")
	ErrWeatherEndpoint   = weather.ErrInvalidEndpoint
	ErrWeatherUpstream   = weather.ErrUpstream
)

// 天气面板不可用原因
const (
	WeatherReasonDisabled   = "feature_disabled"
	WeatherReasonKeyMissing = "api_key_missing"
)

// healthEndpoint 健康检查伪 endpoint，不访问上游
const healthEndpoint = "health"

// WeatherFetcher 上游转发（实现见 pkg/weather）
type WeatherFetcher interface {
	Fetch(ctx context.Context, endpoint, apiKey string) (*weather.Response, error)
}

// WeatherCache 上游响应缓存（实现见 pkg/redis）
type WeatherCache interface {
	GetWeather(ctx context.Context, key string) ([]byte, error)
	SetWeather(ctx context.Context, key string, body []byte, ttl time.Duration) error
}

// WeatherService 天气代理业务接口
type WeatherService interface {
	Status(ctx context.Context) (*dto.WeatherStatusResponse, error)
	Proxy(ctx context.Context, endpoint, apiKey string) (*weather.Response, error)
}

type weatherService struct {
	cfg      *config.WeatherConfig
	settings ConfigurationService
	fetcher  WeatherFetcher
	cache    WeatherCache
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewWeatherService 创建 WeatherService 实例；cache 可为 nil
func NewWeatherService(
	cfg *config.WeatherConfig,
	settings ConfigurationService,
	fetcher WeatherFetcher,
	cache WeatherCache,
	m *metrics.Metrics,
	logger *zap.Logger,
) WeatherService {
	return &weatherService{cfg: cfg, settings: settings, fetcher: fetcher, cache: cache, metrics: m, logger: logger}
}

// Status 前端据此决定是否展示天气面板
func (s *weatherService) Status(ctx context.Context) (*dto.WeatherStatusResponse, error) {
	_, err := s.resolveKey(ctx, "")
	switch {
	case err == nil:
		return &dto.WeatherStatusResponse{Enabled: true}, nil
	case errors.Is(err, ErrWeatherDisabled):
		return &dto.WeatherStatusResponse{Enabled: false, Reason: WeatherReasonDisabled}, nil
	case errors.Is(err, ErrWeatherKeyMissing):
		return &dto.WeatherStatusResponse{Enabled: false, Reason: WeatherReasonKeyMissing}, nil
	default:
		return nil, err
	}
}

// Proxy 原样转发上游响应；2xx 响应按 endpoint 缓存
func (s *weatherService) Proxy(ctx context.Context, endpoint, apiKey string) (*weather.Response, error) {
	if endpoint == healthEndpoint {
		return &weather.Response{
			StatusCode:  200,
			ContentType: "application/json",
			Body:        []byte(`{"status":"active"}`),
		}, nil
	}

	path, err := weather.NormalizeEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	key, err := s.resolveKey(ctx, apiKey)
	if err != nil {
		s.metrics.WeatherRequest("disabled")
		return nil, err
	}

	// 调用方自带密钥时不读写共享缓存
	useCache := s.cache != nil && apiKey == ""
	if useCache {
		body, err := s.cache.GetWeather(ctx, path)
		if err == nil {
			s.metrics.WeatherRequest("hit")
			return &weather.Response{StatusCode: 200, ContentType: "application/json", Body: body}, nil
		}
		if !errors.Is(err, redis.ErrNotFound) {
			applogger.FromContext(ctx, s.logger).Warn("读取天气缓存失败", zap.Error(err))
		}
	}

	resp, err := s.fetcher.Fetch(ctx, path, key)
	if err != nil {
		s.metrics.WeatherRequest("error")
		applogger.FromContext(ctx, s.logger).Error("气象服务请求失败", zap.String("endpoint", path), zap.Error(err))
		return nil, err
	}
	s.metrics.WeatherRequest("miss")

	if useCache && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := s.cache.SetWeather(ctx, path, resp.Body, s.cfg.CacheTTL); err != nil {
			applogger.FromContext(ctx, s.logger).Warn("写入天气缓存失败", zap.Error(err))
		}
	}
	return resp, nil
}

// resolveKey 功能开关关闭或没有任何可用密钥时降级
func (s *weatherService) resolveKey(ctx context.Context, override string) (string, error) {
	features, err := s.settings.Features(ctx)
	if err != nil {
		return "", err
	}
	if !features.WeatherEnabled {
		return "", ErrWeatherDisabled
	}
	if override != "" {
		return override, nil
	}
	keys, err := s.settings.APIKeys(ctx)
	if err != nil {
		return "", err
	}
	if keys.AEMET == "" {
		return "", ErrWeatherKeyMissing
	}
	return keys.AEMET, nil
}
