package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"espeleo-club/backend/config"
	"espeleo-club/backend/internal/dto"
	"espeleo-club/backend/internal/model"
	"espeleo-club/backend/internal/repository"
	applogger "espeleo-club/backend/pkg/logger"
)

// ── 配置模块业务错误 ──

var (
	ErrConfigKeyUnknown    = errors.New("未知配置项")
	ErrConfigValueInvalid  = errors.New("配置值格式错误")
	ErrConfigurationAbsent = errors.New("配置项不存在")
)

// FeatureFlags features 文档
type FeatureFlags struct {
	WeatherEnabled   bool `json:"weather_enabled"`
	AnalyticsEnabled bool `json:"analytics_enabled"`
}

// APIKeys api_keys 文档
type APIKeys struct {
	AEMET string `json:"aemet"`
}

// NotificationSettings notifications 文档
type NotificationSettings struct {
	LoanDueReminderDays int  `json:"loan_due_reminder_days"`
	EmailEnabled        bool `json:"email_enabled"`
}

// ConfigurationService 配置业务接口
type ConfigurationService interface {
	Features(ctx context.Context) (*dto.FeaturesResponse, error)
	APIKeys(ctx context.Context) (*APIKeys, error)
	List(ctx context.Context) ([]dto.ConfigurationResponse, error)
	Get(ctx context.Context, key string) (*dto.ConfigurationResponse, error)
	Update(ctx context.Context, key string, value json.RawMessage, callerID string) (*dto.ConfigurationResponse, error)
}

type configurationService struct {
	cfg    *config.Config
	repo   *repository.Repository
	logger *zap.Logger
}

// NewConfigurationService 创建 ConfigurationService 实例
func NewConfigurationService(cfg *config.Config, repo *repository.Repository, logger *zap.Logger) ConfigurationService {
	return &configurationService{cfg: cfg, repo: repo, logger: logger}
}

// ────────────────────── Features ──────────────────────

// Features 读取功能开关；文档缺失或损坏时回退到配置文件默认值
func (s *configurationService) Features(ctx context.Context) (*dto.FeaturesResponse, error) {
	flags := FeatureFlags{
		WeatherEnabled:   s.cfg.Feature.WeatherEnabled,
		AnalyticsEnabled: s.cfg.Feature.AnalyticsEnabled,
	}
	row, err := s.repo.Configuration.Get(ctx, model.ConfigKeyFeatures)
	switch {
	case err == nil:
		if err := json.Unmarshal(row.Value, &flags); err != nil {
			applogger.FromContext(ctx, s.logger).Warn("features 配置格式错误，使用默认值", zap.Error(err))
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		applogger.FromContext(ctx, s.logger).Error("读取 features 配置失败", zap.Error(err))
		return nil, err
	}
	return &dto.FeaturesResponse{WeatherEnabled: flags.WeatherEnabled, AnalyticsEnabled: flags.AnalyticsEnabled}, nil
}

// APIKeys 读取第三方密钥；配置表为空时回退到 weather.api_key
func (s *configurationService) APIKeys(ctx context.Context) (*APIKeys, error) {
	keys := APIKeys{}
	row, err := s.repo.Configuration.Get(ctx, model.ConfigKeyAPIKeys)
	switch {
	case err == nil:
		if err := json.Unmarshal(row.Value, &keys); err != nil {
			applogger.FromContext(ctx, s.logger).Warn("api_keys 配置格式错误", zap.Error(err))
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		applogger.FromContext(ctx, s.logger).Error("读取 api_keys 配置失败", zap.Error(err))
		return nil, err
	}
	if strings.TrimSpace(keys.AEMET) == "" {
		keys.AEMET = s.cfg.Weather.APIKey
	}
	return &keys, nil
}

// ────────────────────── List / Get ──────────────────────

func (s *configurationService) List(ctx context.Context) ([]dto.ConfigurationResponse, error) {
	rows, err := s.repo.Configuration.List(ctx)
	if err != nil {
		applogger.FromContext(ctx, s.logger).Error("读取配置失败", zap.Error(err))
		return nil, err
	}
	out := make([]dto.ConfigurationResponse, 0, len(rows))
	for i := range rows {
		out = append(out, toConfigurationResponse(&rows[i]))
	}
	return out, nil
}

func (s *configurationService) Get(ctx context.Context, key string) (*dto.ConfigurationResponse, error) {
	if !isKnownConfigKey(key) {
		return nil, ErrConfigKeyUnknown
	}
	row, err := s.repo.Configuration.Get(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConfigurationAbsent
		}
		return nil, err
	}
	resp := toConfigurationResponse(row)
	return &resp, nil
}

// ────────────────────── Update ──────────────────────

// Update 覆盖写入整个文档，按键校验结构（未知字段拒绝）
func (s *configurationService) Update(ctx context.Context, key string, value json.RawMessage, callerID string) (*dto.ConfigurationResponse, error) {
	var target interface{}
	switch key {
	case model.ConfigKeyFeatures:
		target = &FeatureFlags{}
	case model.ConfigKeyAPIKeys:
		target = &APIKeys{}
	case model.ConfigKeyNotifications:
		target = &NotificationSettings{}
	default:
		return nil, ErrConfigKeyUnknown
	}

	dec := json.NewDecoder(bytes.NewReader(value))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, ErrConfigValueInvalid
	}
	if n, ok := target.(*NotificationSettings); ok && n.LoanDueReminderDays < 0 {
		return nil, ErrConfigValueInvalid
	}

	normalized, err := json.Marshal(target)
	if err != nil {
		return nil, err
	}
	row := &model.Configuration{
		Key:       key,
		Value:     datatypes.JSON(normalized),
		BaseModel: model.BaseModel{CreatedBy: &callerID, UpdatedBy: &callerID},
	}
	if err := s.repo.Configuration.Upsert(ctx, row); err != nil {
		applogger.FromContext(ctx, s.logger).Error("写入配置失败", zap.String("key", key), zap.Error(err))
		return nil, err
	}

	applogger.FromContext(ctx, s.logger).Info("配置已更新", zap.String("key", key), zap.String("by", callerID))
	return s.Get(ctx, key)
}

// ── 辅助 ──

func isKnownConfigKey(key string) bool {
	return key == model.ConfigKeyFeatures || key == model.ConfigKeyAPIKeys || key == model.ConfigKeyNotifications
}

// toConfigurationResponse api_keys 的值只保留末 4 位
func toConfigurationResponse(row *model.Configuration) dto.ConfigurationResponse {
	value := json.RawMessage(row.Value)
	if row.Key == model.ConfigKeyAPIKeys {
		var keys map[string]string
		if err := json.Unmarshal(row.Value, &keys); err == nil {
			for k, v := range keys {
				keys[k] = maskSecret(v)
			}
			if b, err := json.Marshal(keys); err == nil {
				value = b
			}
		}
	}
	return dto.ConfigurationResponse{
		Key:       row.Key,
		Value:     value,
		UpdatedAt: formatTime(row.UpdatedAt),
	}
}

func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}
