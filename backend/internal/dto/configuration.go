package dto

import "encoding/json"

// ── 配置模块 DTO ──

// FeaturesResponse 功能开关（任何成员可读）
type FeaturesResponse struct {
	WeatherEnabled   bool `json:"weather_enabled"`
	AnalyticsEnabled bool `json:"analytics_enabled"`
}

// ConfigurationResponse 配置文档；api_keys 中的值已脱敏
type ConfigurationResponse struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt string          `json:"updated_at"`
}

// UpdateConfigurationRequest 覆盖写入配置文档
type UpdateConfigurationRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}
