package model

import "gorm.io/datatypes"

// 已知配置文档键
const (
	ConfigKeyFeatures      = "features"
	ConfigKeyAPIKeys       = "api_keys"
	ConfigKeyNotifications = "notifications"
)

// Configuration 配置文档表 — 对应 configuration（键 → JSON 文档）
type Configuration struct {
	Key   string         `gorm:"type:varchar(60);primaryKey"    json:"key"`
	Value datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"value"`
	BaseModel
}

// TableName 指定表名
func (Configuration) TableName() string { return "configuration" }
