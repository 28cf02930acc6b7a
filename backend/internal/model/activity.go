package model

import (
	"time"

	"gorm.io/datatypes"
)

// 活动状态
const (
	ActivityStatusPlanned   = "planned"
	ActivityStatusCancelled = "cancelled"
	ActivityStatusFinished  = "finished"
)

// Activity 活动表 — 对应 activities
// 是否需要器材不落库，由 NeedsMaterial 派生
type Activity struct {
	ActivityID            string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"activity_id"`
	Name                  string         `gorm:"type:varchar(200);not null"                     json:"name"`
	Place                 string         `gorm:"type:varchar(200);not null"                     json:"place"`
	Description           string         `gorm:"type:text;not null;default:''"                  json:"description"`
	Type                  StringArray    `gorm:"type:text[];not null"                           json:"type"`
	Subtype               StringArray    `gorm:"type:text[];not null"                           json:"subtype"`
	StartDate             time.Time      `gorm:"not null"                                       json:"start_date"`
	EndDate               time.Time      `gorm:"not null"                                       json:"end_date"`
	CreatorID             string         `gorm:"type:uuid;not null"                             json:"creator_id"`
	ResponsibleActivityID *string        `gorm:"type:uuid"                                      json:"responsible_activity_id,omitempty"`
	ResponsibleMaterialID *string        `gorm:"type:uuid"                                      json:"responsible_material_id,omitempty"`
	ParticipantIDs        StringArray    `gorm:"type:text[];not null"                           json:"participant_ids"`
	Status                string         `gorm:"type:varchar(20);not null;default:'planned'"    json:"status"`
	Links                 datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"               json:"links"`
	VersionedBaseModel

	// 关联
	Materials []ActivityMaterial `gorm:"foreignKey:ActivityID;references:ActivityID" json:"materials,omitempty"`
}

// TableName 指定表名
func (Activity) TableName() string { return "activities" }

// NeedsMaterial 有器材负责人且器材清单非空
func (a *Activity) NeedsMaterial() bool {
	return a.ResponsibleMaterialID != nil && *a.ResponsibleMaterialID != "" && len(a.Materials) > 0
}

// ActivityMaterial 活动器材明细 — 对应 activity_materials
type ActivityMaterial struct {
	ActivityID string `gorm:"type:uuid;primaryKey" json:"activity_id"`
	MaterialID string `gorm:"type:uuid;primaryKey" json:"material_id"`
	Quantity   int    `gorm:"not null"             json:"quantity"`

	Material *Material `gorm:"foreignKey:MaterialID;references:MaterialID" json:"material,omitempty"`
}

// TableName 指定表名
func (ActivityMaterial) TableName() string { return "activity_materials" }
