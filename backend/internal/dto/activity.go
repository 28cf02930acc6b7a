package dto

import (
	"time"

	"espeleo-club/backend/internal/activityform"
)

// ── 活动模块 DTO ──

// ActivityListRequest 活动列表查询参数
type ActivityListRequest struct {
	PaginationRequest
	Status  string     `form:"status"  binding:"omitempty,oneof=planned cancelled finished"`
	Keyword string     `form:"keyword" binding:"omitempty,max=100"`
	Mine    bool       `form:"mine"`
	From    *time.Time `form:"from"    time_format:"2006-01-02"`
	To      *time.Time `form:"to"      time_format:"2006-01-02"`
}

// SaveActivityRequest 直接保存活动（与草稿提交走同一条路径）
// needs_material 不可写，由负责人与器材清单派生
type SaveActivityRequest struct {
	Version               int                         `json:"version"`
	Name                  string                      `json:"name"`
	Place                 string                      `json:"place"`
	Description           string                      `json:"description"`
	Type                  activityform.TagList        `json:"type"`
	Subtype               activityform.TagList        `json:"subtype"`
	StartDate             *time.Time                  `json:"start_date"`
	EndDate               *time.Time                  `json:"end_date"`
	ResponsibleActivityID string                      `json:"responsible_activity_id"`
	ResponsibleMaterialID string                      `json:"responsible_material_id"`
	ParticipantIDs        []string                    `json:"participant_ids"`
	Materials             []activityform.MaterialLine `json:"materials"`
	Links                 []activityform.Link         `json:"links"`
}

// ActivityMaterialResponse 活动器材明细
type ActivityMaterialResponse struct {
	MaterialID string `json:"material_id"`
	Name       string `json:"name,omitempty"`
	Type       string `json:"type,omitempty"`
	Quantity   int    `json:"quantity"`
}

// ActivityResponse 活动响应
type ActivityResponse struct {
	ID                    string                     `json:"id"`
	Name                  string                     `json:"name"`
	Place                 string                     `json:"place"`
	Description           string                     `json:"description"`
	Type                  []string                   `json:"type"`
	Subtype               []string                   `json:"subtype"`
	StartDate             string                     `json:"start_date"`
	EndDate               string                     `json:"end_date"`
	CreatorID             string                     `json:"creator_id"`
	ResponsibleActivityID *string                    `json:"responsible_activity_id,omitempty"`
	ResponsibleMaterialID *string                    `json:"responsible_material_id,omitempty"`
	ParticipantIDs        []string                   `json:"participant_ids"`
	Status                string                     `json:"status"`
	NeedsMaterial         bool                       `json:"needs_material"`
	Materials             []ActivityMaterialResponse `json:"materials"`
	Links                 []activityform.Link        `json:"links"`
	Version               int                        `json:"version"`
	Notices               []activityform.Notice      `json:"notices,omitempty"`
}

// ── 活动草稿 ──

// CreateDraftRequest 新建草稿；activity_id 非空时从已有活动载入
type CreateDraftRequest struct {
	ActivityID string `json:"activity_id" binding:"omitempty,uuid"`
}

// NavigateDraftRequest 页签导航
type NavigateDraftRequest struct {
	Action string `json:"action" binding:"required,oneof=next previous goto"`
	Tab    string `json:"tab"    binding:"omitempty,oneof=info participants material links"`
}

// SetDraftMaterialsRequest 替换草稿器材清单
type SetDraftMaterialsRequest struct {
	Materials []activityform.MaterialLine `json:"materials"`
}

// DraftResponse 草稿响应，附带派生的 needs_material
type DraftResponse struct {
	*activityform.Draft
	NeedsMaterial bool `json:"needs_material"`
}

// SetDraftMaterialsResponse 器材清单更新结果
type SetDraftMaterialsResponse struct {
	Draft  DraftResponse        `json:"draft"`
	Notice *activityform.Notice `json:"notice,omitempty"`
}
