package dto

// ── 器材模块 DTO ──

// MaterialListRequest 器材列表查询参数
type MaterialListRequest struct {
	PaginationRequest
	Type   string `form:"type"   binding:"omitempty,oneof=rope anchor misc"`
	State  string `form:"state"  binding:"omitempty,oneof=available unavailable review"`
	Search string `form:"search" binding:"omitempty,max=100"`
}

// CreateMaterialRequest 创建器材请求
type CreateMaterialRequest struct {
	Name          string `json:"name"           binding:"required,max=150"`
	Code          string `json:"code"           binding:"omitempty,max=60"`
	Description   string `json:"description"    binding:"omitempty,max=2000"`
	Type          string `json:"type"           binding:"required,oneof=rope anchor misc"`
	TotalQuantity *int   `json:"total_quantity" binding:"required,min=0"`
}

// UpdateMaterialRequest 更新器材请求（带乐观锁版本号）
type UpdateMaterialRequest struct {
	Version       int     `json:"version"        binding:"required,min=1"`
	Name          *string `json:"name"           binding:"omitempty,max=150"`
	Code          *string `json:"code"           binding:"omitempty,max=60"`
	Description   *string `json:"description"    binding:"omitempty,max=2000"`
	Type          *string `json:"type"           binding:"omitempty,oneof=rope anchor misc"`
	TotalQuantity *int    `json:"total_quantity" binding:"omitempty,min=0"`
}

// ChangeMaterialStateRequest 器材状态迁移请求（器材不物理删除）
type ChangeMaterialStateRequest struct {
	Version int    `json:"version" binding:"required,min=1"`
	State   string `json:"state"   binding:"required,oneof=available unavailable review"`
}

// MaterialResponse 器材响应；available_quantity 总是非负整数
type MaterialResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Code              string `json:"code"`
	Description       string `json:"description"`
	Type              string `json:"type"`
	State             string `json:"state"`
	TotalQuantity     int    `json:"total_quantity"`
	AvailableQuantity int    `json:"available_quantity"`
	DataQualityIssue  bool   `json:"data_quality_issue"`
	Version           int    `json:"version"`
	UpdatedAt         string `json:"updated_at"`
}

// RecalculateResponse 可用数量修复结果
type RecalculateResponse struct {
	Checked   int      `json:"checked"`
	Updated   int      `json:"updated"`
	Defective []string `json:"defective,omitempty"`
}

// ImportMaterialResponse 器材导入结果
type ImportMaterialResponse struct {
	Total   int           `json:"total"`
	Created int           `json:"created"`
	Updated int           `json:"updated"`
	Failed  int           `json:"failed"`
	Errors  []ImportError `json:"errors,omitempty"`
}

// ImportError 导入错误详情
type ImportError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}
