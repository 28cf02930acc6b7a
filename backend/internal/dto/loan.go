package dto

import "time"

// ── 借用模块 DTO ──

// LoanListRequest 借用列表查询参数
type LoanListRequest struct {
	PaginationRequest
	Status     string `form:"status"      binding:"omitempty,oneof=active returned overdue"`
	UserID     string `form:"user_id"     binding:"omitempty,uuid"`
	MaterialID string `form:"material_id" binding:"omitempty,uuid"`
	ActivityID string `form:"activity_id" binding:"omitempty,uuid"`
}

// CreateLoanRequest 独立借用（不关联活动）
type CreateLoanRequest struct {
	MaterialID string     `json:"material_id" binding:"required,uuid"`
	UserID     string     `json:"user_id"     binding:"omitempty,uuid"` // 为空时借给调用者
	Quantity   int        `json:"quantity"    binding:"required,min=1"`
	DueDate    *time.Time `json:"due_date"`
	Notes      string     `json:"notes"       binding:"omitempty,max=500"`
}

// ReturnLoanRequest 归还请求
type ReturnLoanRequest struct {
	Notes string `json:"notes" binding:"omitempty,max=500"`
}

// LoanResponse 借用响应；status 为读取时派生的状态
type LoanResponse struct {
	ID           string  `json:"id"`
	MaterialID   string  `json:"material_id"`
	MaterialName string  `json:"material_name,omitempty"`
	UserID       string  `json:"user_id"`
	UserName     string  `json:"user_name,omitempty"`
	ActivityID   *string `json:"activity_id,omitempty"`
	Quantity     int     `json:"quantity"`
	LoanDate     string  `json:"loan_date"`
	DueDate      string  `json:"due_date"`
	ReturnDate   *string `json:"return_date,omitempty"`
	Status       string  `json:"status"`
	Notes        string  `json:"notes"`
}
