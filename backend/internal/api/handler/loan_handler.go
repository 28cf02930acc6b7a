package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"espeleo-club/backend/internal/dto"
	"espeleo-club/backend/internal/service"
	pkgerrors "espeleo-club/backend/pkg/errors"
	"espeleo-club/backend/pkg/response"
)

// LoanHandler 借用模块 HTTP 处理器
type LoanHandler struct {
	loanSvc service.LoanService
}

// NewLoanHandler 创建 LoanHandler
func NewLoanHandler(loanSvc service.LoanService) *LoanHandler {
	return &LoanHandler{loanSvc: loanSvc}
}

// ListLoans 借用记录列表（器材管理员）
// GET /api/v1/loans
func (h *LoanHandler) ListLoans(c *gin.Context) {
	var req dto.LoanListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	list, total, err := h.loanSvc.List(c.Request.Context(), &req)
	if err != nil {
		h.handleLoanError(c, err)
		return
	}

	response.OKPage(c, list, total, req.GetPage(), req.GetPageSize())
}

// ListMyLoans 我的借用
// GET /api/v1/loans/my
func (h *LoanHandler) ListMyLoans(c *gin.Context) {
	var req dto.LoanListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	list, total, err := h.loanSvc.ListMine(c.Request.Context(), userID, &req)
	if err != nil {
		h.handleLoanError(c, err)
		return
	}

	response.OKPage(c, list, total, req.GetPage(), req.GetPageSize())
}

// GetLoan 借用详情
// GET /api/v1/loans/:id
func (h *LoanHandler) GetLoan(c *gin.Context) {
	callerID, role, ok := MustGetCaller(c)
	if !ok {
		return
	}

	loan, err := h.loanSvc.GetByID(c.Request.Context(), c.Param("id"), callerID, role)
	if err != nil {
		h.handleLoanError(c, err)
		return
	}

	response.OK(c, loan)
}

// CreateLoan 独立借用（不关联活动）
// POST /api/v1/loans
func (h *LoanHandler) CreateLoan(c *gin.Context) {
	var req dto.CreateLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	loan, err := h.loanSvc.Create(c.Request.Context(), &req, callerID)
	if err != nil {
		h.handleLoanError(c, err)
		return
	}

	response.Created(c, loan)
}

// ReturnLoan 归还（幂等）
// POST /api/v1/loans/:id/return
func (h *LoanHandler) ReturnLoan(c *gin.Context) {
	var req dto.ReturnLoanRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, 10001, "参数校验失败")
			return
		}
	}

	callerID, role, ok := MustGetCaller(c)
	if !ok {
		return
	}

	loan, err := h.loanSvc.Return(c.Request.Context(), c.Param("id"), &req, callerID, role)
	if err != nil {
		h.handleLoanError(c, err)
		return
	}

	response.OK(c, loan)
}

// handleLoanError 统一处理借用模块业务错误
func (h *LoanHandler) handleLoanError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrLoanNotFound):
		response.NotFound(c, 14001, "借用记录不存在")
	case errors.Is(err, service.ErrLoanForbidden):
		response.Forbidden(c, 14002, "无权查看或操作该借用记录")
	case errors.Is(err, service.ErrInsufficientStock):
		response.Conflict(c, 14003, "器材可用数量不足")
	case errors.Is(err, service.ErrMaterialNotLendable):
		response.Conflict(c, 14004, "器材当前状态不可借出")
	case errors.Is(err, service.ErrDueDateInPast):
		response.BadRequest(c, 14005, "预计归还日期不能早于当前时间")
	case errors.Is(err, service.ErrBorrowerAbsent):
		response.BadRequest(c, 14006, "借用人不存在")
	case errors.Is(err, service.ErrMaterialNotFound):
		response.NotFound(c, 13001, "器材不存在")
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, 14007, pkgerrors.ErrOptimisticLock.Error())
	default:
		response.InternalError(c)
	}
}
