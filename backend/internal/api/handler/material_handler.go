package handler

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"espeleo-club/backend/internal/api/middleware"
	"espeleo-club/backend/internal/dto"
	"espeleo-club/backend/internal/service"
	pkgerrors "espeleo-club/backend/pkg/errors"
	"espeleo-club/backend/pkg/response"
)

// maxImportSize 导入文件上限
const maxImportSize = 5 << 20

// MaterialHandler 器材模块 HTTP 处理器
type MaterialHandler struct {
	materialSvc service.MaterialService
}

// NewMaterialHandler 创建 MaterialHandler
func NewMaterialHandler(materialSvc service.MaterialService) *MaterialHandler {
	return &MaterialHandler{materialSvc: materialSvc}
}

// ListMaterials 器材列表
// GET /api/v1/materials
func (h *MaterialHandler) ListMaterials(c *gin.Context) {
	var req dto.MaterialListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	list, total, err := h.materialSvc.List(c.Request.Context(), &req)
	if err != nil {
		h.handleMaterialError(c, err)
		return
	}

	response.OKPage(c, list, total, req.GetPage(), req.GetPageSize())
}

// GetMaterial 器材详情
// GET /api/v1/materials/:id
func (h *MaterialHandler) GetMaterial(c *gin.Context) {
	m, err := h.materialSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleMaterialError(c, err)
		return
	}

	response.OK(c, m)
}

// CreateMaterial 新增器材
// POST /api/v1/materials
func (h *MaterialHandler) CreateMaterial(c *gin.Context) {
	var req dto.CreateMaterialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	m, err := h.materialSvc.Create(c.Request.Context(), &req, callerID)
	if err != nil {
		h.handleMaterialError(c, err)
		return
	}

	response.Created(c, m)
}

// UpdateMaterial 更新器材（管理员调整总量后重算可用数量）
// PUT /api/v1/materials/:id
func (h *MaterialHandler) UpdateMaterial(c *gin.Context) {
	var req dto.UpdateMaterialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	m, err := h.materialSvc.Update(c.Request.Context(), c.Param("id"), &req, callerID)
	if err != nil {
		h.handleMaterialError(c, err)
		return
	}

	response.OK(c, m)
}

// ChangeState 器材状态流转
// PUT /api/v1/materials/:id/state
func (h *MaterialHandler) ChangeState(c *gin.Context) {
	var req dto.ChangeMaterialStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	m, err := h.materialSvc.ChangeState(c.Request.Context(), c.Param("id"), &req, callerID)
	if err != nil {
		h.handleMaterialError(c, err)
		return
	}

	response.OK(c, m)
}

// Recalculate 按未归还借用重算全部器材的可用数量
// POST /api/v1/materials/recalculate
func (h *MaterialHandler) Recalculate(c *gin.Context) {
	result, err := h.materialSvc.Recalculate(c.Request.Context())
	if err != nil {
		h.handleMaterialError(c, err)
		return
	}

	response.OK(c, result)
}

// ImportMaterials 从 .xlsx 导入库存（按编码新增或更新）
// POST /api/v1/materials/import
func (h *MaterialHandler) ImportMaterials(c *gin.Context) {
	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if middleware.IsBodyTooLarge(err) {
		middleware.RejectBodyTooLarge(c)
		return
	}
	if err != nil {
		response.BadRequest(c, 13005, "请上传 .xlsx 文件")
		return
	}
	defer file.Close()

	if header.Size > maxImportSize || !strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") {
		response.BadRequest(c, 13005, "请上传不超过 5MB 的 .xlsx 文件")
		return
	}

	rows, err := h.materialSvc.ParseImportFile(file)
	if err != nil {
		h.handleMaterialError(c, err)
		return
	}

	result, err := h.materialSvc.ImportMaterials(c.Request.Context(), rows, callerID)
	if err != nil {
		h.handleMaterialError(c, err)
		return
	}

	response.OK(c, result)
}

// handleMaterialError 统一处理器材模块业务错误
func (h *MaterialHandler) handleMaterialError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrMaterialNotFound):
		response.NotFound(c, 13001, "器材不存在")
	case errors.Is(err, service.ErrMaterialTotalBelowLent):
		response.BadRequest(c, 13002, "总量不能小于当前借出数量")
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, 13003, pkgerrors.ErrOptimisticLock.Error())
	case errors.Is(err, service.ErrCatalogUnavailable):
		response.ServiceUnavailable(c, 13004, "器材目录暂不可用", "retryable")
	case errors.Is(err, service.ErrImportFileInvalid):
		response.BadRequest(c, 13005, "导入文件格式错误")
	default:
		response.InternalError(c)
	}
}
