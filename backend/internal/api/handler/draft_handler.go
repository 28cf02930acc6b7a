package handler

import (
	"github.com/gin-gonic/gin"

	"espeleo-club/backend/internal/activityform"
	"espeleo-club/backend/internal/dto"
	"espeleo-club/backend/internal/service"
	"espeleo-club/backend/pkg/response"
)

// DraftHandler 活动表单草稿 HTTP 处理器
type DraftHandler struct {
	draftSvc service.DraftService
}

// NewDraftHandler 创建 DraftHandler
func NewDraftHandler(draftSvc service.DraftService) *DraftHandler {
	return &DraftHandler{draftSvc: draftSvc}
}

// CreateDraft 新建草稿；带 activity_id 时载入已有活动进行编辑
// POST /api/v1/activity-drafts
func (h *DraftHandler) CreateDraft(c *gin.Context) {
	var req dto.CreateDraftRequest
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

	d, err := h.draftSvc.Create(c.Request.Context(), &req, callerID, role)
	if err != nil {
		handleActivityError(c, err, nil)
		return
	}

	response.Created(c, d)
}

// GetDraft 读取草稿
// GET /api/v1/activity-drafts/:id
func (h *DraftHandler) GetDraft(c *gin.Context) {
	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	d, err := h.draftSvc.Get(c.Request.Context(), c.Param("id"), callerID)
	if err != nil {
		handleActivityError(c, err, nil)
		return
	}

	response.OK(c, d)
}

// UpdateDraft 局部更新草稿字段
// PATCH /api/v1/activity-drafts/:id
func (h *DraftHandler) UpdateDraft(c *gin.Context) {
	var patch activityform.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	d, err := h.draftSvc.Update(c.Request.Context(), c.Param("id"), &patch, callerID)
	if err != nil {
		handleActivityError(c, err, nil)
		return
	}

	response.OK(c, d)
}

// Navigate 页签切换；校验失败返回 422 并携带停留在原页签的草稿
// POST /api/v1/activity-drafts/:id/navigate
func (h *DraftHandler) Navigate(c *gin.Context) {
	var req dto.NavigateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	d, err := h.draftSvc.Navigate(c.Request.Context(), c.Param("id"), &req, callerID)
	if err != nil {
		var data interface{}
		if d != nil {
			data = d
		}
		handleActivityError(c, err, data)
		return
	}

	response.OK(c, d)
}

// SetMaterials 替换器材清单，needs_material 随之重算
// PUT /api/v1/activity-drafts/:id/materials
func (h *DraftHandler) SetMaterials(c *gin.Context) {
	var req dto.SetDraftMaterialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	result, err := h.draftSvc.SetMaterials(c.Request.Context(), c.Param("id"), &req, callerID)
	if err != nil {
		handleActivityError(c, err, nil)
		return
	}

	response.OK(c, result)
}

// Selection 器材选择视图；tab / search 缺省时沿用草稿中保存的值
// GET /api/v1/activity-drafts/:id/selection?tab=rope&search=cuerda
func (h *DraftHandler) Selection(c *gin.Context) {
	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var tab, search *string
	if v, exists := c.GetQuery("tab"); exists {
		tab = &v
	}
	if v, exists := c.GetQuery("search"); exists {
		search = &v
	}

	view, err := h.draftSvc.Selection(c.Request.Context(), c.Param("id"), tab, search, callerID)
	if err != nil {
		handleActivityError(c, err, nil)
		return
	}

	response.OK(c, view)
}

// Submit 提交草稿，成功后草稿删除
// POST /api/v1/activity-drafts/:id/submit
func (h *DraftHandler) Submit(c *gin.Context) {
	callerID, role, ok := MustGetCaller(c)
	if !ok {
		return
	}

	a, err := h.draftSvc.Submit(c.Request.Context(), c.Param("id"), callerID, role)
	if err != nil {
		handleActivityError(c, err, nil)
		return
	}

	response.OK(c, a)
}

// Discard 放弃草稿
// DELETE /api/v1/activity-drafts/:id
func (h *DraftHandler) Discard(c *gin.Context) {
	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	if err := h.draftSvc.Discard(c.Request.Context(), c.Param("id"), callerID); err != nil {
		handleActivityError(c, err, nil)
		return
	}

	response.OK(c, nil)
}
