package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"espeleo-club/backend/internal/dto"
	"espeleo-club/backend/internal/service"
	pkgerrors "espeleo-club/backend/pkg/errors"
	"espeleo-club/backend/pkg/response"
)

// ActivityHandler 活动模块 HTTP 处理器
type ActivityHandler struct {
	activitySvc service.ActivityService
}

// NewActivityHandler 创建 ActivityHandler
func NewActivityHandler(activitySvc service.ActivityService) *ActivityHandler {
	return &ActivityHandler{activitySvc: activitySvc}
}

// ListActivities 活动列表
// GET /api/v1/activities
func (h *ActivityHandler) ListActivities(c *gin.Context) {
	var req dto.ActivityListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	list, total, err := h.activitySvc.List(c.Request.Context(), &req, callerID)
	if err != nil {
		handleActivityError(c, err, nil)
		return
	}

	response.OKPage(c, list, total, req.GetPage(), req.GetPageSize())
}

// GetActivity 活动详情
// GET /api/v1/activities/:id
func (h *ActivityHandler) GetActivity(c *gin.Context) {
	a, err := h.activitySvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleActivityError(c, err, nil)
		return
	}

	response.OK(c, a)
}

// CreateActivity 直接提交整张表单（与草稿提交走同一保存路径）
// POST /api/v1/activities
func (h *ActivityHandler) CreateActivity(c *gin.Context) {
	h.save(c, "")
}

// UpdateActivity 修改活动，version 用于并发冲突检测
// PUT /api/v1/activities/:id
func (h *ActivityHandler) UpdateActivity(c *gin.Context) {
	h.save(c, c.Param("id"))
}

func (h *ActivityHandler) save(c *gin.Context, id string) {
	var req dto.SaveActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, role, ok := MustGetCaller(c)
	if !ok {
		return
	}

	a, err := h.activitySvc.Save(c.Request.Context(), id, &req, callerID, role)
	if err != nil {
		handleActivityError(c, err, nil)
		return
	}

	if id == "" {
		response.Created(c, a)
		return
	}
	response.OK(c, a)
}

// CancelActivity 取消活动并归还全部未归还借用
// POST /api/v1/activities/:id/cancel
func (h *ActivityHandler) CancelActivity(c *gin.Context) {
	callerID, role, ok := MustGetCaller(c)
	if !ok {
		return
	}

	a, err := h.activitySvc.Cancel(c.Request.Context(), c.Param("id"), callerID, role)
	if err != nil {
		handleActivityError(c, err, nil)
		return
	}

	response.OK(c, a)
}

// ExportCalendar 导出活动日历
// GET /api/v1/activities/calendar.ics?from=2026-01-01&to=2026-12-31
func (h *ActivityHandler) ExportCalendar(c *gin.Context) {
	from, err := parseDateQuery(c, "from")
	if err != nil {
		response.BadRequest(c, 10001, "from 日期格式应为 YYYY-MM-DD")
		return
	}
	to, err := parseDateQuery(c, "to")
	if err != nil {
		response.BadRequest(c, 10001, "to 日期格式应为 YYYY-MM-DD")
		return
	}

	body, err := h.activitySvc.ExportCalendar(c.Request.Context(), from, to)
	if err != nil {
		handleActivityError(c, err, nil)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=actividades_%s.ics", time.Now().Format("20060102")))
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", body)
}

func parseDateQuery(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// handleActivityError 活动与草稿共用的业务错误映射
// 校验失败时 data 随 422 一并返回（草稿导航失败时为当前草稿）
func handleActivityError(c *gin.Context, err error, data interface{}) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		if data == nil {
			data = gin.H{"tab": verr.Tab, "errors": verr.Fields}
		}
		response.UnprocessableEntity(c, 15002, verr.Error(), data)
		return
	}

	switch {
	case errors.Is(err, service.ErrActivityNotFound):
		response.NotFound(c, 15001, "活动不存在")
	case errors.Is(err, service.ErrActivityForbidden):
		response.Forbidden(c, 15003, "无权修改该活动")
	case errors.Is(err, service.ErrActivityCancelled):
		response.Conflict(c, 15004, "活动已取消")
	case errors.Is(err, service.ErrUserReferenceInvalid):
		response.BadRequest(c, 15005, "参与者或负责人不存在")
	case errors.Is(err, service.ErrDraftNotFound):
		response.NotFound(c, 15006, "草稿不存在或已过期")
	case errors.Is(err, service.ErrDraftForbidden):
		response.Forbidden(c, 15007, "无权访问该草稿")
	case errors.Is(err, service.ErrInvalidTab):
		response.BadRequest(c, 15008, "未知页签")
	case errors.Is(err, service.ErrInvalidSelectionTab):
		response.BadRequest(c, 15009, "未知器材分组")
	case errors.Is(err, service.ErrCatalogUnavailable):
		response.ServiceUnavailable(c, 15010, "器材目录暂不可用", "retryable")
	case errors.Is(err, service.ErrInsufficientStock):
		response.Conflict(c, 14003, "器材可用数量不足")
	case errors.Is(err, service.ErrMaterialNotLendable):
		response.Conflict(c, 14004, "器材当前状态不可借出")
	case errors.Is(err, service.ErrMaterialNotFound):
		response.NotFound(c, 13001, "器材不存在")
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, 15011, pkgerrors.ErrOptimisticLock.Error())
	default:
		response.InternalError(c)
	}
}
