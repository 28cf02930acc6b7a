package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"espeleo-club/backend/internal/dto"
	"espeleo-club/backend/internal/service"
	"espeleo-club/backend/pkg/response"
)

// ConfigurationHandler 配置模块 HTTP 处理器
type ConfigurationHandler struct {
	configSvc service.ConfigurationService
}

// NewConfigurationHandler 创建 ConfigurationHandler
func NewConfigurationHandler(configSvc service.ConfigurationService) *ConfigurationHandler {
	return &ConfigurationHandler{configSvc: configSvc}
}

// GetFeatures 功能开关（所有成员可读）
// GET /api/v1/configuration/features
func (h *ConfigurationHandler) GetFeatures(c *gin.Context) {
	f, err := h.configSvc.Features(c.Request.Context())
	if err != nil {
		h.handleConfigError(c, err)
		return
	}

	response.OK(c, f)
}

// ListConfigurations 全部配置项（管理员）
// GET /api/v1/configuration
func (h *ConfigurationHandler) ListConfigurations(c *gin.Context) {
	list, err := h.configSvc.List(c.Request.Context())
	if err != nil {
		h.handleConfigError(c, err)
		return
	}

	response.OK(c, gin.H{"list": list})
}

// GetConfiguration 单个配置项
// GET /api/v1/configuration/:key
func (h *ConfigurationHandler) GetConfiguration(c *gin.Context) {
	row, err := h.configSvc.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.handleConfigError(c, err)
		return
	}

	response.OK(c, row)
}

// UpdateConfiguration 覆盖写入配置文档
// PUT /api/v1/configuration/:key
func (h *ConfigurationHandler) UpdateConfiguration(c *gin.Context) {
	var req dto.UpdateConfigurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	row, err := h.configSvc.Update(c.Request.Context(), c.Param("key"), req.Value, callerID)
	if err != nil {
		h.handleConfigError(c, err)
		return
	}

	response.OK(c, row)
}

func (h *ConfigurationHandler) handleConfigError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrConfigKeyUnknown):
		response.NotFound(c, 16001, "未知配置项")
	case errors.Is(err, service.ErrConfigurationAbsent):
		response.NotFound(c, 16002, "配置项不存在")
	case errors.Is(err, service.ErrConfigValueInvalid):
		response.BadRequest(c, 16003, "配置值格式错误")
	default:
		response.InternalError(c)
	}
}
