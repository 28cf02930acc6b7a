package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"espeleo-club/backend/internal/dto"
	"espeleo-club/backend/internal/service"
	"espeleo-club/backend/pkg/response"
)

// WeatherHandler 天气代理 HTTP 处理器
type WeatherHandler struct {
	weatherSvc service.WeatherService
}

// NewWeatherHandler 创建 WeatherHandler
func NewWeatherHandler(weatherSvc service.WeatherService) *WeatherHandler {
	return &WeatherHandler{weatherSvc: weatherSvc}
}

// Proxy 转发 AEMET 请求，上游状态码与响应体原样返回
// GET /api/v1/weather?endpoint=/api/prediccion/...
func (h *WeatherHandler) Proxy(c *gin.Context) {
	var q dto.WeatherQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, 10001, "缺少 endpoint 参数")
		return
	}

	resp, err := h.weatherSvc.Proxy(c.Request.Context(), q.Endpoint, q.APIKey)
	if err != nil {
		h.handleWeatherError(c, err)
		return
	}

	c.Data(resp.StatusCode, resp.ContentType, resp.Body)
}

// Status 天气面板是否可用
// GET /api/v1/weather/status
func (h *WeatherHandler) Status(c *gin.Context) {
	st, err := h.weatherSvc.Status(c.Request.Context())
	if err != nil {
		h.handleWeatherError(c, err)
		return
	}

	response.OK(c, st)
}

func (h *WeatherHandler) handleWeatherError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrWeatherDisabled):
		response.ServiceUnavailable(c, 17001, "天气功能未启用", service.WeatherReasonDisabled)
	case errors.Is(err, service.ErrWeatherKeyMissing):
		response.ServiceUnavailable(c, 17002, "未配置气象服务密钥", service.WeatherReasonKeyMissing)
	case errors.Is(err, service.ErrWeatherEndpoint):
		response.BadRequest(c, 17003, "endpoint 必须是相对路径")
	case errors.Is(err, service.ErrWeatherUpstream):
		response.ErrorWithDetails(c, http.StatusBadGateway, 17004, "气象服务请求失败", "retryable")
	default:
		response.InternalError(c)
	}
}
