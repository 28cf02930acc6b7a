package dto

// ── 天气代理 DTO ──

// WeatherQuery 代理查询参数
type WeatherQuery struct {
	Endpoint string `form:"endpoint" binding:"required,max=300"`
	APIKey   string `form:"api_key"  binding:"omitempty,max=500"`
}

// WeatherStatusResponse 天气面板状态；enabled=false 时前端隐藏面板
type WeatherStatusResponse struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}
