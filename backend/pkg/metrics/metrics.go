package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 应用指标集合，独立 Registry 便于测试重复创建
// 所有方法对 nil 接收者安全
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	loansCreated  prometheus.Counter
	loansReturned prometheus.Counter
	dataDefects   *prometheus.CounterVec
	weatherProxy  *prometheus.CounterVec
}

// New 创建并注册全部指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP 请求总数",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP 请求耗时",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		loansCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loans_created_total",
			Help: "创建的借用记录数",
		}),
		loansReturned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loans_returned_total",
			Help: "归还的借用记录数",
		}),
		dataDefects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "material_data_quality_defects_total",
			Help: "器材数量字段缺失或非法、已回退默认值的次数",
		}, []string{"material_type"}),
		weatherProxy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_proxy_requests_total",
			Help: "天气代理请求数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpLatency,
		m.loansCreated, m.loansReturned,
		m.dataDefects, m.weatherProxy,
	)
	return m
}

// Handler /metrics 输出
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware 记录请求数与耗时，route 使用路由模板避免高基数
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// LoansCreated 借用创建计数
func (m *Metrics) LoansCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.loansCreated.Add(float64(n))
}

// LoansReturned 借用归还计数
func (m *Metrics) LoansReturned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.loansReturned.Add(float64(n))
}

// DataQualityDefect 数据缺陷计数
func (m *Metrics) DataQualityDefect(materialType string) {
	if m == nil {
		return
	}
	m.dataDefects.WithLabelValues(materialType).Inc()
}

// WeatherRequest 天气代理结果计数（hit / miss / error / disabled）
func (m *Metrics) WeatherRequest(result string) {
	if m == nil {
		return
	}
	m.weatherProxy.WithLabelValues(result).Inc()
}
