package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"espeleo-club/backend/config"
	"espeleo-club/backend/internal/api/handler"
	"espeleo-club/backend/internal/api/middleware"
	"espeleo-club/backend/internal/model"
	"espeleo-club/backend/pkg/jwt"
	"espeleo-club/backend/pkg/metrics"
	"espeleo-club/backend/pkg/redis"
)

// Setup 初始化并返回 Gin 路由引擎
// db / rdb / m 均可为 nil（测试或降级运行）
func Setup(
	cfg *config.Config,
	h *handler.Handler,
	jwtMgr *jwt.Manager,
	rdb *redis.Client,
	db *gorm.DB,
	m *metrics.Metrics,
	logger *zap.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(cfg.Server.BodyLimit, map[string]int64{
		"/api/v1/materials/import": cfg.Server.ImportBodyLimit,
	}))
	r.Use(m.Middleware())

	// ── 健康检查 / 指标 ──
	r.GET("/health", healthHandler(db, rdb))
	if m != nil && cfg.Metrics.Enabled {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	var limiter middleware.RateLimiter
	if rdb != nil {
		limiter = rdb
	}

	staff := middleware.RoleAuth(model.RoleAdmin, model.RoleMaterialManager)
	admin := middleware.RoleAuth(model.RoleAdmin)

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 认证模块（无需认证）
		auth := v1.Group("/auth")
		{
			auth.POST("/login", middleware.RateLimit(limiter, "login", 10, time.Minute, logger), h.Auth.Login)
			auth.POST("/refresh", h.Auth.RefreshToken)
		}

		// 天气代理（应用密钥 + 按 IP 限流）
		weather := v1.Group("/weather")
		{
			weather.GET("/status", h.Weather.Status)
			weather.GET("",
				middleware.AppKey(cfg.Weather.AppKey),
				middleware.RateLimit(limiter, "weather", cfg.Weather.RateLimit, time.Minute, logger),
				h.Weather.Proxy,
			)
		}

		// 需要认证的路由
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(jwtMgr, rdb, logger))
		{
			authorized.POST("/auth/logout", h.Auth.Logout)
			authorized.GET("/auth/me", h.Auth.GetCurrentUser)
			authorized.PUT("/auth/password", h.Auth.ChangePassword)

			// 成员模块
			users := authorized.Group("/users")
			{
				users.GET("", h.User.ListUsers)
				users.GET("/:id", h.User.GetUser)
				users.POST("", admin, h.User.CreateUser)
				users.PUT("/:id", h.User.UpdateUser) // admin 或本人（Service 层鉴权）
				users.PUT("/:id/role", admin, h.User.AssignRole)
				users.DELETE("/:id", admin, h.User.DeleteUser)
			}

			// 器材模块
			materials := authorized.Group("/materials")
			{
				materials.GET("", h.Material.ListMaterials)
				materials.GET("/:id", h.Material.GetMaterial)
				materials.POST("", staff, h.Material.CreateMaterial)
				materials.PUT("/:id", staff, h.Material.UpdateMaterial)
				materials.PUT("/:id/state", staff, h.Material.ChangeState)
				materials.POST("/recalculate", staff, h.Material.Recalculate)
				materials.POST("/import", staff, h.Material.ImportMaterials)
			}

			// 借用模块
			loans := authorized.Group("/loans")
			{
				loans.GET("", staff, h.Loan.ListLoans)
				loans.GET("/my", h.Loan.ListMyLoans)
				loans.GET("/:id", h.Loan.GetLoan)
				loans.POST("", h.Loan.CreateLoan)
				loans.POST("/:id/return", h.Loan.ReturnLoan)
			}

			// 活动模块
			activities := authorized.Group("/activities")
			{
				activities.GET("", h.Activity.ListActivities)
				activities.GET("/calendar.ics", h.Activity.ExportCalendar)
				activities.GET("/:id", h.Activity.GetActivity)
				activities.POST("", h.Activity.CreateActivity)
				activities.PUT("/:id", h.Activity.UpdateActivity)
				activities.POST("/:id/cancel", h.Activity.CancelActivity)
			}

			// 活动表单草稿
			drafts := authorized.Group("/activity-drafts")
			{
				drafts.POST("", h.Draft.CreateDraft)
				drafts.GET("/:id", h.Draft.GetDraft)
				drafts.PATCH("/:id", h.Draft.UpdateDraft)
				drafts.POST("/:id/navigate", h.Draft.Navigate)
				drafts.PUT("/:id/materials", h.Draft.SetMaterials)
				drafts.GET("/:id/selection", h.Draft.Selection)
				drafts.POST("/:id/submit", h.Draft.Submit)
				drafts.DELETE("/:id", h.Draft.Discard)
			}

			// 配置模块
			configuration := authorized.Group("/configuration")
			{
				configuration.GET("/features", h.Configuration.GetFeatures)
				configuration.GET("", admin, h.Configuration.ListConfigurations)
				configuration.GET("/:key", admin, h.Configuration.GetConfiguration)
				configuration.PUT("/:key", admin, h.Configuration.UpdateConfiguration)
			}

			// 导出模块
			export := authorized.Group("/export")
			{
				export.GET("/loans", staff, h.Export.ExportLoans)
			}
		}
	}

	return r
}

// healthHandler 检查数据库与 Redis 连通性；Redis 不可用只降级不报错
func healthHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{"status": "ok", "database": "skipped", "redis": "skipped"}
		code := http.StatusOK

		if db != nil {
			status["database"] = "ok"
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(ctx)
			}
			if err != nil {
				status["status"] = "unavailable"
				status["database"] = "down"
				code = http.StatusServiceUnavailable
			}
		}
		if rdb != nil {
			status["redis"] = "ok"
			if err := rdb.Ping(ctx); err != nil {
				status["redis"] = "degraded"
			}
		}

		c.JSON(code, status)
	}
}
