package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"espeleo-club/backend/config"
	"espeleo-club/backend/internal/activityform"
	"espeleo-club/backend/internal/api/handler"
	"espeleo-club/backend/internal/api/router"
	"espeleo-club/backend/internal/repository"
	"espeleo-club/backend/internal/service"
	"espeleo-club/backend/pkg/database"
	"espeleo-club/backend/pkg/jwt"
	applogger "espeleo-club/backend/pkg/logger"
	"espeleo-club/backend/pkg/metrics"
	"espeleo-club/backend/pkg/redis"
	"espeleo-club/backend/pkg/weather"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（默认 ./config/config.yaml）")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 连接数据库
	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	logger.Info("数据库连接成功")

	// 3.1 执行数据库迁移
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("获取底层 sql.DB 失败", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	// 4. 连接 Redis（草稿存储依赖 Redis，连接失败时终止启动）
	rdb, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Redis 连接失败", zap.Error(err))
	}

	// 5. 初始化 JWT 管理器与指标
	jwtMgr := jwt.NewManager(&cfg.Auth)
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// 6. 依赖注入: Repository → Service → Handler
	repo := repository.NewRepository(db)
	svc := service.NewService(cfg, repo, jwtMgr, service.Deps{
		Blacklist:     rdb,
		Drafts:        activityform.NewRedisStore(rdb, cfg.Loan.DraftTTL),
		WeatherClient: weather.NewClient(&cfg.Weather),
		WeatherCache:  rdb,
		Metrics:       m,
	}, logger)
	h := handler.NewHandler(cfg, svc)

	// 7. 启动时校正可用数量，修复历史数据
	if result, err := svc.Material.Recalculate(context.Background()); err != nil {
		logger.Warn("启动时重算可用数量失败", zap.Error(err))
	} else if result.Updated > 0 || len(result.Defective) > 0 {
		logger.Info("已校正器材可用数量",
			zap.Int("updated", result.Updated),
			zap.Strings("defective", result.Defective),
		)
	}

	// 8. 初始化路由
	engine := router.Setup(cfg, h, jwtMgr, rdb, db, m, logger)

	// 9. 启动 HTTP 服务器（优雅关闭）
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 10. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	if err := sqlDB.Close(); err != nil {
		logger.Error("关闭数据库连接失败", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		logger.Error("关闭 Redis 连接失败", zap.Error(err))
	}

	logger.Info("服务器已关闭")
}
