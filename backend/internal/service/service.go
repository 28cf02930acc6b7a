package service

import (
	"go.uber.org/zap"

	"espeleo-club/backend/config"
	"espeleo-club/backend/internal/activityform"
	"espeleo-club/backend/internal/repository"
	"espeleo-club/backend/pkg/jwt"
	"espeleo-club/backend/pkg/metrics"
)

// Deps 外部基础设施依赖（Redis、上游客户端、指标）
type Deps struct {
	Blacklist     TokenBlacklist
	Drafts        activityform.DraftStore
	WeatherClient WeatherFetcher
	WeatherCache  WeatherCache
	Metrics       *metrics.Metrics
}

// Service 所有 Service 的聚合入口
type Service struct {
	Auth          AuthService
	User          UserService
	Material      MaterialService
	Loan          LoanService
	Activity      ActivityService
	Draft         DraftService
	Configuration ConfigurationService
	Weather       WeatherService
	Export        ExportService
}

// NewService 创建 Service 聚合
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	jwtMgr *jwt.Manager,
	deps Deps,
	logger *zap.Logger,
) *Service {
	defaults := NewQuantityDefaults(cfg.Loan.AnchorDefault)

	material := NewMaterialService(repo, defaults, deps.Metrics, logger)
	activity := NewActivityService(repo, defaults, deps.Metrics, logger)
	settings := NewConfigurationService(cfg, repo, logger)

	return &Service{
		Auth:          NewAuthService(cfg, repo, jwtMgr, deps.Blacklist, logger),
		User:          NewUserService(repo, logger),
		Material:      material,
		Loan:          NewLoanService(&cfg.Loan, repo, defaults, deps.Metrics, logger),
		Activity:      activity,
		Draft:         NewDraftService(deps.Drafts, material, activity, logger),
		Configuration: settings,
		Weather:       NewWeatherService(&cfg.Weather, settings, deps.WeatherClient, deps.WeatherCache, deps.Metrics, logger),
		Export:        NewExportService(repo, logger),
	}
}
