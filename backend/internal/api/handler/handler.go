package handler

import (
	"espeleo-club/backend/config"
	"espeleo-club/backend/internal/service"
)

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Auth          *AuthHandler
	User          *UserHandler
	Material      *MaterialHandler
	Loan          *LoanHandler
	Activity      *ActivityHandler
	Draft         *DraftHandler
	Configuration *ConfigurationHandler
	Weather       *WeatherHandler
	Export        *ExportHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(cfg *config.Config, svc *service.Service) *Handler {
	return &Handler{
		Auth:          NewAuthHandler(svc.Auth, cfg),
		User:          NewUserHandler(svc.User),
		Material:      NewMaterialHandler(svc.Material),
		Loan:          NewLoanHandler(svc.Loan),
		Activity:      NewActivityHandler(svc.Activity),
		Draft:         NewDraftHandler(svc.Draft),
		Configuration: NewConfigurationHandler(svc.Configuration),
		Weather:       NewWeatherHandler(svc.Weather),
		Export:        NewExportHandler(svc.Export),
	}
}
