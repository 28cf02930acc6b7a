package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"espeleo-club/backend/internal/model"
)

// ConfigurationRepository 配置文档数据访问接口
type ConfigurationRepository interface {
	Get(ctx context.Context, key string) (*model.Configuration, error)
	List(ctx context.Context) ([]model.Configuration, error)
	Upsert(ctx context.Context, cfg *model.Configuration) error
}

type configurationRepo struct {
	db *gorm.DB
}

// NewConfigurationRepo 创建 ConfigurationRepository 实例
func NewConfigurationRepo(db *gorm.DB) ConfigurationRepository {
	return &configurationRepo{db: db}
}

func (r *configurationRepo) Get(ctx context.Context, key string) (*model.Configuration, error) {
	var cfg model.Configuration
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&cfg).Error
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *configurationRepo) List(ctx context.Context) ([]model.Configuration, error) {
	var items []model.Configuration
	err := r.db.WithContext(ctx).Order("key ASC").Find(&items).Error
	return items, err
}

func (r *configurationRepo) Upsert(ctx context.Context, cfg *model.Configuration) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at", "updated_by"}),
		}).
		Create(cfg).Error
}
