package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"espeleo-club/backend/internal/model"
	pkgerrors "espeleo-club/backend/pkg/errors"
)

// ActivityFilter 活动列表筛选条件
type ActivityFilter struct {
	Status        string
	ParticipantID string
	Keyword       string
	From          *time.Time
	To            *time.Time
}

// ActivityRepository 活动数据访问接口
type ActivityRepository interface {
	Create(ctx context.Context, a *model.Activity) error
	GetByID(ctx context.Context, id string) (*model.Activity, error)
	Update(ctx context.Context, a *model.Activity) error
	ReplaceMaterials(ctx context.Context, activityID string, lines []model.ActivityMaterial) error
	List(ctx context.Context, filter ActivityFilter, offset, limit int) ([]model.Activity, int64, error)
	ListAll(ctx context.Context, filter ActivityFilter) ([]model.Activity, error)
}

type activityRepo struct {
	db *gorm.DB
}

// NewActivityRepo 创建 ActivityRepository 实例
func NewActivityRepo(db *gorm.DB) ActivityRepository {
	return &activityRepo{db: db}
}

// Create 只写活动行，器材明细由 ReplaceMaterials 单独写入
func (r *activityRepo) Create(ctx context.Context, a *model.Activity) error {
	return r.db.WithContext(ctx).Omit("Materials").Create(a).Error
}

func (r *activityRepo) GetByID(ctx context.Context, id string) (*model.Activity, error) {
	var a model.Activity
	err := r.db.WithContext(ctx).
		Preload("Materials").
		Preload("Materials.Material").
		Where("activity_id = ?", id).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Update 带版本号的更新，版本不一致返回 ErrOptimisticLock
func (r *activityRepo) Update(ctx context.Context, a *model.Activity) error {
	oldVersion := a.Version
	result := r.db.WithContext(ctx).
		Model(a).
		Omit("Materials").
		Where("activity_id = ? AND version = ?", a.ActivityID, oldVersion).
		Updates(map[string]interface{}{
			"name":                    a.Name,
			"place":                   a.Place,
			"description":             a.Description,
			"type":                    a.Type,
			"subtype":                 a.Subtype,
			"start_date":              a.StartDate,
			"end_date":                a.EndDate,
			"responsible_activity_id": a.ResponsibleActivityID,
			"responsible_material_id": a.ResponsibleMaterialID,
			"participant_ids":         a.ParticipantIDs,
			"status":                  a.Status,
			"links":                   a.Links,
			"updated_by":              a.UpdatedBy,
			"version":                 oldVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	a.Version = oldVersion + 1
	return nil
}

func (r *activityRepo) ReplaceMaterials(ctx context.Context, activityID string, lines []model.ActivityMaterial) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("activity_id = ?", activityID).Delete(&model.ActivityMaterial{}).Error; err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	rows := make([]model.ActivityMaterial, len(lines))
	for i, l := range lines {
		rows[i] = model.ActivityMaterial{ActivityID: activityID, MaterialID: l.MaterialID, Quantity: l.Quantity}
	}
	return db.Omit("Material").Create(&rows).Error
}

func (r *activityRepo) applyFilter(db *gorm.DB, filter ActivityFilter) *gorm.DB {
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.ParticipantID != "" {
		db = db.Where("? = ANY(participant_ids) OR creator_id = ? OR responsible_material_id = ?",
			filter.ParticipantID, filter.ParticipantID, filter.ParticipantID)
	}
	if kw := strings.TrimSpace(filter.Keyword); kw != "" {
		like := "%" + kw + "%"
		db = db.Where("name ILIKE ? OR place ILIKE ?", like, like)
	}
	if filter.From != nil {
		db = db.Where("end_date >= ?", *filter.From)
	}
	if filter.To != nil {
		db = db.Where("start_date <= ?", *filter.To)
	}
	return db
}

func (r *activityRepo) List(ctx context.Context, filter ActivityFilter, offset, limit int) ([]model.Activity, int64, error) {
	var items []model.Activity
	var total int64
	offset, limit = normalizePage(offset, limit)

	db := r.applyFilter(r.db.WithContext(ctx).Model(&model.Activity{}), filter)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Preload("Materials").
		Offset(offset).Limit(limit).
		Order("start_date DESC").
		Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListAll 不分页，用于日历导出
func (r *activityRepo) ListAll(ctx context.Context, filter ActivityFilter) ([]model.Activity, error) {
	var items []model.Activity
	err := r.applyFilter(r.db.WithContext(ctx).Model(&model.Activity{}), filter).
		Preload("Materials").
		Order("start_date ASC").
		Find(&items).Error
	return items, err
}
