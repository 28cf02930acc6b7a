package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"espeleo-club/backend/internal/model"
	pkgerrors "espeleo-club/backend/pkg/errors"
)

// MaterialFilter 器材列表筛选条件
type MaterialFilter struct {
	Type   string
	State  string
	Search string // ILIKE 粗筛；重音无关匹配在 activityform 中完成
}

// MaterialRepository 器材数据访问接口
type MaterialRepository interface {
	Create(ctx context.Context, m *model.Material) error
	GetByID(ctx context.Context, id string) (*model.Material, error)
	GetByCode(ctx context.Context, code string) (*model.Material, error)
	GetForUpdate(ctx context.Context, id string) (*model.Material, error)
	List(ctx context.Context, filter MaterialFilter, offset, limit int) ([]model.Material, int64, error)
	ListAll(ctx context.Context, filter MaterialFilter) ([]model.Material, error)
	ListByIDs(ctx context.Context, ids []string) ([]model.Material, error)
	Update(ctx context.Context, m *model.Material) error
	SetAvailable(ctx context.Context, id string, available *int) error
}

type materialRepo struct {
	db *gorm.DB
}

// NewMaterialRepo 创建 MaterialRepository 实例
func NewMaterialRepo(db *gorm.DB) MaterialRepository {
	return &materialRepo{db: db}
}

func (r *materialRepo) Create(ctx context.Context, m *model.Material) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *materialRepo) GetByID(ctx context.Context, id string) (*model.Material, error) {
	var m model.Material
	err := r.db.WithContext(ctx).
		Where("material_id = ?", id).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *materialRepo) GetByCode(ctx context.Context, code string) (*model.Material, error) {
	var m model.Material
	err := r.db.WithContext(ctx).
		Where("code = ?", code).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetForUpdate 行级锁读取，必须在事务连接上调用
func (r *materialRepo) GetForUpdate(ctx context.Context, id string) (*model.Material, error) {
	var m model.Material
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("material_id = ?", id).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *materialRepo) applyFilter(db *gorm.DB, filter MaterialFilter) *gorm.DB {
	if filter.Type != "" {
		db = db.Where("type = ?", filter.Type)
	}
	if filter.State != "" {
		db = db.Where("state = ?", filter.State)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		like := "%" + s + "%"
		db = db.Where("name ILIKE ? OR code ILIKE ? OR description ILIKE ?", like, like, like)
	}
	return db
}

func (r *materialRepo) List(ctx context.Context, filter MaterialFilter, offset, limit int) ([]model.Material, int64, error) {
	var items []model.Material
	var total int64
	offset, limit = normalizePage(offset, limit)

	db := r.applyFilter(r.db.WithContext(ctx).Model(&model.Material{}), filter)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Offset(offset).Limit(limit).
		Order("type ASC, name ASC").
		Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListAll 不分页，用于活动表单的器材目录
func (r *materialRepo) ListAll(ctx context.Context, filter MaterialFilter) ([]model.Material, error) {
	var items []model.Material
	err := r.applyFilter(r.db.WithContext(ctx).Model(&model.Material{}), filter).
		Order("type ASC, name ASC").
		Find(&items).Error
	return items, err
}

func (r *materialRepo) ListByIDs(ctx context.Context, ids []string) ([]model.Material, error) {
	var items []model.Material
	if len(ids) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).
		Where("material_id IN ?", ids).
		Find(&items).Error
	return items, err
}

// Update 带版本号的更新，版本不一致返回 ErrOptimisticLock
func (r *materialRepo) Update(ctx context.Context, m *model.Material) error {
	oldVersion := m.Version
	result := r.db.WithContext(ctx).
		Model(m).
		Where("material_id = ? AND version = ?", m.MaterialID, oldVersion).
		Updates(map[string]interface{}{
			"name":               m.Name,
			"code":               m.Code,
			"description":        m.Description,
			"type":               m.Type,
			"state":              m.State,
			"total_quantity":     m.TotalQuantity,
			"available_quantity": m.AvailableQuantity,
			"updated_by":         m.UpdatedBy,
			"version":            oldVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	m.Version = oldVersion + 1
	return nil
}

// SetAvailable 只写派生的可用数量，调用方需已持有行锁
func (r *materialRepo) SetAvailable(ctx context.Context, id string, available *int) error {
	return r.db.WithContext(ctx).
		Model(&model.Material{}).
		Where("material_id = ?", id).
		Update("available_quantity", available).Error
}
