package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"espeleo-club/backend/internal/model"
)

// LoanFilter 借用列表筛选条件
// Status 支持 active / returned / overdue，overdue 按查询时刻派生
type LoanFilter struct {
	Status     string
	UserID     string
	MaterialID string
	ActivityID string
	Now        time.Time
}

// LoanRepository 借用记录数据访问接口
type LoanRepository interface {
	Create(ctx context.Context, loan *model.Loan) error
	GetByID(ctx context.Context, id string) (*model.Loan, error)
	GetActiveByActivityMaterial(ctx context.Context, activityID, materialID string) (*model.Loan, error)
	ListActiveByActivity(ctx context.Context, activityID string) ([]model.Loan, error)
	ActiveQuantities(ctx context.Context, materialIDs []string) (map[string][]int, error)
	List(ctx context.Context, filter LoanFilter, offset, limit int) ([]model.Loan, int64, error)
	ListAll(ctx context.Context, filter LoanFilter) ([]model.Loan, error)
	Update(ctx context.Context, loan *model.Loan) error
}

type loanRepo struct {
	db *gorm.DB
}

// NewLoanRepo 创建 LoanRepository 实例
func NewLoanRepo(db *gorm.DB) LoanRepository {
	return &loanRepo{db: db}
}

func (r *loanRepo) Create(ctx context.Context, loan *model.Loan) error {
	return r.db.WithContext(ctx).Create(loan).Error
}

func (r *loanRepo) GetByID(ctx context.Context, id string) (*model.Loan, error) {
	var loan model.Loan
	err := r.db.WithContext(ctx).
		Preload("Material").
		Preload("User").
		Where("loan_id = ?", id).
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepo) GetActiveByActivityMaterial(ctx context.Context, activityID, materialID string) (*model.Loan, error) {
	var loan model.Loan
	err := r.db.WithContext(ctx).
		Where("activity_id = ? AND material_id = ? AND status = ? AND return_date IS NULL",
			activityID, materialID, model.LoanStatusActive).
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepo) ListActiveByActivity(ctx context.Context, activityID string) ([]model.Loan, error) {
	var loans []model.Loan
	err := r.db.WithContext(ctx).
		Where("activity_id = ? AND status = ? AND return_date IS NULL", activityID, model.LoanStatusActive).
		Order("created_at ASC").
		Find(&loans).Error
	return loans, err
}

// ActiveQuantities 按器材返回未归还借用的数量列表
func (r *loanRepo) ActiveQuantities(ctx context.Context, materialIDs []string) (map[string][]int, error) {
	out := make(map[string][]int, len(materialIDs))
	if len(materialIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		MaterialID string
		Quantity   int
	}
	err := r.db.WithContext(ctx).
		Model(&model.Loan{}).
		Select("material_id, quantity").
		Where("material_id IN ? AND status = ? AND return_date IS NULL", materialIDs, model.LoanStatusActive).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.MaterialID] = append(out[row.MaterialID], row.Quantity)
	}
	return out, nil
}

func (r *loanRepo) applyFilter(db *gorm.DB, filter LoanFilter) *gorm.DB {
	if filter.UserID != "" {
		db = db.Where("user_id = ?", filter.UserID)
	}
	if filter.MaterialID != "" {
		db = db.Where("material_id = ?", filter.MaterialID)
	}
	if filter.ActivityID != "" {
		db = db.Where("activity_id = ?", filter.ActivityID)
	}

	now := filter.Now
	if now.IsZero() {
		now = time.Now()
	}
	switch filter.Status {
	case model.LoanStatusReturned:
		db = db.Where("status = ?", model.LoanStatusReturned)
	case model.LoanStatusOverdue:
		db = db.Where("status = ? AND return_date IS NULL AND due_date < ?", model.LoanStatusActive, now)
	case model.LoanStatusActive:
		db = db.Where("status = ? AND return_date IS NULL AND due_date >= ?", model.LoanStatusActive, now)
	}
	return db
}

func (r *loanRepo) List(ctx context.Context, filter LoanFilter, offset, limit int) ([]model.Loan, int64, error) {
	var loans []model.Loan
	var total int64
	offset, limit = normalizePage(offset, limit)

	db := r.applyFilter(r.db.WithContext(ctx).Model(&model.Loan{}), filter)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Preload("Material").Preload("User").
		Offset(offset).Limit(limit).
		Order("loan_date DESC").
		Find(&loans).Error; err != nil {
		return nil, 0, err
	}
	return loans, total, nil
}

// ListAll 不分页，用于导出
func (r *loanRepo) ListAll(ctx context.Context, filter LoanFilter) ([]model.Loan, error) {
	var loans []model.Loan
	err := r.applyFilter(r.db.WithContext(ctx).Model(&model.Loan{}), filter).
		Preload("Material").Preload("User").
		Order("loan_date DESC").
		Find(&loans).Error
	return loans, err
}

func (r *loanRepo) Update(ctx context.Context, loan *model.Loan) error {
	return r.db.WithContext(ctx).
		Model(loan).
		Where("loan_id = ?", loan.LoanID).
		Updates(map[string]interface{}{
			"user_id":     loan.UserID,
			"quantity":    loan.Quantity,
			"due_date":    loan.DueDate,
			"return_date": loan.ReturnDate,
			"returned_by": loan.ReturnedBy,
			"status":      loan.Status,
			"notes":       loan.Notes,
			"updated_by":  loan.UpdatedBy,
		}).Error
}
