package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"espeleo-club/backend/config"
	"espeleo-club/backend/internal/dto"
	"espeleo-club/backend/internal/model"
	"espeleo-club/backend/internal/repository"
	applogger "espeleo-club/backend/pkg/logger"
	"espeleo-club/backend/pkg/metrics"
)

// ── 借用模块业务错误 ──

var (
	ErrLoanNotFound   = errors.New("借用记录不存在")
	ErrLoanForbidden  = errors.New("无权查看或操作该借用记录")
	ErrDueDateInPast  = errors.New("预计归还日期不能早于当前时间")
	ErrBorrowerAbsent = errors.New("借用人不存在")
)

// LoanService 借用业务接口
type LoanService interface {
	List(ctx context.Context, req *dto.LoanListRequest) ([]dto.LoanResponse, int64, error)
	ListMine(ctx context.Context, userID string, req *dto.LoanListRequest) ([]dto.LoanResponse, int64, error)
	GetByID(ctx context.Context, id, callerID, callerRole string) (*dto.LoanResponse, error)
	Create(ctx context.Context, req *dto.CreateLoanRequest, callerID string) (*dto.LoanResponse, error)
	Return(ctx context.Context, id string, req *dto.ReturnLoanRequest, callerID, callerRole string) (*dto.LoanResponse, error)
}

type loanService struct {
	cfg     *config.LoanConfig
	repo    *repository.Repository
	stock   *stock
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewLoanService 创建 LoanService 实例
func NewLoanService(cfg *config.LoanConfig, repo *repository.Repository, defaults QuantityDefaults, m *metrics.Metrics, logger *zap.Logger) LoanService {
	return &loanService{
		cfg:     cfg,
		repo:    repo,
		stock:   &stock{defaults: defaults, metrics: m, logger: logger},
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// ────────────────────── List ──────────────────────

func (s *loanService) List(ctx context.Context, req *dto.LoanListRequest) ([]dto.LoanResponse, int64, error) {
	now := s.now()
	loans, total, err := s.repo.Loan.List(ctx, repository.LoanFilter{
		Status:     req.Status,
		UserID:     req.UserID,
		MaterialID: req.MaterialID,
		ActivityID: req.ActivityID,
		Now:        now,
	}, req.GetOffset(), req.GetPageSize())
	if err != nil {
		applogger.FromContext(ctx, s.logger).Error("查询借用列表失败", zap.Error(err))
		return nil, 0, err
	}

	list := make([]dto.LoanResponse, 0, len(loans))
	for i := range loans {
		list = append(list, toLoanResponse(&loans[i], now))
	}
	return list, total, nil
}

func (s *loanService) ListMine(ctx context.Context, userID string, req *dto.LoanListRequest) ([]dto.LoanResponse, int64, error) {
	mine := *req
	mine.UserID = userID
	return s.List(ctx, &mine)
}

// ────────────────────── GetByID ──────────────────────

func (s *loanService) GetByID(ctx context.Context, id, callerID, callerRole string) (*dto.LoanResponse, error) {
	loan, err := s.repo.Loan.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		applogger.FromContext(ctx, s.logger).Error("查询借用记录失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	if loan.UserID != callerID && !isStaff(callerRole) {
		return nil, ErrLoanForbidden
	}
	resp := toLoanResponse(loan, s.now())
	return &resp, nil
}

// ────────────────────── Create ──────────────────────

// Create 独立借用（不关联活动）；扣减与借用记录在同一事务内完成
func (s *loanService) Create(ctx context.Context, req *dto.CreateLoanRequest, callerID string) (*dto.LoanResponse, error) {
	now := s.now()
	borrower := req.UserID
	if borrower == "" {
		borrower = callerID
	}
	if _, err := s.repo.User.GetByID(ctx, borrower); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBorrowerAbsent
		}
		return nil, err
	}

	due := now.AddDate(0, 0, s.cfg.DefaultDays)
	if req.DueDate != nil {
		if req.DueDate.Before(now) {
			return nil, ErrDueDateInPast
		}
		due = *req.DueDate
	}

	loan := &model.Loan{
		MaterialID: req.MaterialID,
		UserID:     borrower,
		Quantity:   req.Quantity,
		LoanDate:   now,
		DueDate:    due,
		Status:     model.LoanStatusActive,
		Notes:      req.Notes,
		BaseModel:  model.BaseModel{CreatedBy: &callerID},
	}

	err := s.repo.Transaction(ctx, func(txRepo *repository.Repository) error {
		locked, err := s.stock.lock(ctx, txRepo, []string{req.MaterialID})
		if err != nil {
			return err
		}
		m := locked[req.MaterialID]
		if !m.IsLendable() {
			return ErrMaterialNotLendable
		}
		res, err := s.stock.available(ctx, txRepo, m)
		if err != nil {
			return err
		}
		if req.Quantity > res.Available {
			return ErrInsufficientStock
		}
		if err := txRepo.Loan.Create(ctx, loan); err != nil {
			return err
		}
		return s.stock.recompute(ctx, txRepo, m)
	})
	if err != nil {
		if !isStockError(err) {
			applogger.FromContext(ctx, s.logger).Error("创建借用失败", zap.String("material_id", req.MaterialID), zap.Error(err))
		}
		return nil, err
	}

	s.metrics.LoansCreated(1)
	applogger.FromContext(ctx, s.logger).Info("独立借用已创建",
		zap.String("loan_id", loan.LoanID),
		zap.String("material_id", loan.MaterialID),
		zap.Int("quantity", loan.Quantity))
	resp := toLoanResponse(loan, now)
	return &resp, nil
}

// ────────────────────── Return ──────────────────────

// Return 归还并恢复库存；已归还的记录直接返回当前状态
func (s *loanService) Return(ctx context.Context, id string, req *dto.ReturnLoanRequest, callerID, callerRole string) (*dto.LoanResponse, error) {
	now := s.now()
	var loan *model.Loan
	returned := false

	err := s.repo.Transaction(ctx, func(txRepo *repository.Repository) error {
		l, err := txRepo.Loan.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLoanNotFound
			}
			return err
		}
		if l.UserID != callerID && !isStaff(callerRole) {
			return ErrLoanForbidden
		}
		loan = l
		if !l.IsActive() {
			return nil
		}

		locked, err := s.stock.lock(ctx, txRepo, []string{l.MaterialID})
		if err != nil {
			return err
		}
		if req != nil && req.Notes != "" {
			l.Notes = req.Notes
		}
		if err := returnLoan(ctx, txRepo, l, callerID, now); err != nil {
			return err
		}
		returned = true
		return s.stock.recompute(ctx, txRepo, locked[l.MaterialID])
	})
	if err != nil {
		if !errors.Is(err, ErrLoanNotFound) && !errors.Is(err, ErrLoanForbidden) {
			applogger.FromContext(ctx, s.logger).Error("归还失败", zap.String("id", id), zap.Error(err))
		}
		return nil, err
	}

	if returned {
		s.metrics.LoansReturned(1)
	}
	resp := toLoanResponse(loan, now)
	return &resp, nil
}

// ── 辅助 ──

func toLoanResponse(l *model.Loan, now time.Time) dto.LoanResponse {
	resp := dto.LoanResponse{
		ID:         l.LoanID,
		MaterialID: l.MaterialID,
		UserID:     l.UserID,
		ActivityID: l.ActivityID,
		Quantity:   l.Quantity,
		LoanDate:   formatTime(l.LoanDate),
		DueDate:    formatTime(l.DueDate),
		ReturnDate: formatTimePtr(l.ReturnDate),
		Status:     l.EffectiveStatus(now),
		Notes:      l.Notes,
	}
	if l.Material != nil {
		resp.MaterialName = l.Material.Name
	}
	if l.User != nil {
		resp.UserName = l.User.Name
	}
	return resp
}

func isStaff(role string) bool {
	return role == model.RoleAdmin || role == model.RoleMaterialManager
}

func isStockError(err error) bool {
	return errors.Is(err, ErrMaterialNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrMaterialNotLendable)
}
