package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"espeleo-club/backend/internal/model"
	"espeleo-club/backend/internal/repository"
	"espeleo-club/backend/pkg/metrics"
)

// ── 库存与借用共享错误 ──

var (
	ErrMaterialNotFound    = errors.New("器材不存在")
	ErrInsufficientStock   = errors.New("器材可用数量不足")
	ErrMaterialNotLendable = errors.New("器材当前状态不可借出")
)

// stock 库存计算与写回，活动、借用、器材服务共用
type stock struct {
	defaults QuantityDefaults
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// evaluate 计算可用数量；数据缺陷只告警、计数，不中断流程
func (s *stock) evaluate(m *model.Material, active []int) AvailabilityResult {
	res := s.defaults.Calculate(m.TotalQuantity, m.Type, active)
	if res.Defaulted {
		s.logger.Warn("器材数量数据缺陷，已回退默认值",
			zap.String("material_id", m.MaterialID),
			zap.String("type", m.Type),
			zap.Int("fallback_total", res.Total))
		s.metrics.DataQualityDefect(m.Type)
	}
	return res
}

// lock 按 ID 排序依次加行锁，固定加锁顺序避免死锁
func (s *stock) lock(ctx context.Context, txRepo *repository.Repository, ids []string) (map[string]*model.Material, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	out := make(map[string]*model.Material, len(sorted))
	for _, id := range sorted {
		if _, ok := out[id]; ok {
			continue
		}
		m, err := txRepo.Material.GetForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrMaterialNotFound
			}
			return nil, err
		}
		out[id] = m
	}
	return out, nil
}

// available 事务内读取当前可用数量（含本次请求之前的全部未归还借用）
func (s *stock) available(ctx context.Context, txRepo *repository.Repository, m *model.Material) (AvailabilityResult, error) {
	q, err := txRepo.Loan.ActiveQuantities(ctx, []string{m.MaterialID})
	if err != nil {
		return AvailabilityResult{}, err
	}
	return s.evaluate(m, q[m.MaterialID]), nil
}

// recompute 重算并写回可用数量，调用方需已持有行锁
func (s *stock) recompute(ctx context.Context, txRepo *repository.Repository, m *model.Material) error {
	res, err := s.available(ctx, txRepo, m)
	if err != nil {
		return err
	}
	avail := res.Available
	if err := txRepo.Material.SetAvailable(ctx, m.MaterialID, &avail); err != nil {
		return err
	}
	m.AvailableQuantity = &avail
	return nil
}

// returnLoan 标记归还，不负责重算库存
func returnLoan(ctx context.Context, txRepo *repository.Repository, loan *model.Loan, by string, at time.Time) error {
	loan.ReturnDate = &at
	loan.ReturnedBy = &by
	loan.Status = model.LoanStatusReturned
	loan.UpdatedBy = &by
	return txRepo.Loan.Update(ctx, loan)
}

// ── 格式化 ──

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
