package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"espeleo-club/backend/internal/activityform"
	"espeleo-club/backend/internal/dto"
	"espeleo-club/backend/internal/model"
	"espeleo-club/backend/internal/repository"
	pkgerrors "espeleo-club/backend/pkg/errors"
	applogger "espeleo-club/backend/pkg/logger"
	"espeleo-club/backend/pkg/metrics"
)

// ── 器材模块业务错误 ──

var (
	ErrMaterialTotalBelowLent = errors.New("总量不能小于当前借出数量")
	ErrImportFileInvalid      = errors.New("导入文件格式错误")
	ErrCatalogUnavailable     = errors.New("器材目录暂不可用")
)

// MaterialService 器材业务接口
type MaterialService interface {
	Create(ctx context.Context, req *dto.CreateMaterialRequest, callerID string) (*dto.MaterialResponse, error)
	GetByID(ctx context.Context, id string) (*dto.MaterialResponse, error)
	List(ctx context.Context, req *dto.MaterialListRequest) ([]dto.MaterialResponse, int64, error)
	Update(ctx context.Context, id string, req *dto.UpdateMaterialRequest, callerID string) (*dto.MaterialResponse, error)
	ChangeState(ctx context.Context, id string, req *dto.ChangeMaterialStateRequest, callerID string) (*dto.MaterialResponse, error)
	Recalculate(ctx context.Context) (*dto.RecalculateResponse, error)
	Catalog(ctx context.Context) ([]activityform.CatalogItem, error)
	ParseImportFile(reader io.Reader) ([]ImportMaterialRow, error)
	ImportMaterials(ctx context.Context, rows []ImportMaterialRow, callerID string) (*dto.ImportMaterialResponse, error)
}

// ImportMaterialRow Excel 导入解析后的单行数据
type ImportMaterialRow struct {
	Row         int
	Name        string
	Code        string
	Type        string
	Quantity    string
	State       string
	Description string
}

type materialService struct {
	repo   *repository.Repository
	stock  *stock
	logger *zap.Logger
}

// NewMaterialService 创建 MaterialService 实例
func NewMaterialService(repo *repository.Repository, defaults QuantityDefaults, m *metrics.Metrics, logger *zap.Logger) MaterialService {
	return &materialService{
		repo:   repo,
		stock:  &stock{defaults: defaults, metrics: m, logger: logger},
		logger: logger,
	}
}

// ────────────────────── Create ──────────────────────

func (s *materialService) Create(ctx context.Context, req *dto.CreateMaterialRequest, callerID string) (*dto.MaterialResponse, error) {
	total := *req.TotalQuantity
	avail := total
	m := &model.Material{
		Name:              strings.TrimSpace(req.Name),
		Code:              strings.TrimSpace(req.Code),
		Description:       req.Description,
		Type:              req.Type,
		State:             model.MaterialStateAvailable,
		TotalQuantity:     &total,
		AvailableQuantity: &avail,
		VersionedBaseModel: model.VersionedBaseModel{
			BaseModel: model.BaseModel{CreatedBy: &callerID},
		},
	}
	if err := s.repo.Material.Create(ctx, m); err != nil {
		applogger.FromContext(ctx, s.logger).Error("创建器材失败", zap.Error(err))
		return nil, err
	}

	resp := s.toResponse(m, nil)
	return &resp, nil
}

// ────────────────────── GetByID / List ──────────────────────

func (s *materialService) GetByID(ctx context.Context, id string) (*dto.MaterialResponse, error) {
	m, err := s.repo.Material.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMaterialNotFound
		}
		applogger.FromContext(ctx, s.logger).Error("查询器材失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}

	q, err := s.repo.Loan.ActiveQuantities(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	resp := s.toResponse(m, q[id])
	return &resp, nil
}

func (s *materialService) List(ctx context.Context, req *dto.MaterialListRequest) ([]dto.MaterialResponse, int64, error) {
	items, total, err := s.repo.Material.List(ctx,
		repository.MaterialFilter{Type: req.Type, State: req.State, Search: req.Search},
		req.GetOffset(), req.GetPageSize())
	if err != nil {
		applogger.FromContext(ctx, s.logger).Error("查询器材列表失败", zap.Error(err))
		return nil, 0, err
	}

	q, err := s.repo.Loan.ActiveQuantities(ctx, materialIDs(items))
	if err != nil {
		return nil, 0, err
	}

	list := make([]dto.MaterialResponse, 0, len(items))
	for i := range items {
		list = append(list, s.toResponse(&items[i], q[items[i].MaterialID]))
	}
	return list, total, nil
}

// Catalog 活动表单使用的完整目录；任何存储错误统一包装为 ErrCatalogUnavailable，客户端可重试
func (s *materialService) Catalog(ctx context.Context) ([]activityform.CatalogItem, error) {
	items, err := s.repo.Material.ListAll(ctx, repository.MaterialFilter{})
	if err != nil {
		applogger.FromContext(ctx, s.logger).Error("读取器材目录失败", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	q, err := s.repo.Loan.ActiveQuantities(ctx, materialIDs(items))
	if err != nil {
		applogger.FromContext(ctx, s.logger).Error("读取借用数量失败", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	out := make([]activityform.CatalogItem, 0, len(items))
	for i := range items {
		m := &items[i]
		res := s.stock.evaluate(m, q[m.MaterialID])
		out = append(out, activityform.CatalogItem{
			MaterialID:       m.MaterialID,
			Name:             m.Name,
			Code:             m.Code,
			Description:      m.Description,
			Type:             m.Type,
			State:            m.State,
			Total:            res.Total,
			Available:        res.Available,
			DataQualityIssue: res.Defaulted,
		})
	}
	return out, nil
}

// ────────────────────── Update ──────────────────────

func (s *materialService) Update(ctx context.Context, id string, req *dto.UpdateMaterialRequest, callerID string) (*dto.MaterialResponse, error) {
	var updated *model.Material
	var active []int

	err := s.repo.Transaction(ctx, func(txRepo *repository.Repository) error {
		locked, err := s.stock.lock(ctx, txRepo, []string{id})
		if err != nil {
			return err
		}
		m := locked[id]
		if m.Version != req.Version {
			return pkgerrors.ErrOptimisticLock
		}

		if req.Name != nil {
			m.Name = strings.TrimSpace(*req.Name)
		}
		if req.Code != nil {
			m.Code = strings.TrimSpace(*req.Code)
		}
		if req.Description != nil {
			m.Description = *req.Description
		}
		if req.Type != nil {
			m.Type = *req.Type
		}

		q, err := txRepo.Loan.ActiveQuantities(ctx, []string{id})
		if err != nil {
			return err
		}
		active = q[id]

		if req.TotalQuantity != nil {
			lent := 0
			for _, v := range active {
				if v > 0 {
					lent += v
				}
			}
			if *req.TotalQuantity < lent {
				return ErrMaterialTotalBelowLent
			}
			total := *req.TotalQuantity
			m.TotalQuantity = &total
		}

		// 管理员调整后可用数量按新总量重算
		res := s.stock.evaluate(m, active)
		avail := res.Available
		m.AvailableQuantity = &avail
		m.UpdatedBy = &callerID

		if err := txRepo.Material.Update(ctx, m); err != nil {
			return err
		}
		updated = m
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrMaterialNotFound) && !errors.Is(err, pkgerrors.ErrOptimisticLock) && !errors.Is(err, ErrMaterialTotalBelowLent) {
			applogger.FromContext(ctx, s.logger).Error("更新器材失败", zap.String("id", id), zap.Error(err))
		}
		return nil, err
	}

	resp := s.toResponse(updated, active)
	return &resp, nil
}

// ────────────────────── ChangeState ──────────────────────

// ChangeState 状态迁移只影响新增借用，已有借用不受影响
func (s *materialService) ChangeState(ctx context.Context, id string, req *dto.ChangeMaterialStateRequest, callerID string) (*dto.MaterialResponse, error) {
	m, err := s.repo.Material.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMaterialNotFound
		}
		return nil, err
	}
	if m.Version != req.Version {
		return nil, pkgerrors.ErrOptimisticLock
	}

	m.State = req.State
	m.UpdatedBy = &callerID
	if err := s.repo.Material.Update(ctx, m); err != nil {
		if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
			applogger.FromContext(ctx, s.logger).Error("变更器材状态失败", zap.String("id", id), zap.Error(err))
		}
		return nil, err
	}

	applogger.FromContext(ctx, s.logger).Info("器材状态已变更", zap.String("id", id), zap.String("state", req.State), zap.String("by", callerID))
	return s.GetByID(ctx, id)
}

// ────────────────────── Recalculate ──────────────────────

// Recalculate 从总量与未归还借用重算全部器材的可用数量，修复历史漂移
func (s *materialService) Recalculate(ctx context.Context) (*dto.RecalculateResponse, error) {
	items, err := s.repo.Material.ListAll(ctx, repository.MaterialFilter{})
	if err != nil {
		applogger.FromContext(ctx, s.logger).Error("读取器材失败", zap.Error(err))
		return nil, err
	}

	resp := &dto.RecalculateResponse{Checked: len(items)}
	for _, item := range items {
		id := item.MaterialID
		err := s.repo.Transaction(ctx, func(txRepo *repository.Repository) error {
			locked, err := s.stock.lock(ctx, txRepo, []string{id})
			if err != nil {
				return err
			}
			m := locked[id]
			before := m.AvailableQuantity

			res, err := s.stock.available(ctx, txRepo, m)
			if err != nil {
				return err
			}
			if res.Defaulted {
				resp.Defective = append(resp.Defective, id)
			}
			if before != nil && *before == res.Available {
				return nil
			}
			avail := res.Available
			if err := txRepo.Material.SetAvailable(ctx, id, &avail); err != nil {
				return err
			}
			resp.Updated++
			return nil
		})
		if err != nil {
			applogger.FromContext(ctx, s.logger).Error("重算可用数量失败", zap.String("id", id), zap.Error(err))
			return nil, err
		}
	}

	applogger.FromContext(ctx, s.logger).Info("器材可用数量重算完成",
		zap.Int("checked", resp.Checked),
		zap.Int("updated", resp.Updated),
		zap.Int("defective", len(resp.Defective)))
	return resp, nil
}

// ────────────────────── Import ──────────────────────

// ParseImportFile 解析 xlsx：表头 名称 | 编号 | 类型 | 数量 | 状态 | 描述
func (s *materialService) ParseImportFile(reader io.Reader) ([]ImportMaterialRow, error) {
	f, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, ErrImportFileInvalid
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrImportFileInvalid
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, ErrImportFileInvalid
	}
	if len(rows) < 2 {
		return nil, ErrImportFileInvalid
	}

	cell := func(r []string, i int) string {
		if i < len(r) {
			return strings.TrimSpace(r[i])
		}
		return ""
	}

	var result []ImportMaterialRow
	for i, r := range rows[1:] {
		if strings.Join(r, "") == "" {
			continue
		}
		result = append(result, ImportMaterialRow{
			Row:         i + 2,
			Name:        cell(r, 0),
			Code:        cell(r, 1),
			Type:        strings.ToLower(cell(r, 2)),
			Quantity:    cell(r, 3),
			State:       strings.ToLower(cell(r, 4)),
			Description: cell(r, 5),
		})
	}
	return result, nil
}

// ImportMaterials 按编号新增或更新；数量非法的行拒绝导入，避免写入新的数据缺陷
func (s *materialService) ImportMaterials(ctx context.Context, rows []ImportMaterialRow, callerID string) (*dto.ImportMaterialResponse, error) {
	resp := &dto.ImportMaterialResponse{Total: len(rows)}
	fail := func(row int, reason string) {
		resp.Failed++
		resp.Errors = append(resp.Errors, dto.ImportError{Row: row, Reason: reason})
	}

	for _, row := range rows {
		if row.Name == "" {
			fail(row.Row, "名称不能为空")
			continue
		}
		if row.Type == "" {
			row.Type = model.MaterialTypeMisc
		}
		if !model.IsValidMaterialType(row.Type) {
			fail(row.Row, fmt.Sprintf("未知器材类型: %s", row.Type))
			continue
		}
		if row.State == "" {
			row.State = model.MaterialStateAvailable
		}
		if !isValidState(row.State) {
			fail(row.Row, fmt.Sprintf("未知器材状态: %s", row.State))
			continue
		}
		qty, ok := CoalesceQuantity(row.Quantity)
		if !ok {
			applogger.FromContext(ctx, s.logger).Warn("导入行数量非法", zap.Int("row", row.Row), zap.String("raw", row.Quantity))
			fail(row.Row, fmt.Sprintf("数量非法: %q", row.Quantity))
			continue
		}

		var existing *model.Material
		if row.Code != "" {
			m, err := s.repo.Material.GetByCode(ctx, row.Code)
			if err == nil {
				existing = m
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
		}

		if existing == nil {
			req := &dto.CreateMaterialRequest{
				Name: row.Name, Code: row.Code, Description: row.Description,
				Type: row.Type, TotalQuantity: qty,
			}
			created, err := s.Create(ctx, req, callerID)
			if err != nil {
				fail(row.Row, "创建失败")
				continue
			}
			if row.State != model.MaterialStateAvailable {
				if _, err := s.ChangeState(ctx, created.ID, &dto.ChangeMaterialStateRequest{Version: created.Version, State: row.State}, callerID); err != nil {
					fail(row.Row, "设置状态失败")
					continue
				}
			}
			resp.Created++
			continue
		}

		name, desc, typ := row.Name, row.Description, row.Type
		if _, err := s.Update(ctx, existing.MaterialID, &dto.UpdateMaterialRequest{
			Version: existing.Version, Name: &name, Description: &desc, Type: &typ, TotalQuantity: qty,
		}, callerID); err != nil {
			fail(row.Row, fmt.Sprintf("更新失败: %v", err))
			continue
		}
		resp.Updated++
	}

	applogger.FromContext(ctx, s.logger).Info("器材导入完成",
		zap.Int("total", resp.Total), zap.Int("created", resp.Created),
		zap.Int("updated", resp.Updated), zap.Int("failed", resp.Failed))
	return resp, nil
}

// ── 辅助 ──

func (s *materialService) toResponse(m *model.Material, active []int) dto.MaterialResponse {
	res := s.stock.evaluate(m, active)
	return dto.MaterialResponse{
		ID:                m.MaterialID,
		Name:              m.Name,
		Code:              m.Code,
		Description:       m.Description,
		Type:              m.Type,
		State:             m.State,
		TotalQuantity:     res.Total,
		AvailableQuantity: res.Available,
		DataQualityIssue:  res.Defaulted,
		Version:           m.Version,
		UpdatedAt:         formatTime(m.UpdatedAt),
	}
}

func materialIDs(items []model.Material) []string {
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].MaterialID
	}
	return ids
}

func isValidState(state string) bool {
	for _, v := range model.MaterialStates {
		if v == state {
			return true
		}
	}
	return false
}
