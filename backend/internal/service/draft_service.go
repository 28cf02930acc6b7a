package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"espeleo-club/backend/internal/activityform"
	"espeleo-club/backend/internal/dto"
	"espeleo-club/backend/internal/model"
	applogger "espeleo-club/backend/pkg/logger"
)

// ── 活动草稿业务错误 ──

var (
	ErrDraftNotFound       = activityform.ErrDraftNotFound
	ErrDraftForbidden      = errors.New("无权访问该草稿")
	ErrInvalidTab          = errors.New("未知页签")
	ErrInvalidSelectionTab = errors.New("未知器材分组")
)

// DraftService 活动表单草稿业务接口
type DraftService interface {
	Create(ctx context.Context, req *dto.CreateDraftRequest, callerID, callerRole string) (*dto.DraftResponse, error)
	Get(ctx context.Context, id, callerID string) (*dto.DraftResponse, error)
	Update(ctx context.Context, id string, patch *activityform.Patch, callerID string) (*dto.DraftResponse, error)
	Navigate(ctx context.Context, id string, req *dto.NavigateDraftRequest, callerID string) (*dto.DraftResponse, error)
	SetMaterials(ctx context.Context, id string, req *dto.SetDraftMaterialsRequest, callerID string) (*dto.SetDraftMaterialsResponse, error)
	Selection(ctx context.Context, id string, tab, search *string, callerID string) (*activityform.SelectionView, error)
	Submit(ctx context.Context, id, callerID, callerRole string) (*dto.ActivityResponse, error)
	Discard(ctx context.Context, id, callerID string) error
}

type draftService struct {
	store     activityform.DraftStore
	materials MaterialService
	activity  ActivityService
	logger    *zap.Logger
}

// NewDraftService 创建 DraftService 实例
func NewDraftService(store activityform.DraftStore, materials MaterialService, activity ActivityService, logger *zap.Logger) DraftService {
	return &draftService{store: store, materials: materials, activity: activity, logger: logger}
}

// ────────────────────── Create ──────────────────────

func (s *draftService) Create(ctx context.Context, req *dto.CreateDraftRequest, callerID, callerRole string) (*dto.DraftResponse, error) {
	d := activityform.NewDraft(uuid.NewString(), callerID)

	if req != nil && req.ActivityID != "" {
		a, err := s.activity.GetByID(ctx, req.ActivityID)
		if err != nil {
			return nil, err
		}
		if !canEditActivityResponse(a, callerID, callerRole) {
			return nil, ErrActivityForbidden
		}
		if a.Status == model.ActivityStatusCancelled {
			return nil, ErrActivityCancelled
		}
		loadActivityIntoDraft(d, a)
	}

	if err := s.store.Save(ctx, d); err != nil {
		applogger.FromContext(ctx, s.logger).Error("保存草稿失败", zap.String("draft_id", d.ID), zap.Error(err))
		return nil, err
	}
	return draftResponse(d), nil
}

// ────────────────────── Get / Update ──────────────────────

func (s *draftService) Get(ctx context.Context, id, callerID string) (*dto.DraftResponse, error) {
	d, err := s.load(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	return draftResponse(d), nil
}

func (s *draftService) Update(ctx context.Context, id string, patch *activityform.Patch, callerID string) (*dto.DraftResponse, error) {
	d, err := s.load(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	d.Apply(*patch)
	if err := s.save(ctx, d); err != nil {
		return nil, err
	}
	return draftResponse(d), nil
}

// ────────────────────── Navigate ──────────────────────

// Navigate 校验失败时仍保存并返回草稿（含字段错误），同时返回 *ValidationError
func (s *draftService) Navigate(ctx context.Context, id string, req *dto.NavigateDraftRequest, callerID string) (*dto.DraftResponse, error) {
	d, err := s.load(ctx, id, callerID)
	if err != nil {
		return nil, err
	}

	ok := true
	switch req.Action {
	case "next":
		ok = d.Next()
	case "previous":
		d.Previous()
	case "goto":
		tab, valid := activityform.ParseTab(req.Tab)
		if !valid {
			return nil, ErrInvalidTab
		}
		ok = d.Goto(tab)
	default:
		return nil, ErrInvalidTab
	}

	if err := s.save(ctx, d); err != nil {
		return nil, err
	}
	resp := draftResponse(d)
	if !ok {
		return resp, &ValidationError{Tab: d.CurrentTab, Fields: d.Errors}
	}
	return resp, nil
}

// ────────────────────── SetMaterials ──────────────────────

// SetMaterials 每次修改器材清单都经过这里，needs_material 随之实时重算
func (s *draftService) SetMaterials(ctx context.Context, id string, req *dto.SetDraftMaterialsRequest, callerID string) (*dto.SetDraftMaterialsResponse, error) {
	d, err := s.load(ctx, id, callerID)
	if err != nil {
		return nil, err
	}

	notice := d.SetMaterials(req.Materials)
	if notice != nil {
		applogger.FromContext(ctx, s.logger).Info("已自动指定器材负责人",
			zap.String("draft_id", d.ID),
			zap.String("user_id", notice.UserID))
	}
	if err := s.save(ctx, d); err != nil {
		return nil, err
	}
	return &dto.SetDraftMaterialsResponse{Draft: *draftResponse(d), Notice: notice}, nil
}

// ────────────────────── Selection ──────────────────────

// Selection tab/search 为 nil 时沿用草稿上保存的值，切换页签不会丢失搜索词
func (s *draftService) Selection(ctx context.Context, id string, tab, search *string, callerID string) (*activityform.SelectionView, error) {
	d, err := s.load(ctx, id, callerID)
	if err != nil {
		return nil, err
	}

	t, q := d.MaterialTab, d.MaterialSearch
	if tab != nil {
		t = *tab
	}
	if search != nil {
		q = *search
	}
	if t == "" {
		t = activityform.SelectionTabAll
	}
	if t != activityform.SelectionTabAll && !model.IsValidMaterialType(t) {
		return nil, ErrInvalidSelectionTab
	}

	var catalog []activityform.CatalogItem
	if d.ResponsibleMaterialID != "" {
		catalog, err = s.materials.Catalog(ctx)
		if err != nil {
			return nil, err
		}
	}

	view := activityform.BuildSelection(d, catalog, t, q)
	if err := s.save(ctx, d); err != nil {
		return nil, err
	}
	return &view, nil
}

// ────────────────────── Submit ──────────────────────

func (s *draftService) Submit(ctx context.Context, id, callerID, callerRole string) (*dto.ActivityResponse, error) {
	d, err := s.load(ctx, id, callerID)
	if err != nil {
		return nil, err
	}

	if tab, errs := d.ValidateForSubmit(); errs != nil {
		d.CurrentTab = tab
		d.Errors = errs
		if err := s.save(ctx, d); err != nil {
			return nil, err
		}
		return nil, &ValidationError{Tab: tab, Fields: errs}
	}

	resp, err := s.activity.Save(ctx, d.ActivityID, RequestFromDraft(d), callerID, callerRole)
	if err != nil {
		return nil, err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		applogger.FromContext(ctx, s.logger).Warn("删除已提交草稿失败", zap.String("draft_id", id), zap.Error(err))
	}
	return resp, nil
}

// ────────────────────── Discard ──────────────────────

func (s *draftService) Discard(ctx context.Context, id, callerID string) error {
	if _, err := s.load(ctx, id, callerID); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// ── 辅助 ──

func (s *draftService) load(ctx context.Context, id, callerID string) (*activityform.Draft, error) {
	d, err := s.store.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, activityform.ErrDraftNotFound) {
			applogger.FromContext(ctx, s.logger).Error("读取草稿失败", zap.String("draft_id", id), zap.Error(err))
		}
		return nil, err
	}
	if d.OwnerID != callerID {
		return nil, ErrDraftForbidden
	}
	return d, nil
}

func (s *draftService) save(ctx context.Context, d *activityform.Draft) error {
	if err := s.store.Save(ctx, d); err != nil {
		applogger.FromContext(ctx, s.logger).Error("保存草稿失败", zap.String("draft_id", d.ID), zap.Error(err))
		return err
	}
	return nil
}

func draftResponse(d *activityform.Draft) *dto.DraftResponse {
	return &dto.DraftResponse{Draft: d, NeedsMaterial: d.NeedsMaterial()}
}

func loadActivityIntoDraft(d *activityform.Draft, a *dto.ActivityResponse) {
	d.ActivityID = a.ID
	d.Version = a.Version
	d.CreatorID = a.CreatorID

	info := activityform.Info{
		Name:        a.Name,
		Place:       a.Place,
		Description: a.Description,
		Type:        activityform.TagList(a.Type),
		Subtype:     activityform.TagList(a.Subtype),
	}
	if t, err := parseRFC3339(a.StartDate); err == nil {
		info.StartDate = &t
	}
	if t, err := parseRFC3339(a.EndDate); err == nil {
		info.EndDate = &t
	}
	d.Info = info
	d.ResponsibleActivityID = derefStr(a.ResponsibleActivityID)
	d.ResponsibleMaterialID = derefStr(a.ResponsibleMaterialID)
	d.ParticipantIDs = append([]string{}, a.ParticipantIDs...)
	d.Links = append([]activityform.Link{}, a.Links...)

	lines := make([]activityform.MaterialLine, 0, len(a.Materials))
	for _, m := range a.Materials {
		lines = append(lines, activityform.MaterialLine{MaterialID: m.MaterialID, Quantity: m.Quantity})
	}
	d.Materials = activityform.MergeLines(lines)
}

func canEditActivityResponse(a *dto.ActivityResponse, callerID, callerRole string) bool {
	if isStaff(callerRole) || a.CreatorID == callerID {
		return true
	}
	return derefStr(a.ResponsibleActivityID) == callerID || derefStr(a.ResponsibleMaterialID) == callerID
}
