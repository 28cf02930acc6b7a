package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"espeleo-club/backend/internal/activityform"
	"espeleo-club/backend/internal/dto"
	"espeleo-club/backend/internal/model"
	"espeleo-club/backend/internal/repository"
	pkgerrors "espeleo-club/backend/pkg/errors"
	applogger "espeleo-club/backend/pkg/logger"
	"espeleo-club/backend/pkg/metrics"
)

// ── 活动模块业务错误 ──

var (
	ErrActivityNotFound     = errors.New("活动不存在")
	ErrActivityForbidden    = errors.New("无权修改该活动")
	ErrActivityCancelled    = errors.New("活动已取消")
	ErrUserReferenceInvalid = errors.New("参与者或负责人不存在")
)

// ValidationError 表单校验失败，携带首个失败页签与字段错误
type ValidationError struct {
	Tab    activityform.Tab
	Fields activityform.FieldErrors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("表单校验失败: %s", e.Tab)
}

// ActivityService 活动业务接口
type ActivityService interface {
	Save(ctx context.Context, id string, req *dto.SaveActivityRequest, callerID, callerRole string) (*dto.ActivityResponse, error)
	GetByID(ctx context.Context, id string) (*dto.ActivityResponse, error)
	List(ctx context.Context, req *dto.ActivityListRequest, callerID string) ([]dto.ActivityResponse, int64, error)
	Cancel(ctx context.Context, id, callerID, callerRole string) (*dto.ActivityResponse, error)
	ExportCalendar(ctx context.Context, from, to *time.Time) ([]byte, error)
}

type activityService struct {
	repo    *repository.Repository
	stock   *stock
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewActivityService 创建 ActivityService 实例
func NewActivityService(repo *repository.Repository, defaults QuantityDefaults, m *metrics.Metrics, logger *zap.Logger) ActivityService {
	return &activityService{
		repo:    repo,
		stock:   &stock{defaults: defaults, metrics: m, logger: logger},
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// ────────────────────── Save ──────────────────────

// Save 新建（id 为空）或更新活动，并在同一事务内对账借用记录：
// 每个（活动, 器材）最多一条未归还借用，重复保存不产生新借用
func (s *activityService) Save(ctx context.Context, id string, req *dto.SaveActivityRequest, callerID, callerRole string) (*dto.ActivityResponse, error) {
	var existing *model.Activity
	creator := callerID
	if id != "" {
		a, err := s.repo.Activity.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrActivityNotFound
			}
			applogger.FromContext(ctx, s.logger).Error("查询活动失败", zap.String("id", id), zap.Error(err))
			return nil, err
		}
		if !canEditActivity(a, callerID, callerRole) {
			return nil, ErrActivityForbidden
		}
		if a.Status == model.ActivityStatusCancelled {
			return nil, ErrActivityCancelled
		}
		existing = a
		creator = a.CreatorID
	}

	d := draftFromRequest(req, creator)
	var notices []activityform.Notice
	if n := d.SetMaterials(req.Materials); n != nil {
		notices = append(notices, *n)
	}

	if tab, errs := d.ValidateForSubmit(); errs != nil {
		return nil, &ValidationError{Tab: tab, Fields: errs}
	}
	if d.Info.EndDate.Before(*d.Info.StartDate) {
		return nil, &ValidationError{Tab: activityform.TabInfo, Fields: activityform.FieldErrors{"end_date": "结束日期不能早于开始日期"}}
	}
	if err := s.checkUserRefs(ctx, d); err != nil {
		return nil, err
	}

	a, err := buildActivity(existing, d, callerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		a.Version = req.Version
	}

	var created, returned int
	err = s.repo.Transaction(ctx, func(txRepo *repository.Repository) error {
		if existing == nil {
			if err := txRepo.Activity.Create(ctx, a); err != nil {
				return err
			}
		} else if err := txRepo.Activity.Update(ctx, a); err != nil {
			return err
		}

		lines := toActivityMaterials(a.ActivityID, d.Materials)
		if err := txRepo.Activity.ReplaceMaterials(ctx, a.ActivityID, lines); err != nil {
			return err
		}
		a.Materials = lines

		var err error
		created, returned, err = s.reconcile(ctx, txRepo, a, callerID)
		return err
	})
	if err != nil {
		// 并发保存同一活动时，未归还借用唯一索引拒绝第二条
		if pkgerrors.IsDuplicateKey(err) {
			return nil, pkgerrors.ErrOptimisticLock
		}
		if !isStockError(err) {
			applogger.FromContext(ctx, s.logger).Error("保存活动失败", zap.String("id", id), zap.Error(err))
		}
		return nil, err
	}

	s.metrics.LoansCreated(created)
	s.metrics.LoansReturned(returned)
	applogger.FromContext(ctx, s.logger).Info("活动已保存",
		zap.String("activity_id", a.ActivityID),
		zap.Bool("needs_material", a.NeedsMaterial()),
		zap.Int("loans_created", created),
		zap.Int("loans_returned", returned))

	resp, err := s.GetByID(ctx, a.ActivityID)
	if err != nil {
		return nil, err
	}
	resp.Notices = notices
	return resp, nil
}

// reconcile 使未归还借用与活动器材清单一致；调用方负责开启事务
// 不需要器材（无负责人、清单为空或活动已取消）时归还该活动全部未归还借用
func (s *activityService) reconcile(ctx context.Context, txRepo *repository.Repository, a *model.Activity, by string) (created, returned int, err error) {
	open, err := txRepo.Loan.ListActiveByActivity(ctx, a.ActivityID)
	if err != nil {
		return 0, 0, err
	}

	desired := map[string]int{}
	if a.NeedsMaterial() && a.Status != model.ActivityStatusCancelled {
		for _, l := range a.Materials {
			desired[l.MaterialID] += l.Quantity
		}
	}

	now := s.now()
	current := make(map[string]*model.Loan, len(open))
	var stale []*model.Loan
	ids := make([]string, 0, len(desired)+len(open))
	for id := range desired {
		ids = append(ids, id)
	}
	for i := range open {
		l := &open[i]
		ids = append(ids, l.MaterialID)
		if _, dup := current[l.MaterialID]; dup {
			stale = append(stale, l) // 历史重复借用
			continue
		}
		current[l.MaterialID] = l
	}

	locked, err := s.stock.lock(ctx, txRepo, ids)
	if err != nil {
		return 0, 0, err
	}

	borrower := derefStr(a.ResponsibleMaterialID)
	wanted := make([]string, 0, len(desired))
	for id := range desired {
		wanted = append(wanted, id)
	}
	sort.Strings(wanted)

	for _, id := range wanted {
		want := desired[id]
		m := locked[id]
		loan := current[id]

		have := 0
		if loan != nil {
			have = loan.Quantity
		}
		if delta := want - have; delta > 0 {
			if !m.IsLendable() {
				return 0, 0, fmt.Errorf("%w: %s", ErrMaterialNotLendable, m.Name)
			}
			res, err := s.stock.available(ctx, txRepo, m)
			if err != nil {
				return 0, 0, err
			}
			if delta > res.Available {
				return 0, 0, fmt.Errorf("%w: %s（需要 %d，可用 %d）", ErrInsufficientStock, m.Name, delta, res.Available)
			}
		}

		if loan == nil {
			activityID := a.ActivityID
			newLoan := &model.Loan{
				MaterialID: id,
				UserID:     borrower,
				ActivityID: &activityID,
				Quantity:   want,
				LoanDate:   now,
				DueDate:    a.EndDate,
				Status:     model.LoanStatusActive,
				BaseModel:  model.BaseModel{CreatedBy: &by},
			}
			if err := txRepo.Loan.Create(ctx, newLoan); err != nil {
				return 0, 0, err
			}
			created++
			continue
		}

		if loan.Quantity != want || loan.UserID != borrower || !loan.DueDate.Equal(a.EndDate) {
			loan.Quantity = want
			loan.UserID = borrower
			loan.DueDate = a.EndDate
			loan.UpdatedBy = &by
			if err := txRepo.Loan.Update(ctx, loan); err != nil {
				return 0, 0, err
			}
		}
	}

	for id, loan := range current {
		if _, keep := desired[id]; !keep {
			stale = append(stale, loan)
		}
	}
	for _, loan := range stale {
		if err := returnLoan(ctx, txRepo, loan, by, now); err != nil {
			return 0, 0, err
		}
		returned++
	}

	for _, m := range locked {
		if err := s.stock.recompute(ctx, txRepo, m); err != nil {
			return 0, 0, err
		}
	}
	return created, returned, nil
}

// checkUserRefs 参与者与负责人必须是现有成员
func (s *activityService) checkUserRefs(ctx context.Context, d *activityform.Draft) error {
	refs := append([]string{}, d.ParticipantIDs...)
	if d.ResponsibleActivityID != "" {
		refs = append(refs, d.ResponsibleActivityID)
	}
	if d.ResponsibleMaterialID != "" {
		refs = append(refs, d.ResponsibleMaterialID)
	}
	unique := uniqueStrings(refs)

	n, err := s.repo.User.CountByIDs(ctx, unique)
	if err != nil {
		applogger.FromContext(ctx, s.logger).Error("校验成员引用失败", zap.Error(err))
		return err
	}
	if int(n) != len(unique) {
		return ErrUserReferenceInvalid
	}
	return nil
}

// ────────────────────── GetByID / List ──────────────────────

func (s *activityService) GetByID(ctx context.Context, id string) (*dto.ActivityResponse, error) {
	a, err := s.repo.Activity.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrActivityNotFound
		}
		applogger.FromContext(ctx, s.logger).Error("查询活动失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	resp := toActivityResponse(a)
	return &resp, nil
}

func (s *activityService) List(ctx context.Context, req *dto.ActivityListRequest, callerID string) ([]dto.ActivityResponse, int64, error) {
	filter := repository.ActivityFilter{
		Status:  req.Status,
		Keyword: req.Keyword,
		From:    req.From,
		To:      req.To,
	}
	if req.Mine {
		filter.ParticipantID = callerID
	}

	items, total, err := s.repo.Activity.List(ctx, filter, req.GetOffset(), req.GetPageSize())
	if err != nil {
		applogger.FromContext(ctx, s.logger).Error("查询活动列表失败", zap.Error(err))
		return nil, 0, err
	}
	list := make([]dto.ActivityResponse, 0, len(items))
	for i := range items {
		list = append(list, toActivityResponse(&items[i]))
	}
	return list, total, nil
}

// ────────────────────── Cancel ──────────────────────

// Cancel 取消活动并归还其全部未归还借用
func (s *activityService) Cancel(ctx context.Context, id, callerID, callerRole string) (*dto.ActivityResponse, error) {
	var returned int
	err := s.repo.Transaction(ctx, func(txRepo *repository.Repository) error {
		a, err := txRepo.Activity.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrActivityNotFound
			}
			return err
		}
		if !canEditActivity(a, callerID, callerRole) {
			return ErrActivityForbidden
		}
		if a.Status == model.ActivityStatusCancelled {
			return nil
		}

		a.Status = model.ActivityStatusCancelled
		a.UpdatedBy = &callerID
		if err := txRepo.Activity.Update(ctx, a); err != nil {
			return err
		}
		_, returned, err = s.reconcile(ctx, txRepo, a, callerID)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrActivityNotFound) && !errors.Is(err, ErrActivityForbidden) {
			applogger.FromContext(ctx, s.logger).Error("取消活动失败", zap.String("id", id), zap.Error(err))
		}
		return nil, err
	}

	s.metrics.LoansReturned(returned)
	applogger.FromContext(ctx, s.logger).Info("活动已取消", zap.String("activity_id", id), zap.Int("loans_returned", returned))
	return s.GetByID(ctx, id)
}

// ────────────────────── ExportCalendar ──────────────────────

// ExportCalendar 导出活动日历（.ics），已取消的活动标记为 CANCELLED
func (s *activityService) ExportCalendar(ctx context.Context, from, to *time.Time) ([]byte, error) {
	items, err := s.repo.Activity.ListAll(ctx, repository.ActivityFilter{From: from, To: to})
	if err != nil {
		applogger.FromContext(ctx, s.logger).Error("查询活动失败", zap.Error(err))
		return nil, err
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//espeleo-club//actividades//ES")
	cal.SetName("Actividades del club")

	stamp := s.now().UTC()
	for i := range items {
		a := &items[i]
		evt := cal.AddEvent(a.ActivityID + "@espeleo-club")
		evt.SetDtStampTime(stamp)
		evt.SetStartAt(a.StartDate.UTC())
		evt.SetEndAt(a.EndDate.UTC())
		evt.SetSummary(a.Name)
		evt.SetLocation(a.Place)
		if desc := calendarDescription(a); desc != "" {
			evt.SetDescription(desc)
		}
		if a.Status == model.ActivityStatusCancelled {
			evt.SetStatus(ics.ObjectStatusCancelled)
		} else {
			evt.SetStatus(ics.ObjectStatusConfirmed)
		}
	}
	return []byte(cal.Serialize()), nil
}

func calendarDescription(a *model.Activity) string {
	parts := make([]string, 0, 3)
	if a.Description != "" {
		parts = append(parts, a.Description)
	}
	if len(a.Type) > 0 {
		parts = append(parts, strings.Join(a.Type, ", "))
	}
	if a.NeedsMaterial() {
		parts = append(parts, fmt.Sprintf("Material: %d líneas", len(a.Materials)))
	}
	return strings.Join(parts, "\n")
}

// ── 辅助 ──

func canEditActivity(a *model.Activity, callerID, callerRole string) bool {
	if isStaff(callerRole) || a.CreatorID == callerID {
		return true
	}
	return derefStr(a.ResponsibleActivityID) == callerID || derefStr(a.ResponsibleMaterialID) == callerID
}

// draftFromRequest 直接保存与草稿提交共用同一套校验与自动指定逻辑
func draftFromRequest(req *dto.SaveActivityRequest, creatorID string) *activityform.Draft {
	d := activityform.NewDraft("", creatorID)
	d.Info = activityform.Info{
		Name:        strings.TrimSpace(req.Name),
		Place:       strings.TrimSpace(req.Place),
		Description: req.Description,
		Type:        req.Type,
		Subtype:     req.Subtype,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	}
	participants := req.ParticipantIDs
	respActivity := req.ResponsibleActivityID
	respMaterial := req.ResponsibleMaterialID
	links := req.Links
	if links == nil {
		links = []activityform.Link{}
	}
	d.Apply(activityform.Patch{
		ResponsibleActivityID: &respActivity,
		ResponsibleMaterialID: &respMaterial,
		ParticipantIDs:        &participants,
		Links:                 &links,
	})
	return d
}

// RequestFromDraft 草稿提交时转换为保存请求
func RequestFromDraft(d *activityform.Draft) *dto.SaveActivityRequest {
	return &dto.SaveActivityRequest{
		Version:               d.Version,
		Name:                  d.Info.Name,
		Place:                 d.Info.Place,
		Description:           d.Info.Description,
		Type:                  d.Info.Type,
		Subtype:               d.Info.Subtype,
		StartDate:             d.Info.StartDate,
		EndDate:               d.Info.EndDate,
		ResponsibleActivityID: d.ResponsibleActivityID,
		ResponsibleMaterialID: d.ResponsibleMaterialID,
		ParticipantIDs:        d.ParticipantIDs,
		Materials:             d.Materials,
		Links:                 d.Links,
	}
}

func buildActivity(existing *model.Activity, d *activityform.Draft, callerID string) (*model.Activity, error) {
	links, err := json.Marshal(d.Links)
	if err != nil {
		return nil, err
	}

	a := &model.Activity{Status: model.ActivityStatusPlanned, CreatorID: d.CreatorID}
	if existing != nil {
		cp := *existing
		a = &cp
		a.UpdatedBy = &callerID
	} else {
		a.CreatedBy = &callerID
	}

	a.Name = d.Info.Name
	a.Place = d.Info.Place
	a.Description = d.Info.Description
	a.Type = model.StringArray(d.Info.Type)
	a.Subtype = model.StringArray(d.Info.Subtype)
	a.StartDate = *d.Info.StartDate
	a.EndDate = *d.Info.EndDate
	a.ResponsibleActivityID = strPtr(d.ResponsibleActivityID)
	a.ResponsibleMaterialID = strPtr(d.ResponsibleMaterialID)
	a.ParticipantIDs = model.StringArray(d.ParticipantIDs)
	a.Links = datatypes.JSON(links)
	a.Materials = toActivityMaterials(a.ActivityID, d.Materials)
	return a, nil
}

func toActivityMaterials(activityID string, lines []activityform.MaterialLine) []model.ActivityMaterial {
	out := make([]model.ActivityMaterial, 0, len(lines))
	for _, l := range lines {
		out = append(out, model.ActivityMaterial{ActivityID: activityID, MaterialID: l.MaterialID, Quantity: l.Quantity})
	}
	return out
}

func toActivityResponse(a *model.Activity) dto.ActivityResponse {
	links := []activityform.Link{}
	if len(a.Links) > 0 {
		_ = json.Unmarshal(a.Links, &links)
	}

	materials := make([]dto.ActivityMaterialResponse, 0, len(a.Materials))
	for _, m := range a.Materials {
		item := dto.ActivityMaterialResponse{MaterialID: m.MaterialID, Quantity: m.Quantity}
		if m.Material != nil {
			item.Name = m.Material.Name
			item.Type = m.Material.Type
		}
		materials = append(materials, item)
	}

	return dto.ActivityResponse{
		ID:                    a.ActivityID,
		Name:                  a.Name,
		Place:                 a.Place,
		Description:           a.Description,
		Type:                  nonNil(a.Type),
		Subtype:               nonNil(a.Subtype),
		StartDate:             formatTime(a.StartDate),
		EndDate:               formatTime(a.EndDate),
		CreatorID:             a.CreatorID,
		ResponsibleActivityID: a.ResponsibleActivityID,
		ResponsibleMaterialID: a.ResponsibleMaterialID,
		ParticipantIDs:        nonNil(a.ParticipantIDs),
		Status:                a.Status,
		NeedsMaterial:         a.NeedsMaterial(),
		Materials:             materials,
		Links:                 links,
		Version:               a.Version,
	}
}

func nonNil(a model.StringArray) []string {
	if a == nil {
		return []string{}
	}
	return []string(a)
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
