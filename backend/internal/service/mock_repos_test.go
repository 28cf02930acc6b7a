package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"espeleo-club/backend/internal/activityform"
	"espeleo-club/backend/internal/model"
	"espeleo-club/backend/internal/repository"
	pkgerrors "espeleo-club/backend/pkg/errors"
	"espeleo-club/backend/pkg/redis"
	"espeleo-club/backend/pkg/weather"
)

// 所有 mock 按值保存、按副本返回，乐观锁版本检查与真实仓储一致

// ── Mock UserRepository ──

type mockUserRepo struct {
	users     map[string]*model.User
	createErr error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

func (m *mockUserRepo) Create(_ context.Context, user *model.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	if user.UserID == "" {
		user.UserID = fmt.Sprintf("user-%d", len(m.users)+1)
	}
	if user.Version == 0 {
		user.Version = 1
	}
	user.Email = strings.ToLower(user.Email)
	cp := *user
	m.users[user.UserID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range m.users {
		if u.Email == strings.ToLower(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockUserRepo) Update(_ context.Context, user *model.User) error {
	stored, ok := m.users[user.UserID]
	if !ok || stored.Version != user.Version {
		return pkgerrors.ErrOptimisticLock
	}
	user.Version++
	cp := *user
	m.users[user.UserID] = &cp
	return nil
}

func (m *mockUserRepo) Delete(_ context.Context, id, _ string) error {
	if _, ok := m.users[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *mockUserRepo) List(_ context.Context, filter repository.UserFilter, offset, limit int) ([]model.User, int64, error) {
	var all []model.User
	for _, u := range m.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.Keyword != "" && !strings.Contains(u.Name, filter.Keyword) && !strings.Contains(u.Email, filter.Keyword) {
			continue
		}
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UserID < all[j].UserID })
	return page(all, offset, limit), int64(len(all)), nil
}

func (m *mockUserRepo) CountByIDs(_ context.Context, ids []string) (int64, error) {
	var n int64
	for _, id := range ids {
		if _, ok := m.users[id]; ok {
			n++
		}
	}
	return n, nil
}

// ── Mock MaterialRepository ──

type mockMaterialRepo struct {
	materials map[string]*model.Material
	listErr   error
}

func newMockMaterialRepo() *mockMaterialRepo {
	return &mockMaterialRepo{materials: make(map[string]*model.Material)}
}

func (m *mockMaterialRepo) Create(_ context.Context, mat *model.Material) error {
	if mat.MaterialID == "" {
		mat.MaterialID = fmt.Sprintf("mat-%d", len(m.materials)+1)
	}
	if mat.Version == 0 {
		mat.Version = 1
	}
	cp := *mat
	m.materials[mat.MaterialID] = &cp
	return nil
}

func (m *mockMaterialRepo) GetByID(_ context.Context, id string) (*model.Material, error) {
	if mat, ok := m.materials[id]; ok {
		cp := *mat
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockMaterialRepo) GetByCode(_ context.Context, code string) (*model.Material, error) {
	for _, mat := range m.materials {
		if mat.Code == code {
			cp := *mat
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockMaterialRepo) GetForUpdate(ctx context.Context, id string) (*model.Material, error) {
	return m.GetByID(ctx, id)
}

func (m *mockMaterialRepo) List(ctx context.Context, filter repository.MaterialFilter, offset, limit int) ([]model.Material, int64, error) {
	all, err := m.ListAll(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return page(all, offset, limit), int64(len(all)), nil
}

func (m *mockMaterialRepo) ListAll(_ context.Context, filter repository.MaterialFilter) ([]model.Material, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var all []model.Material
	for _, mat := range m.materials {
		if filter.Type != "" && mat.Type != filter.Type {
			continue
		}
		if filter.State != "" && mat.State != filter.State {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(mat.Name), strings.ToLower(filter.Search)) {
			continue
		}
		all = append(all, *mat)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].MaterialID < all[j].MaterialID })
	return all, nil
}

func (m *mockMaterialRepo) ListByIDs(_ context.Context, ids []string) ([]model.Material, error) {
	var out []model.Material
	for _, id := range ids {
		if mat, ok := m.materials[id]; ok {
			out = append(out, *mat)
		}
	}
	return out, nil
}

func (m *mockMaterialRepo) Update(_ context.Context, mat *model.Material) error {
	stored, ok := m.materials[mat.MaterialID]
	if !ok || stored.Version != mat.Version {
		return pkgerrors.ErrOptimisticLock
	}
	mat.Version++
	cp := *mat
	m.materials[mat.MaterialID] = &cp
	return nil
}

func (m *mockMaterialRepo) SetAvailable(_ context.Context, id string, available *int) error {
	mat, ok := m.materials[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if available == nil {
		mat.AvailableQuantity = nil
		return nil
	}
	v := *available
	mat.AvailableQuantity = &v
	return nil
}

// ── Mock LoanRepository ──

type mockLoanRepo struct {
	loans     map[string]*model.Loan
	seq       int
	createErr error
}

func newMockLoanRepo() *mockLoanRepo {
	return &mockLoanRepo{loans: make(map[string]*model.Loan)}
}

func (m *mockLoanRepo) Create(_ context.Context, loan *model.Loan) error {
	if m.createErr != nil {
		return m.createErr
	}
	if loan.LoanID == "" {
		m.seq++
		loan.LoanID = fmt.Sprintf("loan-%d", m.seq)
	}
	cp := *loan
	m.loans[loan.LoanID] = &cp
	return nil
}

func (m *mockLoanRepo) GetByID(_ context.Context, id string) (*model.Loan, error) {
	if l, ok := m.loans[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockLoanRepo) GetActiveByActivityMaterial(_ context.Context, activityID, materialID string) (*model.Loan, error) {
	for _, l := range m.loans {
		if derefStr(l.ActivityID) == activityID && l.MaterialID == materialID && l.IsActive() {
			cp := *l
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockLoanRepo) ListActiveByActivity(_ context.Context, activityID string) ([]model.Loan, error) {
	var out []model.Loan
	for _, l := range m.sorted() {
		if derefStr(l.ActivityID) == activityID && l.IsActive() {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *mockLoanRepo) ActiveQuantities(_ context.Context, materialIDs []string) (map[string][]int, error) {
	out := make(map[string][]int, len(materialIDs))
	for _, id := range materialIDs {
		for _, l := range m.sorted() {
			if l.MaterialID == id && l.IsActive() {
				out[id] = append(out[id], l.Quantity)
			}
		}
	}
	return out, nil
}

func (m *mockLoanRepo) List(ctx context.Context, filter repository.LoanFilter, offset, limit int) ([]model.Loan, int64, error) {
	all, _ := m.ListAll(ctx, filter)
	return page(all, offset, limit), int64(len(all)), nil
}

func (m *mockLoanRepo) ListAll(_ context.Context, filter repository.LoanFilter) ([]model.Loan, error) {
	now := filter.Now
	if now.IsZero() {
		now = time.Now()
	}
	var out []model.Loan
	for _, l := range m.sorted() {
		if filter.UserID != "" && l.UserID != filter.UserID {
			continue
		}
		if filter.MaterialID != "" && l.MaterialID != filter.MaterialID {
			continue
		}
		if filter.ActivityID != "" && derefStr(l.ActivityID) != filter.ActivityID {
			continue
		}
		if filter.Status != "" && l.EffectiveStatus(now) != filter.Status {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

func (m *mockLoanRepo) Update(_ context.Context, loan *model.Loan) error {
	if _, ok := m.loans[loan.LoanID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *loan
	m.loans[loan.LoanID] = &cp
	return nil
}

func (m *mockLoanRepo) sorted() []*model.Loan {
	out := make([]*model.Loan, 0, len(m.loans))
	for _, l := range m.loans {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoanID < out[j].LoanID })
	return out
}

// active 指定活动与器材的未归还借用
func (m *mockLoanRepo) active(activityID, materialID string) []model.Loan {
	var out []model.Loan
	for _, l := range m.sorted() {
		if derefStr(l.ActivityID) == activityID && l.MaterialID == materialID && l.IsActive() {
			out = append(out, *l)
		}
	}
	return out
}

// ── Mock ActivityRepository ──

type mockActivityRepo struct {
	activities map[string]*model.Activity
	lines      map[string][]model.ActivityMaterial
	materials  *mockMaterialRepo
}

func newMockActivityRepo(materials *mockMaterialRepo) *mockActivityRepo {
	return &mockActivityRepo{
		activities: make(map[string]*model.Activity),
		lines:      make(map[string][]model.ActivityMaterial),
		materials:  materials,
	}
}

func (m *mockActivityRepo) Create(_ context.Context, a *model.Activity) error {
	if a.ActivityID == "" {
		a.ActivityID = fmt.Sprintf("act-%d", len(m.activities)+1)
	}
	if a.Version == 0 {
		a.Version = 1
	}
	cp := *a
	cp.Materials = nil
	m.activities[a.ActivityID] = &cp
	return nil
}

func (m *mockActivityRepo) GetByID(_ context.Context, id string) (*model.Activity, error) {
	a, ok := m.activities[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *a
	cp.Materials = m.withMaterials(id)
	return &cp, nil
}

func (m *mockActivityRepo) Update(_ context.Context, a *model.Activity) error {
	stored, ok := m.activities[a.ActivityID]
	if !ok || stored.Version != a.Version {
		return pkgerrors.ErrOptimisticLock
	}
	a.Version++
	cp := *a
	cp.Materials = nil
	m.activities[a.ActivityID] = &cp
	return nil
}

func (m *mockActivityRepo) ReplaceMaterials(_ context.Context, activityID string, lines []model.ActivityMaterial) error {
	rows := make([]model.ActivityMaterial, len(lines))
	for i, l := range lines {
		rows[i] = model.ActivityMaterial{ActivityID: activityID, MaterialID: l.MaterialID, Quantity: l.Quantity}
	}
	m.lines[activityID] = rows
	return nil
}

func (m *mockActivityRepo) List(ctx context.Context, filter repository.ActivityFilter, offset, limit int) ([]model.Activity, int64, error) {
	all, _ := m.ListAll(ctx, filter)
	return page(all, offset, limit), int64(len(all)), nil
}

func (m *mockActivityRepo) ListAll(_ context.Context, filter repository.ActivityFilter) ([]model.Activity, error) {
	var out []model.Activity
	for id, a := range m.activities {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if p := filter.ParticipantID; p != "" && !a.ParticipantIDs.Contains(p) && a.CreatorID != p && derefStr(a.ResponsibleMaterialID) != p {
			continue
		}
		if filter.From != nil && a.EndDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && a.StartDate.After(*filter.To) {
			continue
		}
		cp := *a
		cp.Materials = m.withMaterials(id)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (m *mockActivityRepo) withMaterials(id string) []model.ActivityMaterial {
	rows := m.lines[id]
	out := make([]model.ActivityMaterial, len(rows))
	for i, l := range rows {
		out[i] = l
		if mat, ok := m.materials.materials[l.MaterialID]; ok {
			cp := *mat
			out[i].Material = &cp
		}
	}
	return out
}

// ── Mock ConfigurationRepository ──

type mockConfigurationRepo struct {
	rows   map[string]*model.Configuration
	getErr error
}

func newMockConfigurationRepo() *mockConfigurationRepo {
	return &mockConfigurationRepo{rows: make(map[string]*model.Configuration)}
}

func (m *mockConfigurationRepo) Get(_ context.Context, key string) (*model.Configuration, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if row, ok := m.rows[key]; ok {
		cp := *row
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockConfigurationRepo) List(_ context.Context) ([]model.Configuration, error) {
	var out []model.Configuration
	for _, row := range m.rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *mockConfigurationRepo) Upsert(_ context.Context, cfg *model.Configuration) error {
	cp := *cfg
	cp.UpdatedAt = time.Now()
	m.rows[cfg.Key] = &cp
	return nil
}

func (m *mockConfigurationRepo) set(key, value string) {
	m.rows[key] = &model.Configuration{Key: key, Value: []byte(value)}
}

// ── 基础设施 fake ──

// fakeDraftStore 与 Redis 实现一样经过 JSON 编解码，避免切片共享
type fakeDraftStore struct {
	drafts map[string]*activityform.Draft
}

func newFakeDraftStore() *fakeDraftStore {
	return &fakeDraftStore{drafts: make(map[string]*activityform.Draft)}
}

func (s *fakeDraftStore) Save(_ context.Context, d *activityform.Draft) error {
	cp, err := cloneDraft(d)
	if err != nil {
		return err
	}
	s.drafts[d.ID] = cp
	return nil
}

func (s *fakeDraftStore) Load(_ context.Context, id string) (*activityform.Draft, error) {
	d, ok := s.drafts[id]
	if !ok {
		return nil, activityform.ErrDraftNotFound
	}
	return cloneDraft(d)
}

func cloneDraft(d *activityform.Draft) (*activityform.Draft, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out activityform.Draft
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *fakeDraftStore) Delete(_ context.Context, id string) error {
	delete(s.drafts, id)
	return nil
}

type fakeBlacklist struct {
	revoked map[string]time.Duration
}

func newFakeBlacklist() *fakeBlacklist {
	return &fakeBlacklist{revoked: make(map[string]time.Duration)}
}

func (b *fakeBlacklist) BlacklistToken(_ context.Context, jti string, ttl time.Duration) error {
	if ttl > 0 {
		b.revoked[jti] = ttl
	}
	return nil
}

func (b *fakeBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	_, ok := b.revoked[jti]
	return ok, nil
}

type fakeWeatherFetcher struct {
	calls int
	resp  *weather.Response
	err   error
	keys  []string
}

func (f *fakeWeatherFetcher) Fetch(_ context.Context, endpoint, apiKey string) (*weather.Response, error) {
	f.calls++
	f.keys = append(f.keys, apiKey)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeWeatherCache struct {
	entries map[string][]byte
}

func newFakeWeatherCache() *fakeWeatherCache {
	return &fakeWeatherCache{entries: make(map[string][]byte)}
}

func (c *fakeWeatherCache) GetWeather(_ context.Context, key string) ([]byte, error) {
	if b, ok := c.entries[key]; ok {
		return b, nil
	}
	return nil, redis.ErrNotFound
}

func (c *fakeWeatherCache) SetWeather(_ context.Context, key string, body []byte, _ time.Duration) error {
	c.entries[key] = body
	return nil
}

// ── 测试辅助 ──

var errStorageDown = errors.New("storage down")

type testRepos struct {
	repo       *repository.Repository
	users      *mockUserRepo
	materials  *mockMaterialRepo
	loans      *mockLoanRepo
	activities *mockActivityRepo
	configs    *mockConfigurationRepo
}

func newTestRepos() *testRepos {
	users := newMockUserRepo()
	materials := newMockMaterialRepo()
	loans := newMockLoanRepo()
	activities := newMockActivityRepo(materials)
	configs := newMockConfigurationRepo()
	return &testRepos{
		repo: &repository.Repository{
			User:          users,
			Material:      materials,
			Loan:          loans,
			Activity:      activities,
			Configuration: configs,
		},
		users:      users,
		materials:  materials,
		loans:      loans,
		activities: activities,
		configs:    configs,
	}
}

func (r *testRepos) addUser(id, name, role string) *model.User {
	u := &model.User{UserID: id, Name: name, Email: id + "@club.test", Role: role}
	_ = r.users.Create(context.Background(), u)
	return u
}

// addMaterial total 为 nil 时模拟历史数据缺陷
func (r *testRepos) addMaterial(id, name, typ string, total *int) *model.Material {
	m := &model.Material{MaterialID: id, Name: name, Type: typ, State: model.MaterialStateAvailable, TotalQuantity: total}
	if total != nil {
		avail := *total
		m.AvailableQuantity = &avail
	}
	_ = r.materials.Create(context.Background(), m)
	return m
}

func (r *testRepos) available(id string) int {
	m := r.materials.materials[id]
	if m == nil || m.AvailableQuantity == nil {
		return -1
	}
	return *m.AvailableQuantity
}

func intPtr(v int) *int { return &v }

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}
