// Package activityform 活动表单草稿：分页签校验、导航状态机、器材选择视图
//
// 草稿是活动在保存前的权威状态，保存在 DraftStore 中；
// 是否需要器材只由草稿内容派生，不接受客户端写入。
package activityform

import (
	"encoding/json"
	"strings"
	"time"
)

// Tab 表单页签
type Tab string

const (
	TabInfo         Tab = "info"
	TabParticipants Tab = "participants"
	TabMaterial     Tab = "material"
	TabLinks        Tab = "links"
)

// Tabs 页签顺序
var Tabs = []Tab{TabInfo, TabParticipants, TabMaterial, TabLinks}

// ParseTab 解析页签名
func ParseTab(s string) (Tab, bool) {
	for _, t := range Tabs {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

func (t Tab) index() int {
	for i, v := range Tabs {
		if v == t {
			return i
		}
	}
	return 0
}

// TagList 类型/子类型标签列表
// 非数组的 JSON 值（例如裸字符串）解码为空列表，与 [] 走同一条校验路径
type TagList []string

// UnmarshalJSON 实现 json.Unmarshaler
func (l *TagList) UnmarshalJSON(b []byte) error {
	var raw []string
	if err := json.Unmarshal(b, &raw); err != nil {
		*l = TagList{}
		return nil
	}
	out := make(TagList, 0, len(raw))
	for _, v := range raw {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	*l = out
	return nil
}

// Info 基本信息页签
type Info struct {
	Name        string     `json:"name"`
	Place       string     `json:"place"`
	Description string     `json:"description"`
	Type        TagList    `json:"type"`
	Subtype     TagList    `json:"subtype"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
}

// MaterialLine 器材明细行
type MaterialLine struct {
	MaterialID string `json:"material_id"`
	Quantity   int    `json:"quantity"`
}

// Link 活动相关链接
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Notice 需要展示给用户的提示
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

// NoticeResponsibleMaterialAssigned 自动指定器材负责人
const NoticeResponsibleMaterialAssigned = "responsible_material_auto_assigned"

// FieldErrors 字段级错误，键为字段名
type FieldErrors map[string]string

// Draft 活动表单草稿
type Draft struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	ActivityID string `json:"activity_id,omitempty"`
	Version    int    `json:"version,omitempty"`
	CreatorID  string `json:"creator_id"`

	Info                  Info           `json:"info"`
	ResponsibleActivityID string         `json:"responsible_activity_id,omitempty"`
	ResponsibleMaterialID string         `json:"responsible_material_id,omitempty"`
	ParticipantIDs        []string       `json:"participant_ids"`
	Materials             []MaterialLine `json:"materials"`
	Links                 []Link         `json:"links"`

	CurrentTab     Tab         `json:"current_tab"`
	CompletedTabs  []Tab       `json:"completed_tabs"`
	Errors         FieldErrors `json:"errors,omitempty"`
	Notices        []Notice    `json:"notices,omitempty"`
	MaterialTab    string      `json:"material_tab"`
	MaterialSearch string      `json:"material_search"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewDraft 创建空草稿，creatorID 同时作为草稿所有者
func NewDraft(id, creatorID string) *Draft {
	return &Draft{
		ID:             id,
		OwnerID:        creatorID,
		CreatorID:      creatorID,
		ParticipantIDs: []string{},
		Materials:      []MaterialLine{},
		Links:          []Link{},
		CurrentTab:     TabInfo,
		CompletedTabs:  []Tab{},
		MaterialTab:    SelectionTabAll,
	}
}

// NeedsMaterial 有器材负责人且器材清单非空
func (d *Draft) NeedsMaterial() bool {
	return d.ResponsibleMaterialID != "" && len(d.Materials) > 0
}

// Patch 局部更新，nil 字段保持不变
type Patch struct {
	Info                  *Info     `json:"info"`
	ResponsibleActivityID *string   `json:"responsible_activity_id"`
	ResponsibleMaterialID *string   `json:"responsible_material_id"`
	ParticipantIDs        *[]string `json:"participant_ids"`
	Links                 *[]Link   `json:"links"`
}

// Apply 合并局部更新；修改过的页签需重新校验
func (d *Draft) Apply(p Patch) {
	if p.Info != nil {
		d.Info = *p.Info
		d.uncomplete(TabInfo)
	}
	if p.ResponsibleActivityID != nil {
		d.ResponsibleActivityID = strings.TrimSpace(*p.ResponsibleActivityID)
	}
	if p.ResponsibleMaterialID != nil {
		d.ResponsibleMaterialID = strings.TrimSpace(*p.ResponsibleMaterialID)
	}
	if p.ParticipantIDs != nil {
		d.ParticipantIDs = dedupe(*p.ParticipantIDs)
		d.uncomplete(TabParticipants)
	}
	if p.Links != nil {
		d.Links = append([]Link{}, (*p.Links)...)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ── 校验 ──

// ValidateInfo 基本信息页签校验
func ValidateInfo(info Info) FieldErrors {
	errs := FieldErrors{}
	if strings.TrimSpace(info.Name) == "" {
		errs["name"] = "名称不能为空"
	}
	if strings.TrimSpace(info.Place) == "" {
		errs["place"] = "地点不能为空"
	}
	if len(info.Type) == 0 {
		errs["type"] = "至少选择一个类型"
	}
	if len(info.Subtype) == 0 {
		errs["subtype"] = "至少选择一个子类型"
	}
	if info.StartDate == nil {
		errs["start_date"] = "开始日期不能为空"
	}
	if info.EndDate == nil {
		errs["end_date"] = "结束日期不能为空"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateParticipants 参与者页签校验
func ValidateParticipants(ids []string) FieldErrors {
	if len(ids) == 0 {
		return FieldErrors{"participant_ids": "至少选择一名参与者"}
	}
	return nil
}

// ValidateTab 校验指定页签；器材与链接页签没有阻塞性校验
func (d *Draft) ValidateTab(t Tab) FieldErrors {
	switch t {
	case TabInfo:
		return ValidateInfo(d.Info)
	case TabParticipants:
		return ValidateParticipants(d.ParticipantIDs)
	default:
		return nil
	}
}

// ValidateForSubmit 提交前校验全部阻塞页签，返回首个失败页签及其错误
func (d *Draft) ValidateForSubmit() (Tab, FieldErrors) {
	for _, t := range Tabs {
		if errs := d.ValidateTab(t); errs != nil {
			return t, errs
		}
	}
	return "", nil
}

// ── 导航 ──

// Next 校验当前页签，通过则标记完成并前进；失败时停留并记录字段错误，已填数据不变
func (d *Draft) Next() bool {
	if errs := d.ValidateTab(d.CurrentTab); errs != nil {
		d.Errors = errs
		return false
	}
	d.Errors = nil
	d.complete(d.CurrentTab)
	if i := d.CurrentTab.index(); i < len(Tabs)-1 {
		d.CurrentTab = Tabs[i+1]
	}
	return true
}

// Previous 后退不校验
func (d *Draft) Previous() {
	d.Errors = nil
	if i := d.CurrentTab.index(); i > 0 {
		d.CurrentTab = Tabs[i-1]
	}
}

// Goto 直接切换页签：后退总是允许；前进要求目标之前的页签全部通过
func (d *Draft) Goto(target Tab) bool {
	if target.index() <= d.CurrentTab.index() {
		d.Errors = nil
		d.CurrentTab = target
		return true
	}
	for _, t := range Tabs[:target.index()] {
		if errs := d.ValidateTab(t); errs != nil {
			d.Errors = errs
			return false
		}
		d.complete(t)
	}
	d.Errors = nil
	d.CurrentTab = target
	return true
}

// IsCompleted 页签是否已通过校验
func (d *Draft) IsCompleted(t Tab) bool {
	for _, c := range d.CompletedTabs {
		if c == t {
			return true
		}
	}
	return false
}

func (d *Draft) complete(t Tab) {
	if !d.IsCompleted(t) {
		d.CompletedTabs = append(d.CompletedTabs, t)
	}
}

func (d *Draft) uncomplete(t Tab) {
	out := d.CompletedTabs[:0]
	for _, c := range d.CompletedTabs {
		if c != t {
			out = append(out, c)
		}
	}
	d.CompletedTabs = out
}
