package activityform

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SelectionTabAll 不按类型过滤
const SelectionTabAll = "all"

// BlockedNoResponsible 未指定器材负责人时的阻塞说明
const BlockedNoResponsible = "请先在参与者页签中指定器材负责人，再选择器材"

// CatalogItem 器材目录条目（可用数量已由计算器修正为非负整数）
type CatalogItem struct {
	MaterialID       string `json:"material_id"`
	Name             string `json:"name"`
	Code             string `json:"code"`
	Description      string `json:"description"`
	Type             string `json:"type"`
	State            string `json:"state"`
	Total            int    `json:"total_quantity"`
	Available        int    `json:"available_quantity"`
	DataQualityIssue bool   `json:"data_quality_issue"`
	Selected         int    `json:"selected_quantity"`
}

// SelectionView 器材选择视图
type SelectionView struct {
	Blocked       bool           `json:"blocked"`
	BlockedReason string         `json:"blocked_reason,omitempty"`
	Tab           string         `json:"tab"`
	Search        string         `json:"search"`
	Groups        map[string]int `json:"groups"`
	Items         []CatalogItem  `json:"items"`
	Selected      []MaterialLine `json:"selected"`
	NeedsMaterial bool           `json:"needs_material"`
}

// BuildSelection 生成器材选择视图，并把 tab/search 记到草稿上
// Groups 统计各类型中匹配搜索词的条目数（含 all），Items 再按当前页签过滤
func BuildSelection(d *Draft, catalog []CatalogItem, tab, search string) SelectionView {
	if tab == "" {
		tab = SelectionTabAll
	}
	d.MaterialTab = tab
	d.MaterialSearch = search

	view := SelectionView{
		Tab:           tab,
		Search:        search,
		Groups:        map[string]int{},
		Items:         []CatalogItem{},
		Selected:      append([]MaterialLine{}, d.Materials...),
		NeedsMaterial: d.NeedsMaterial(),
	}
	if d.ResponsibleMaterialID == "" {
		view.Blocked = true
		view.BlockedReason = BlockedNoResponsible
		return view
	}

	selected := make(map[string]int, len(d.Materials))
	for _, l := range d.Materials {
		selected[l.MaterialID] = l.Quantity
	}

	for _, item := range FilterCatalog(catalog, SelectionTabAll, search) {
		view.Groups[SelectionTabAll]++
		view.Groups[item.Type]++
		if tab != SelectionTabAll && item.Type != tab {
			continue
		}
		item.Selected = selected[item.MaterialID]
		view.Items = append(view.Items, item)
	}
	return view
}

// FilterCatalog 按页签与搜索词过滤；搜索对大小写和重音不敏感，匹配名称、编号、描述
func FilterCatalog(catalog []CatalogItem, tab, search string) []CatalogItem {
	needle := Fold(strings.TrimSpace(search))
	out := make([]CatalogItem, 0, len(catalog))
	for _, item := range catalog {
		if tab != "" && tab != SelectionTabAll && item.Type != tab {
			continue
		}
		if needle != "" &&
			!strings.Contains(Fold(item.Name), needle) &&
			!strings.Contains(Fold(item.Code), needle) &&
			!strings.Contains(Fold(item.Description), needle) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Fold 去除重音并做大小写折叠，"Mosquetón" → "mosqueton"
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(stripped)
}
