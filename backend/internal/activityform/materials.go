package activityform

import (
	"sort"
	"strings"
)

// MergeLines 按器材合并数量，丢弃数量不为正的行，结果按器材 ID 排序
func MergeLines(lines []MaterialLine) []MaterialLine {
	sums := make(map[string]int, len(lines))
	for _, l := range lines {
		id := strings.TrimSpace(l.MaterialID)
		if id == "" || l.Quantity <= 0 {
			continue
		}
		sums[id] += l.Quantity
	}
	out := make([]MaterialLine, 0, len(sums))
	for id, q := range sums {
		out = append(out, MaterialLine{MaterialID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MaterialID < out[j].MaterialID })
	return out
}

// SetMaterials 替换器材清单
// 清单非空且未指定器材负责人时，自动指定活动负责人（否则创建者），并追加可见提示
func (d *Draft) SetMaterials(lines []MaterialLine) *Notice {
	d.Materials = MergeLines(lines)
	if len(d.Materials) == 0 || d.ResponsibleMaterialID != "" {
		return nil
	}

	assignee, message := d.ResponsibleActivityID, "已选择器材但未指定器材负责人，已自动指定为活动负责人"
	if assignee == "" {
		assignee, message = d.CreatorID, "已选择器材但未指定器材负责人，已自动指定为活动创建者"
	}
	if assignee == "" {
		return nil
	}

	d.ResponsibleMaterialID = assignee
	n := Notice{
		Code:    NoticeResponsibleMaterialAssigned,
		Message: message,
		UserID:  assignee,
	}
	d.Notices = append(d.Notices, n)
	return &n
}
