package service

import (
	"math"
	"strconv"
	"strings"

	"espeleo-club/backend/internal/model"
)

// AvailabilityResult 可用数量计算结果
type AvailabilityResult struct {
	Total     int  // 参与计算的总量（缺陷时为类型默认值）
	Available int  // max(0, Total − Σ 未归还数量)
	Defaulted bool // 总量缺失/非法或存在负数借用量
}

// QuantityDefaults 总量缺失时按类型回退的默认值
type QuantityDefaults struct {
	Rope   int
	Anchor int
	Misc   int
}

// DefaultQuantities 绳索 1，锚点 10，其他 1
func DefaultQuantities() QuantityDefaults {
	return QuantityDefaults{Rope: 1, Anchor: 10, Misc: 1}
}

// NewQuantityDefaults 锚点默认值来自配置，非正数时使用内置值
func NewQuantityDefaults(anchor int) QuantityDefaults {
	d := DefaultQuantities()
	if anchor > 0 {
		d.Anchor = anchor
	}
	return d
}

// For 按器材类型取默认总量，未知类型按其他处理
func (d QuantityDefaults) For(materialType string) int {
	switch materialType {
	case model.MaterialTypeRope:
		return d.Rope
	case model.MaterialTypeAnchor:
		return d.Anchor
	default:
		return d.Misc
	}
}

// Calculate 计算可用数量，纯函数
func (d QuantityDefaults) Calculate(total *int, materialType string, activeLoanQuantities []int) AvailabilityResult {
	res := AvailabilityResult{}
	if total == nil || *total < 0 {
		res.Total = d.For(materialType)
		res.Defaulted = true
	} else {
		res.Total = *total
	}

	lent := 0
	for _, q := range activeLoanQuantities {
		if q < 0 {
			res.Defaulted = true
			continue
		}
		lent += q
	}

	if avail := res.Total - lent; avail > 0 {
		res.Available = avail
	}
	return res
}

// CalculateAvailability 使用内置默认值计算可用数量
func CalculateAvailability(total *int, materialType string, activeLoanQuantities []int) AvailabilityResult {
	return DefaultQuantities().Calculate(total, materialType, activeLoanQuantities)
}

// CoalesceQuantity 将导入单元格或历史值转换为合法数量；非数字、负数、小数返回 nil, false
func CoalesceQuantity(raw string) (*int, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return nil, false
		}
		return &n, true
	}
	// 电子表格常把整数存成 "3.0"
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return nil, false
	}
	n := int(f)
	return &n, true
}
