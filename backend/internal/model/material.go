package model

// 器材类型（封闭集合）
const (
	MaterialTypeRope   = "rope"
	MaterialTypeAnchor = "anchor"
	MaterialTypeMisc   = "misc"
)

// MaterialTypes 全部合法器材类型，顺序即前端分组标签顺序
var MaterialTypes = []string{MaterialTypeRope, MaterialTypeAnchor, MaterialTypeMisc}

// 器材状态
const (
	MaterialStateAvailable   = "available"
	MaterialStateUnavailable = "unavailable"
	MaterialStateReview      = "review"
)

// MaterialStates 全部合法器材状态
var MaterialStates = []string{MaterialStateAvailable, MaterialStateUnavailable, MaterialStateReview}

// Material 器材表 — 对应 materials
// TotalQuantity 为 nil 表示历史数据缺陷；AvailableQuantity 为派生字段，每次写入时重算
type Material struct {
	MaterialID        string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"material_id"`
	Name              string `gorm:"type:varchar(150);not null"                     json:"name"`
	Code              string `gorm:"type:varchar(60);not null;default:''"           json:"code"`
	Description       string `gorm:"type:text;not null;default:''"                  json:"description"`
	Type              string `gorm:"type:varchar(20);not null;default:'misc'"       json:"type"`
	State             string `gorm:"type:varchar(20);not null;default:'available'"  json:"state"`
	TotalQuantity     *int   `gorm:"column:total_quantity"                          json:"total_quantity"`
	AvailableQuantity *int   `gorm:"column:available_quantity"                      json:"available_quantity"`
	VersionedBaseModel
}

// TableName 指定表名
func (Material) TableName() string { return "materials" }

// IsLendable 只有 available 状态的器材可以新增借用
func (m *Material) IsLendable() bool { return m.State == MaterialStateAvailable }

// IsValidMaterialType 判断类型是否在封闭集合内
func IsValidMaterialType(t string) bool {
	for _, v := range MaterialTypes {
		if v == t {
			return true
		}
	}
	return false
}
