package model

// 成员角色
const (
	RoleAdmin           = "admin"
	RoleMaterialManager = "material_manager"
	RoleMember          = "member"
)

// User 成员表 — 对应 users
type User struct {
	UserID             string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"user_id"`
	Name               string `gorm:"type:varchar(100);not null"                     json:"name"`
	Email              string `gorm:"type:varchar(255);not null"                     json:"email"`
	Phone              string `gorm:"type:varchar(30)"                               json:"phone,omitempty"`
	PasswordHash       string `gorm:"type:varchar(255);not null"                     json:"-"`
	Role               string `gorm:"type:varchar(30);not null;default:'member'"     json:"role"`
	MustChangePassword bool   `gorm:"not null;default:false"                         json:"must_change_password"`
	VersionedModel
}

// TableName 指定表名
func (User) TableName() string { return "users" }
