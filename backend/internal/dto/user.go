package dto

// ── 成员模块 DTO ──

// UserListRequest 成员列表查询参数
type UserListRequest struct {
	PaginationRequest
	Role    string `form:"role"    binding:"omitempty,oneof=admin material_manager member"`
	Keyword string `form:"keyword" binding:"omitempty,max=50"`
}

// CreateUserRequest 创建成员请求（管理员）
type CreateUserRequest struct {
	Name  string `json:"name"  binding:"required,min=2,max=100"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone" binding:"omitempty,max=30"`
	Role  string `json:"role"  binding:"required,oneof=admin material_manager member"`
}

// UpdateUserRequest 更新成员信息请求
type UpdateUserRequest struct {
	Name  *string `json:"name"  binding:"omitempty,min=2,max=100"`
	Email *string `json:"email" binding:"omitempty,email"`
	Phone *string `json:"phone" binding:"omitempty,max=30"`
}

// AssignRoleRequest 分配角色请求
type AssignRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=admin material_manager member"`
}

// CreateUserResponse 创建成员响应，临时密码只返回一次
type CreateUserResponse struct {
	User         UserResponse `json:"user"`
	TempPassword string       `json:"temp_password"`
}
