package service

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"espeleo-club/backend/internal/dto"
	"espeleo-club/backend/internal/model"
	"espeleo-club/backend/internal/repository"
	pkgerrors "espeleo-club/backend/pkg/errors"
	applogger "espeleo-club/backend/pkg/logger"
)

// ── 成员模块业务错误 ──

var (
	ErrEmailExists        = errors.New("邮箱已被使用")
	ErrUserSelfRoleChange = errors.New("不能修改自己的角色")
	ErrUserSelfDelete     = errors.New("不能删除自己")
	ErrNoPermission       = errors.New("无权操作")
)

// UserService 成员业务接口
type UserService interface {
	CreateUser(ctx context.Context, req *dto.CreateUserRequest, callerID string) (*dto.CreateUserResponse, error)
	GetByID(ctx context.Context, id string) (*dto.UserResponse, error)
	List(ctx context.Context, req *dto.UserListRequest) ([]dto.UserResponse, int64, error)
	Update(ctx context.Context, id string, req *dto.UpdateUserRequest, callerID, callerRole string) (*dto.UserResponse, error)
	AssignRole(ctx context.Context, id string, req *dto.AssignRoleRequest, callerID string) error
	Delete(ctx context.Context, id string, callerID string) error
}

type userService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewUserService 创建 UserService 实例
func NewUserService(repo *repository.Repository, logger *zap.Logger) UserService {
	return &userService{repo: repo, logger: logger}
}

// ────────────────────── CreateUser ──────────────────────

func (s *userService) CreateUser(ctx context.Context, req *dto.CreateUserRequest, callerID string) (*dto.CreateUserResponse, error) {
	// 检查邮箱唯一性
	if _, err := s.repo.User.GetByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	tempPassword, err := generateTempPassword(10)
	if err != nil {
		applogger.FromContext(ctx, s.logger).Error("生成临时密码失败", zap.Error(err))
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
	if err != nil {
		applogger.FromContext(ctx, s.logger).Error("密码哈希失败", zap.Error(err))
		return nil, err
	}

	user := &model.User{
		Name:               req.Name,
		Email:              req.Email,
		Phone:              req.Phone,
		PasswordHash:       string(hash),
		Role:               req.Role,
		MustChangePassword: true,
		VersionedModel:     model.VersionedModel{SoftDeleteModel: model.SoftDeleteModel{BaseModel: model.BaseModel{CreatedBy: &callerID}}},
	}
	if err := s.repo.User.Create(ctx, user); err != nil {
		if pkgerrors.IsDuplicateKey(err) {
			return nil, ErrEmailExists
		}
		applogger.FromContext(ctx, s.logger).Error("创建用户失败", zap.Error(err))
		return nil, err
	}

	return &dto.CreateUserResponse{
		User:         toUserResponse(user),
		TempPassword: tempPassword,
	}, nil
}

// ────────────────────── GetByID ──────────────────────

func (s *userService) GetByID(ctx context.Context, id string) (*dto.UserResponse, error) {
	user, err := s.repo.User.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		applogger.FromContext(ctx, s.logger).Error("查询用户失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	resp := toUserResponse(user)
	return &resp, nil
}

// ────────────────────── List ──────────────────────

func (s *userService) List(ctx context.Context, req *dto.UserListRequest) ([]dto.UserResponse, int64, error) {
	users, total, err := s.repo.User.List(ctx,
		repository.UserFilter{Keyword: req.Keyword, Role: req.Role},
		req.GetOffset(), req.GetPageSize())
	if err != nil {
		applogger.FromContext(ctx, s.logger).Error("查询用户列表失败", zap.Error(err))
		return nil, 0, err
	}

	list := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		list = append(list, toUserResponse(&users[i]))
	}
	return list, total, nil
}

// ────────────────────── Update ──────────────────────

func (s *userService) Update(ctx context.Context, id string, req *dto.UpdateUserRequest, callerID, callerRole string) (*dto.UserResponse, error) {
	if callerID != id && callerRole != model.RoleAdmin {
		return nil, ErrNoPermission
	}

	user, err := s.repo.User.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if req.Email != nil && *req.Email != user.Email {
		if other, err := s.repo.User.GetByEmail(ctx, *req.Email); err == nil && other.UserID != id {
			return nil, ErrEmailExists
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		user.Email = *req.Email
	}
	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Phone != nil {
		user.Phone = *req.Phone
	}
	user.UpdatedBy = &callerID

	if err := s.repo.User.Update(ctx, user); err != nil {
		applogger.FromContext(ctx, s.logger).Error("更新用户失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	resp := toUserResponse(user)
	return &resp, nil
}

// ────────────────────── AssignRole ──────────────────────

func (s *userService) AssignRole(ctx context.Context, id string, req *dto.AssignRoleRequest, callerID string) error {
	if id == callerID {
		return ErrUserSelfRoleChange
	}
	user, err := s.repo.User.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	user.Role = req.Role
	user.UpdatedBy = &callerID
	if err := s.repo.User.Update(ctx, user); err != nil {
		applogger.FromContext(ctx, s.logger).Error("分配角色失败", zap.String("id", id), zap.Error(err))
		return err
	}
	applogger.FromContext(ctx, s.logger).Info("成员角色已变更", zap.String("id", id), zap.String("role", req.Role), zap.String("by", callerID))
	return nil
}

// ────────────────────── Delete ──────────────────────

func (s *userService) Delete(ctx context.Context, id string, callerID string) error {
	if id == callerID {
		return ErrUserSelfDelete
	}
	if err := s.repo.User.Delete(ctx, id, callerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		applogger.FromContext(ctx, s.logger).Error("删除用户失败", zap.String("id", id), zap.Error(err))
		return err
	}
	return nil
}

// ── 辅助 ──

func toUserResponse(u *model.User) dto.UserResponse {
	return dto.UserResponse{
		ID:                 u.UserID,
		Name:               u.Name,
		Email:              u.Email,
		Phone:              u.Phone,
		Role:               u.Role,
		MustChangePassword: u.MustChangePassword,
		Version:            u.Version,
		CreatedAt:          formatTime(u.CreatedAt),
	}
}

// generateTempPassword 生成指定长度的临时密码（保证包含字母和数字）
func generateTempPassword(length int) (string, error) {
	const letters = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"
	const digits = "23456789"
	const all = letters + digits

	if length < 4 {
		length = 8
	}
	result := make([]byte, length)

	pick := func(set string) (byte, error) {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
		if err != nil {
			return 0, err
		}
		return set[n.Int64()], nil
	}

	var err error
	if result[0], err = pick(letters); err != nil {
		return "", err
	}
	if result[1], err = pick(digits); err != nil {
		return "", err
	}
	for i := 2; i < length; i++ {
		if result[i], err = pick(all); err != nil {
			return "", err
		}
	}

	// Fisher-Yates 洗牌
	for i := length - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		result[i], result[j.Int64()] = result[j.Int64()], result[i]
	}
	return string(result), nil
}
