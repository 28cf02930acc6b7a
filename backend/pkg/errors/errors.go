package errors

import (
	"errors"

	"gorm.io/gorm"
)

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = errors.New("数据已被其他操作修改，请刷新后重试")

// IsDuplicateKey 唯一约束冲突（需 gorm.Config.TranslateError）
// 并发请求越过应用层查重时由数据库索引兜底：用户邮箱、活动+器材的未归还借用
func IsDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
