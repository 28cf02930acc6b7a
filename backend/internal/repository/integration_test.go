//go:build integration

package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"espeleo-club/backend/internal/model"
	"espeleo-club/backend/internal/repository"
	"espeleo-club/backend/pkg/database"
	pkgerrors "espeleo-club/backend/pkg/errors"
)

// ═══════════════════════════════════════════════════════════
// Test Setup
// ═══════════════════════════════════════════════════════════

var testDB *gorm.DB

func TestMain(m *testing.M) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost port=5433 user=postgres password=postgres dbname=espeleo_club_test sslmode=disable TimeZone=Europe/Madrid"
	}

	var err error
	testDB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法连接测试数据库: %v\n", err)
		os.Exit(1)
	}

	// 与生产一致走嵌入式 SQL 迁移（部分唯一索引无法由 AutoMigrate 生成）
	sqlDB, err := testDB.DB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "获取 sql.DB 失败: %v\n", err)
		os.Exit(1)
	}
	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		fmt.Fprintf(os.Stderr, "数据库迁移失败: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// setupTestData 创建基础测试数据并返回清理函数
func setupTestData(t *testing.T) (user *model.User, material *model.Material, cleanup func()) {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewRepository(testDB)

	user = &model.User{
		Name:         "Marta",
		Email:        fmt.Sprintf("marta-%d@club.test", time.Now().UnixNano()),
		PasswordHash: "x",
		Role:         model.RoleMember,
	}
	if err := repo.User.Create(ctx, user); err != nil {
		t.Fatalf("创建用户失败: %v", err)
	}

	total, available := 5, 5
	material = &model.Material{
		Name:              "Cuerda 30m",
		Type:              model.MaterialTypeRope,
		State:             model.MaterialStateAvailable,
		TotalQuantity:     &total,
		AvailableQuantity: &available,
	}
	if err := repo.Material.Create(ctx, material); err != nil {
		t.Fatalf("创建器材失败: %v", err)
	}

	cleanup = func() {
		testDB.Exec("DELETE FROM loans WHERE material_id = ?", material.MaterialID)
		testDB.Exec("DELETE FROM activity_materials WHERE material_id = ?", material.MaterialID)
		testDB.Exec("DELETE FROM activities WHERE creator_id = ?", user.UserID)
		testDB.Exec("DELETE FROM materials WHERE material_id = ?", material.MaterialID)
		testDB.Exec("DELETE FROM users WHERE user_id = ?", user.UserID)
	}
	return user, material, cleanup
}

func createActivity(t *testing.T, creatorID string) *model.Activity {
	t.Helper()
	start := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	a := &model.Activity{
		Name:           "Sima de la Torca",
		Place:          "Cantabria",
		Type:           model.StringArray{"espeleología"},
		Subtype:        model.StringArray{},
		StartDate:      start,
		EndDate:        start.Add(24 * time.Hour),
		CreatorID:      creatorID,
		ParticipantIDs: model.StringArray{creatorID},
		Status:         model.ActivityStatusPlanned,
		Links:          datatypes.JSON("[]"),
	}
	if err := repository.NewRepository(testDB).Activity.Create(context.Background(), a); err != nil {
		t.Fatalf("创建活动失败: %v", err)
	}
	return a
}

func newLoan(materialID, userID string, activityID *string, qty int) *model.Loan {
	now := time.Now().UTC()
	return &model.Loan{
		MaterialID: materialID,
		UserID:     userID,
		ActivityID: activityID,
		Quantity:   qty,
		LoanDate:   now,
		DueDate:    now.Add(72 * time.Hour),
		Status:     model.LoanStatusActive,
	}
}

// ═══════════════════════════════════════════════════════════
// Material
// ═══════════════════════════════════════════════════════════

func TestMaterialRepo_OptimisticLock(t *testing.T) {
	_, material, cleanup := setupTestData(t)
	defer cleanup()
	ctx := context.Background()
	repo := repository.NewRepository(testDB)

	first, _ := repo.Material.GetByID(ctx, material.MaterialID)
	second, _ := repo.Material.GetByID(ctx, material.MaterialID)

	first.Name = "Cuerda 30m (revisada)"
	if err := repo.Material.Update(ctx, first); err != nil {
		t.Fatalf("首次更新应成功: %v", err)
	}

	second.Name = "Cuerda 30m (otra)"
	if err := repo.Material.Update(ctx, second); !errors.Is(err, pkgerrors.ErrOptimisticLock) {
		t.Errorf("旧版本更新应返回 ErrOptimisticLock，实际: %v", err)
	}

	got, _ := repo.Material.GetByID(ctx, material.MaterialID)
	if got.Name != "Cuerda 30m (revisada)" || got.Version != first.Version {
		t.Errorf("期望保留首次更新，实际 name=%s version=%d", got.Name, got.Version)
	}
}

func TestMaterialRepo_GetForUpdate_NotFound(t *testing.T) {
	repo := repository.NewRepository(testDB)
	err := repo.Transaction(context.Background(), func(tx *repository.Repository) error {
		_, err := tx.Material.GetForUpdate(context.Background(), "00000000-0000-0000-0000-000000000000")
		return err
	})
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("期望 ErrRecordNotFound，实际: %v", err)
	}
}

// ═══════════════════════════════════════════════════════════
// Transaction
// ═══════════════════════════════════════════════════════════

func TestRepository_TransactionRollback(t *testing.T) {
	user, material, cleanup := setupTestData(t)
	defer cleanup()
	ctx := context.Background()
	repo := repository.NewRepository(testDB)

	boom := errors.New("boom")
	err := repo.Transaction(ctx, func(tx *repository.Repository) error {
		if err := tx.Loan.Create(ctx, newLoan(material.MaterialID, user.UserID, nil, 2)); err != nil {
			return err
		}
		zero := 3
		if err := tx.Material.SetAvailable(ctx, material.MaterialID, &zero); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("期望返回 fn 的错误，实际: %v", err)
	}

	qty, _ := repo.Loan.ActiveQuantities(ctx, []string{material.MaterialID})
	if len(qty[material.MaterialID]) != 0 {
		t.Error("回滚后不应存在借用记录")
	}
	got, _ := repo.Material.GetByID(ctx, material.MaterialID)
	if got.AvailableQuantity == nil || *got.AvailableQuantity != 5 {
		t.Errorf("回滚后可用数量应为 5，实际 %v", got.AvailableQuantity)
	}
}

// ═══════════════════════════════════════════════════════════
// Loan
// ═══════════════════════════════════════════════════════════

func TestLoanRepo_ActiveQuantities(t *testing.T) {
	user, material, cleanup := setupTestData(t)
	defer cleanup()
	ctx := context.Background()
	repo := repository.NewRepository(testDB)

	for _, q := range []int{2, 1, 1} {
		if err := repo.Loan.Create(ctx, newLoan(material.MaterialID, user.UserID, nil, q)); err != nil {
			t.Fatalf("创建借用失败: %v", err)
		}
	}
	returned := newLoan(material.MaterialID, user.UserID, nil, 3)
	now := time.Now()
	returned.ReturnDate = &now
	returned.Status = model.LoanStatusReturned
	if err := repo.Loan.Create(ctx, returned); err != nil {
		t.Fatalf("创建已归还借用失败: %v", err)
	}

	qty, err := repo.Loan.ActiveQuantities(ctx, []string{material.MaterialID})
	if err != nil {
		t.Fatalf("ActiveQuantities 失败: %v", err)
	}
	got := qty[material.MaterialID]
	sort.Ints(got)
	if fmt.Sprint(got) != "[1 1 2]" {
		t.Errorf("期望 [1 1 2]，实际 %v", got)
	}
}

func TestLoanRepo_OneOpenLoanPerActivityMaterial(t *testing.T) {
	user, material, cleanup := setupTestData(t)
	defer cleanup()
	ctx := context.Background()
	repo := repository.NewRepository(testDB)
	a := createActivity(t, user.UserID)

	first := newLoan(material.MaterialID, user.UserID, &a.ActivityID, 1)
	if err := repo.Loan.Create(ctx, first); err != nil {
		t.Fatalf("首条借用应成功: %v", err)
	}
	if err := repo.Loan.Create(ctx, newLoan(material.MaterialID, user.UserID, &a.ActivityID, 1)); err == nil {
		t.Fatal("同一活动同一器材的第二条未归还借用应被唯一索引拒绝")
	}

	now := time.Now()
	first.ReturnDate = &now
	first.Status = model.LoanStatusReturned
	if err := repo.Loan.Update(ctx, first); err != nil {
		t.Fatalf("归还失败: %v", err)
	}
	if err := repo.Loan.Create(ctx, newLoan(material.MaterialID, user.UserID, &a.ActivityID, 2)); err != nil {
		t.Errorf("归还后应可重新借出: %v", err)
	}

	open, err := repo.Loan.GetActiveByActivityMaterial(ctx, a.ActivityID, material.MaterialID)
	if err != nil || open.Quantity != 2 {
		t.Errorf("期望查到数量为 2 的未归还借用，实际 %+v err=%v", open, err)
	}
}

func TestLoanRepo_ListOverdueDerived(t *testing.T) {
	user, material, cleanup := setupTestData(t)
	defer cleanup()
	ctx := context.Background()
	repo := repository.NewRepository(testDB)

	overdue := newLoan(material.MaterialID, user.UserID, nil, 1)
	overdue.DueDate = time.Now().Add(-time.Hour)
	_ = repo.Loan.Create(ctx, overdue)
	_ = repo.Loan.Create(ctx, newLoan(material.MaterialID, user.UserID, nil, 1))

	list, err := repo.Loan.ListAll(ctx, repository.LoanFilter{
		Status:     model.LoanStatusOverdue,
		MaterialID: material.MaterialID,
		Now:        time.Now(),
	})
	if err != nil {
		t.Fatalf("ListAll 失败: %v", err)
	}
	if len(list) != 1 || list[0].LoanID != overdue.LoanID {
		t.Errorf("期望只返回逾期借用，实际 %d 条", len(list))
	}
}

// ═══════════════════════════════════════════════════════════
// User / Configuration
// ═══════════════════════════════════════════════════════════

func TestUserRepo_EmailCaseInsensitiveUnique(t *testing.T) {
	user, _, cleanup := setupTestData(t)
	defer cleanup()
	ctx := context.Background()
	repo := repository.NewRepository(testDB)

	dup := &model.User{Name: "Dup", Email: user.Email, PasswordHash: "x", Role: model.RoleMember}
	dup.Email = "MARTA" + dup.Email[len("marta"):]
	if err := repo.User.Create(ctx, dup); err == nil {
		testDB.Exec("DELETE FROM users WHERE user_id = ?", dup.UserID)
		t.Error("大小写不同的重复邮箱应被拒绝")
	}

	got, err := repo.User.GetByEmail(ctx, user.Email)
	if err != nil || got.UserID != user.UserID {
		t.Errorf("GetByEmail 失败: %v", err)
	}
}

func TestConfigurationRepo_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewRepository(testDB)
	defer testDB.Exec("DELETE FROM configuration WHERE key = ?", model.ConfigKeyNotifications)

	for _, v := range []string{`{"loan_due_reminder_days":1}`, `{"loan_due_reminder_days":3}`} {
		if err := repo.Configuration.Upsert(ctx, &model.Configuration{Key: model.ConfigKeyNotifications, Value: datatypes.JSON(v)}); err != nil {
			t.Fatalf("Upsert 失败: %v", err)
		}
	}

	row, err := repo.Configuration.Get(ctx, model.ConfigKeyNotifications)
	if err != nil {
		t.Fatalf("Get 失败: %v", err)
	}
	if string(row.Value) != `{"loan_due_reminder_days": 3}` && string(row.Value) != `{"loan_due_reminder_days":3}` {
		t.Errorf("期望保存最新值，实际 %s", row.Value)
	}
}
