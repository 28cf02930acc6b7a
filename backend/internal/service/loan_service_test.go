package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"espeleo-club/backend/config"
	"espeleo-club/backend/internal/dto"
	"espeleo-club/backend/internal/model"
	"espeleo-club/backend/pkg/metrics"
)

var loanTestNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func setupTestLoanService() (LoanService, *testRepos, *metrics.Metrics) {
	repos := newTestRepos()
	m := metrics.New()
	svc := NewLoanService(&config.LoanConfig{DefaultDays: 7}, repos.repo, DefaultQuantities(), m, zap.NewNop())
	svc.(*loanService).now = func() time.Time { return loanTestNow }

	repos.addUser("u1", "Marta", model.RoleMember)
	repos.addUser("u2", "Jorge", model.RoleMember)
	repos.addUser("u-admin", "Admin", model.RoleMaterialManager)
	repos.addMaterial("m1", "Cuerda 30m", model.MaterialTypeRope, intPtr(5))
	return svc, repos, m
}

// ── Create ──

func TestLoanService_Create_Success(t *testing.T) {
	svc, repos, _ := setupTestLoanService()

	resp, err := svc.Create(context.Background(), &dto.CreateLoanRequest{MaterialID: "m1", Quantity: 2}, "u1")
	if err != nil {
		t.Fatalf("Create 应成功: %v", err)
	}
	if resp.UserID != "u1" || resp.Status != model.LoanStatusActive {
		t.Errorf("未指定借用人时应借给调用者，实际 %+v", resp)
	}
	if resp.DueDate != formatTime(loanTestNow.AddDate(0, 0, 7)) {
		t.Errorf("默认归还日期应为 7 天后，实际=%s", resp.DueDate)
	}
	if repos.available("m1") != 3 {
		t.Errorf("期望 available=3，实际=%d", repos.available("m1"))
	}
}

func TestLoanService_Create_InsufficientStock(t *testing.T) {
	svc, repos, _ := setupTestLoanService()
	addActiveLoan(repos, "m1", "u2", 4)

	_, err := svc.Create(context.Background(), &dto.CreateLoanRequest{MaterialID: "m1", Quantity: 2}, "u1")
	if !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("期望 ErrInsufficientStock，实际: %v", err)
	}
	if len(repos.loans.loans) != 1 {
		t.Errorf("失败时不应创建借用，实际 %d 条", len(repos.loans.loans))
	}
}

func TestLoanService_Create_NotLendable(t *testing.T) {
	svc, repos, _ := setupTestLoanService()
	repos.materials.materials["m1"].State = model.MaterialStateReview

	_, err := svc.Create(context.Background(), &dto.CreateLoanRequest{MaterialID: "m1", Quantity: 1}, "u1")
	if !errors.Is(err, ErrMaterialNotLendable) {
		t.Errorf("期望 ErrMaterialNotLendable，实际: %v", err)
	}
}

func TestLoanService_Create_DueDateInPast(t *testing.T) {
	svc, _, _ := setupTestLoanService()
	past := loanTestNow.Add(-time.Hour)

	_, err := svc.Create(context.Background(), &dto.CreateLoanRequest{MaterialID: "m1", Quantity: 1, DueDate: &past}, "u1")
	if !errors.Is(err, ErrDueDateInPast) {
		t.Errorf("期望 ErrDueDateInPast，实际: %v", err)
	}
}

func TestLoanService_Create_BorrowerAbsent(t *testing.T) {
	svc, _, _ := setupTestLoanService()

	_, err := svc.Create(context.Background(), &dto.CreateLoanRequest{MaterialID: "m1", UserID: "ghost", Quantity: 1}, "u-admin")
	if !errors.Is(err, ErrBorrowerAbsent) {
		t.Errorf("期望 ErrBorrowerAbsent，实际: %v", err)
	}
}

func TestLoanService_Create_MaterialNotFound(t *testing.T) {
	svc, _, _ := setupTestLoanService()

	_, err := svc.Create(context.Background(), &dto.CreateLoanRequest{MaterialID: "missing", Quantity: 1}, "u1")
	if !errors.Is(err, ErrMaterialNotFound) {
		t.Errorf("期望 ErrMaterialNotFound，实际: %v", err)
	}
}

// ── Return ──

func TestLoanService_Return_Idempotent(t *testing.T) {
	svc, repos, m := setupTestLoanService()
	created, _ := svc.Create(context.Background(), &dto.CreateLoanRequest{MaterialID: "m1", Quantity: 2}, "u1")

	resp, err := svc.Return(context.Background(), created.ID, &dto.ReturnLoanRequest{Notes: "ok"}, "u1", model.RoleMember)
	if err != nil {
		t.Fatalf("Return 应成功: %v", err)
	}
	if resp.Status != model.LoanStatusReturned || resp.ReturnDate == nil {
		t.Errorf("期望已归还，实际 %+v", resp)
	}
	if repos.available("m1") != 5 {
		t.Errorf("归还后 available 应恢复为 5，实际=%d", repos.available("m1"))
	}

	if _, err := svc.Return(context.Background(), created.ID, nil, "u1", model.RoleMember); err != nil {
		t.Fatalf("重复归还应成功: %v", err)
	}
	if repos.available("m1") != 5 {
		t.Errorf("重复归还不应改变库存，实际=%d", repos.available("m1"))
	}
	if !strings.Contains(scrape(m), "loans_returned_total 1") {
		t.Error("期望归还计数=1")
	}
}

func TestLoanService_Return_Forbidden(t *testing.T) {
	svc, _, _ := setupTestLoanService()
	created, _ := svc.Create(context.Background(), &dto.CreateLoanRequest{MaterialID: "m1", Quantity: 1}, "u1")

	_, err := svc.Return(context.Background(), created.ID, nil, "u2", model.RoleMember)
	if !errors.Is(err, ErrLoanForbidden) {
		t.Errorf("期望 ErrLoanForbidden，实际: %v", err)
	}

	if _, err := svc.Return(context.Background(), created.ID, nil, "u-admin", model.RoleMaterialManager); err != nil {
		t.Errorf("器材管理员应可代为归还: %v", err)
	}
}

func TestLoanService_Return_NotFound(t *testing.T) {
	svc, _, _ := setupTestLoanService()

	_, err := svc.Return(context.Background(), "missing", nil, "u1", model.RoleMember)
	if !errors.Is(err, ErrLoanNotFound) {
		t.Errorf("期望 ErrLoanNotFound，实际: %v", err)
	}
}

// ── 读取 ──

func TestLoanService_GetByID_DerivesOverdue(t *testing.T) {
	svc, repos, _ := setupTestLoanService()
	l := &model.Loan{
		MaterialID: "m1", UserID: "u1", Quantity: 1,
		LoanDate: loanTestNow.AddDate(0, 0, -10),
		DueDate:  loanTestNow.AddDate(0, 0, -1),
		Status:   model.LoanStatusActive,
	}
	_ = repos.loans.Create(context.Background(), l)

	resp, err := svc.GetByID(context.Background(), l.LoanID, "u1", model.RoleMember)
	if err != nil {
		t.Fatalf("GetByID 应成功: %v", err)
	}
	if resp.Status != model.LoanStatusOverdue {
		t.Errorf("期望 status=overdue，实际=%s", resp.Status)
	}

	if _, err := svc.GetByID(context.Background(), l.LoanID, "u2", model.RoleMember); !errors.Is(err, ErrLoanForbidden) {
		t.Errorf("他人借用应拒绝访问，实际: %v", err)
	}
}

func TestLoanService_ListMine(t *testing.T) {
	svc, _, _ := setupTestLoanService()
	_, _ = svc.Create(context.Background(), &dto.CreateLoanRequest{MaterialID: "m1", Quantity: 1}, "u1")
	_, _ = svc.Create(context.Background(), &dto.CreateLoanRequest{MaterialID: "m1", Quantity: 1}, "u2")

	list, total, err := svc.ListMine(context.Background(), "u1", &dto.LoanListRequest{UserID: "u2"})
	if err != nil {
		t.Fatalf("ListMine 应成功: %v", err)
	}
	if total != 1 || list[0].UserID != "u1" {
		t.Errorf("ListMine 只应返回本人借用，实际 %+v", list)
	}
}

func scrape(m *metrics.Metrics) string {
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return w.Body.String()
}
