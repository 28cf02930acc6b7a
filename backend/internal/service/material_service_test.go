package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"espeleo-club/backend/internal/dto"
	"espeleo-club/backend/internal/model"
	pkgerrors "espeleo-club/backend/pkg/errors"
)

func setupTestMaterialService() (MaterialService, *testRepos) {
	repos := newTestRepos()
	return NewMaterialService(repos.repo, DefaultQuantities(), nil, zap.NewNop()), repos
}

func addActiveLoan(repos *testRepos, materialID, userID string, qty int) *model.Loan {
	l := &model.Loan{
		MaterialID: materialID,
		UserID:     userID,
		Quantity:   qty,
		LoanDate:   time.Now().Add(-time.Hour),
		DueDate:    time.Now().Add(48 * time.Hour),
		Status:     model.LoanStatusActive,
	}
	_ = repos.loans.Create(context.Background(), l)
	return l
}

// ── Create / GetByID ──

func TestMaterialService_Create(t *testing.T) {
	svc, repos := setupTestMaterialService()

	resp, err := svc.Create(context.Background(), &dto.CreateMaterialRequest{
		Name:          "Cuerda 60m",
		Code:          " C-60 ",
		Type:          model.MaterialTypeRope,
		TotalQuantity: intPtr(4),
	}, "u-admin")
	if err != nil {
		t.Fatalf("Create 应成功: %v", err)
	}
	if resp.TotalQuantity != 4 || resp.AvailableQuantity != 4 {
		t.Errorf("期望 total=4 available=4，实际 %+v", resp)
	}
	if resp.Code != "C-60" {
		t.Errorf("编号应去除首尾空格，实际=%q", resp.Code)
	}
	if repos.available(resp.ID) != 4 {
		t.Error("可用数量应写入存储")
	}
}

func TestMaterialService_GetByID_Available(t *testing.T) {
	svc, repos := setupTestMaterialService()
	repos.addMaterial("m1", "Cuerda 30m", model.MaterialTypeRope, intPtr(5))
	addActiveLoan(repos, "m1", "u1", 2)
	addActiveLoan(repos, "m1", "u2", 1)

	resp, err := svc.GetByID(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetByID 应成功: %v", err)
	}
	if resp.AvailableQuantity != 2 {
		t.Errorf("期望 available=2，实际=%d", resp.AvailableQuantity)
	}
	if resp.DataQualityIssue {
		t.Error("数据完整时不应标记缺陷")
	}
}

func TestMaterialService_GetByID_MissingTotalFallsBack(t *testing.T) {
	svc, repos := setupTestMaterialService()
	repos.addMaterial("m1", "Spit", model.MaterialTypeAnchor, nil)
	addActiveLoan(repos, "m1", "u1", 4)

	resp, err := svc.GetByID(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetByID 应成功: %v", err)
	}
	if !resp.DataQualityIssue {
		t.Error("总量缺失应标记数据缺陷")
	}
	if resp.TotalQuantity != 10 || resp.AvailableQuantity != 6 {
		t.Errorf("锚点默认总量 10，期望 available=6，实际 %+v", resp)
	}
}

func TestMaterialService_GetByID_NotFound(t *testing.T) {
	svc, _ := setupTestMaterialService()

	_, err := svc.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrMaterialNotFound) {
		t.Errorf("期望 ErrMaterialNotFound，实际: %v", err)
	}
}

// ── Update ──

func TestMaterialService_Update_RecomputesAvailable(t *testing.T) {
	svc, repos := setupTestMaterialService()
	repos.addMaterial("m1", "Cuerda 30m", model.MaterialTypeRope, intPtr(5))
	addActiveLoan(repos, "m1", "u1", 2)

	resp, err := svc.Update(context.Background(), "m1", &dto.UpdateMaterialRequest{
		Version:       1,
		TotalQuantity: intPtr(8),
	}, "u-admin")
	if err != nil {
		t.Fatalf("Update 应成功: %v", err)
	}
	if resp.AvailableQuantity != 6 || resp.Version != 2 {
		t.Errorf("期望 available=6 version=2，实际 %+v", resp)
	}
	if repos.available("m1") != 6 {
		t.Errorf("存储中的可用数量应为 6，实际=%d", repos.available("m1"))
	}
}

func TestMaterialService_Update_TotalBelowLent(t *testing.T) {
	svc, repos := setupTestMaterialService()
	repos.addMaterial("m1", "Cuerda 30m", model.MaterialTypeRope, intPtr(5))
	addActiveLoan(repos, "m1", "u1", 3)

	_, err := svc.Update(context.Background(), "m1", &dto.UpdateMaterialRequest{
		Version:       1,
		TotalQuantity: intPtr(2),
	}, "u-admin")
	if !errors.Is(err, ErrMaterialTotalBelowLent) {
		t.Errorf("期望 ErrMaterialTotalBelowLent，实际: %v", err)
	}
}

func TestMaterialService_Update_VersionConflict(t *testing.T) {
	svc, repos := setupTestMaterialService()
	repos.addMaterial("m1", "Cuerda 30m", model.MaterialTypeRope, intPtr(5))

	name := "Cuerda 35m"
	_, err := svc.Update(context.Background(), "m1", &dto.UpdateMaterialRequest{Version: 7, Name: &name}, "u-admin")
	if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
		t.Errorf("期望 ErrOptimisticLock，实际: %v", err)
	}
}

// ── ChangeState ──

func TestMaterialService_ChangeState(t *testing.T) {
	svc, repos := setupTestMaterialService()
	repos.addMaterial("m1", "Cuerda 30m", model.MaterialTypeRope, intPtr(5))

	resp, err := svc.ChangeState(context.Background(), "m1", &dto.ChangeMaterialStateRequest{
		Version: 1,
		State:   model.MaterialStateReview,
	}, "u-admin")
	if err != nil {
		t.Fatalf("ChangeState 应成功: %v", err)
	}
	if resp.State != model.MaterialStateReview {
		t.Errorf("期望 state=review，实际=%s", resp.State)
	}
}

// ── Recalculate ──

func TestMaterialService_Recalculate(t *testing.T) {
	svc, repos := setupTestMaterialService()
	repos.addMaterial("m1", "Cuerda 30m", model.MaterialTypeRope, intPtr(5))
	repos.addMaterial("m2", "Spit", model.MaterialTypeAnchor, nil)
	repos.addMaterial("m3", "Saca", model.MaterialTypeMisc, intPtr(2))
	addActiveLoan(repos, "m1", "u1", 3) // 存储值仍为 5，需修复

	resp, err := svc.Recalculate(context.Background())
	if err != nil {
		t.Fatalf("Recalculate 应成功: %v", err)
	}
	if resp.Checked != 3 || resp.Updated != 2 {
		t.Errorf("期望 checked=3 updated=2，实际 %+v", resp)
	}
	if len(resp.Defective) != 1 || resp.Defective[0] != "m2" {
		t.Errorf("期望缺陷列表=[m2]，实际=%v", resp.Defective)
	}
	if repos.available("m1") != 2 || repos.available("m2") != 10 {
		t.Errorf("期望 m1=2 m2=10，实际 m1=%d m2=%d", repos.available("m1"), repos.available("m2"))
	}
}

// ── Catalog ──

func TestMaterialService_Catalog(t *testing.T) {
	svc, repos := setupTestMaterialService()
	repos.addMaterial("m1", "Cuerda 30m", model.MaterialTypeRope, intPtr(1))
	addActiveLoan(repos, "m1", "u1", 3)

	items, err := svc.Catalog(context.Background())
	if err != nil {
		t.Fatalf("Catalog 应成功: %v", err)
	}
	if len(items) != 1 || items[0].Available != 0 {
		t.Errorf("超借时可用数量应截断为 0，实际 %+v", items)
	}
}

func TestMaterialService_Catalog_Unavailable(t *testing.T) {
	svc, repos := setupTestMaterialService()
	repos.materials.listErr = errStorageDown

	_, err := svc.Catalog(context.Background())
	if !errors.Is(err, ErrCatalogUnavailable) {
		t.Errorf("期望 ErrCatalogUnavailable，实际: %v", err)
	}
}

// ── Import ──

func buildImportFile(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	header := []interface{}{"名称", "编号", "类型", "数量", "状态", "描述"}
	if err := f.SetSheetRow("Sheet1", "A1", &header); err != nil {
		t.Fatalf("写入表头失败: %v", err)
	}
	for i, r := range rows {
		row := r
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("写入数据行失败: %v", err)
		}
	}
	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		t.Fatalf("生成 xlsx 失败: %v", err)
	}
	return buf
}

func TestMaterialService_ParseImportFile(t *testing.T) {
	svc, _ := setupTestMaterialService()
	buf := buildImportFile(t, [][]interface{}{
		{"Cuerda 60m", "C-60", "Rope", "3.0", "", "Estática"},
		{"Mosquetón", "", "misc", "12", "review", ""},
	})

	rows, err := svc.ParseImportFile(buf)
	if err != nil {
		t.Fatalf("ParseImportFile 应成功: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("期望 2 行，实际 %d", len(rows))
	}
	if rows[0].Row != 2 || rows[0].Type != "rope" || rows[0].Quantity != "3.0" {
		t.Errorf("第一行解析错误: %+v", rows[0])
	}
	if rows[1].State != "review" {
		t.Errorf("第二行状态应为 review，实际=%s", rows[1].State)
	}
}

func TestMaterialService_ParseImportFile_Invalid(t *testing.T) {
	svc, _ := setupTestMaterialService()

	_, err := svc.ParseImportFile(bytes.NewReader([]byte("not an xlsx")))
	if !errors.Is(err, ErrImportFileInvalid) {
		t.Errorf("期望 ErrImportFileInvalid，实际: %v", err)
	}
}

func TestMaterialService_ImportMaterials(t *testing.T) {
	svc, repos := setupTestMaterialService()
	repos.addMaterial("m1", "Cuerda vieja", model.MaterialTypeRope, intPtr(1))
	repos.materials.materials["m1"].Code = "C-60"

	resp, err := svc.ImportMaterials(context.Background(), []ImportMaterialRow{
		{Row: 2, Name: "Cuerda 60m", Code: "C-60", Type: "rope", Quantity: "3.0"},
		{Row: 3, Name: "Mosquetón", Type: "misc", Quantity: "12", State: "review"},
		{Row: 4, Name: "Spit", Type: "anchor", Quantity: "abc"},
		{Row: 5, Name: "Bloqueador", Type: "misc", Quantity: "-2"},
		{Row: 6, Name: "", Type: "misc", Quantity: "1"},
		{Row: 7, Name: "Casco", Type: "helmet", Quantity: "1"},
	}, "u-admin")
	if err != nil {
		t.Fatalf("ImportMaterials 应成功: %v", err)
	}
	if resp.Created != 1 || resp.Updated != 1 || resp.Failed != 4 {
		t.Errorf("期望 created=1 updated=1 failed=4，实际 %+v", resp)
	}

	updated := repos.materials.materials["m1"]
	if updated.Name != "Cuerda 60m" || *updated.TotalQuantity != 3 {
		t.Errorf("按编号更新失败: %+v", updated)
	}
	for _, m := range repos.materials.materials {
		if m.Name == "Mosquetón" && m.State != model.MaterialStateReview {
			t.Errorf("新建器材状态应为 review，实际=%s", m.State)
		}
		if m.TotalQuantity == nil {
			t.Errorf("导入不应写入缺失总量: %s", m.Name)
		}
	}
}
