package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"espeleo-club/backend/internal/dto"
	"espeleo-club/backend/internal/model"
	"espeleo-club/backend/internal/repository"
	applogger "espeleo-club/backend/pkg/logger"
)

// ── 导出模块业务错误 ──

var ErrExportGenerateFail = errors.New("生成 Excel 文件失败")

// ExportService 导出业务接口
//
// 导出以 bytes.Buffer 返回，由 Handler 层设置 HTTP 响应头后写入 Response
type ExportService interface {
	// ExportLoans 导出借用记录为 Excel，status 支持 active / returned / overdue / 空
	ExportLoans(ctx context.Context, req *dto.LoanListRequest) (*bytes.Buffer, string, error)
}

type exportService struct {
	repo   *repository.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService 创建 ExportService 实例
func NewExportService(repo *repository.Repository, logger *zap.Logger) ExportService {
	return &exportService{repo: repo, logger: logger, now: time.Now}
}

var loanStatusNames = map[string]string{
	model.LoanStatusActive:   "借出中",
	model.LoanStatusReturned: "已归还",
	model.LoanStatusOverdue:  "已逾期",
}

// ═══════════════════════════════════════════════════════════
// ExportLoans 导出借用记录
// ═══════════════════════════════════════════════════════════
//
// 单个 Sheet「借用记录」，逾期行高亮；返回值：buf, filename, error

func (s *exportService) ExportLoans(ctx context.Context, req *dto.LoanListRequest) (*bytes.Buffer, string, error) {
	now := s.now()
	loans, err := s.repo.Loan.ListAll(ctx, repository.LoanFilter{
		Status:     req.Status,
		UserID:     req.UserID,
		MaterialID: req.MaterialID,
		ActivityID: req.ActivityID,
		Now:        now,
	})
	if err != nil {
		applogger.FromContext(ctx, s.logger).Error("查询借用记录失败", zap.Error(err))
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "借用记录"
	idx, _ := f.NewSheet(sheetName)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headers := []string{"器材", "类型", "数量", "借用人", "活动", "借出日期", "预计归还", "实际归还", "状态", "备注"}
	widths := []float64{24, 10, 8, 20, 38, 18, 18, 18, 10, 30}
	for i, h := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, col, col, widths[i])
		f.SetCellValue(sheetName, cell(col, 1), h)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	overdueStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
	})
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	f.SetCellStyle(sheetName, "A1", cell(lastCol, 1), headerStyle)
	f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	row := 2
	for i := range loans {
		l := &loans[i]
		materialName, materialType, userName := l.MaterialID, "", l.UserID
		if l.Material != nil {
			materialName, materialType = l.Material.Name, l.Material.Type
		}
		if l.User != nil {
			userName = l.User.Name
		}
		returnDate := "-"
		if l.ReturnDate != nil {
			returnDate = l.ReturnDate.Format("2006-01-02 15:04")
		}
		status := l.EffectiveStatus(now)

		values := []interface{}{
			materialName, materialType, l.Quantity, userName, derefStr(l.ActivityID),
			l.LoanDate.Format("2006-01-02 15:04"), l.DueDate.Format("2006-01-02 15:04"), returnDate,
			loanStatusNames[status], l.Notes,
		}
		for c, v := range values {
			col, _ := excelize.ColumnNumberToName(c + 1)
			f.SetCellValue(sheetName, cell(col, row), v)
		}
		if status == model.LoanStatusOverdue {
			f.SetCellStyle(sheetName, cell("A", row), cell(lastCol, row), overdueStyle)
		}
		row++
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		applogger.FromContext(ctx, s.logger).Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("prestamos_%s.xlsx", now.Format("20060102"))
	return buf, filename, nil
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
