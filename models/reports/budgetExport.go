package reports

import (
	"bytes"
	"context"
	"fmt"

	"bitbucket.org/construdata/obras_backend/models"
	"bitbucket.org/construdata/obras_backend/utils"
	"github.com/xuri/excelize/v2"
)

// ExportBudgetExcel renders a budget as an xlsx workbook: one row per
// service grouped under its stage, stage subtotals, and the direct/BDI totals
// at the bottom. Returns the serialized file.
func ExportBudgetExcel(ctx context.Context, budgetId int) ([]byte, string, error) {
	budget, err := models.GetBudget(ctx, budgetId)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return nil, "", err
	}

	f.SetCellValue(sheet, "A1", "Stage")
	f.SetCellValue(sheet, "B1", "Description")
	f.SetCellValue(sheet, "C1", "Unit")
	f.SetCellValue(sheet, "D1", "Quantity")
	f.SetCellValue(sheet, "E1", "UnitPrice")
	f.SetCellValue(sheet, "F1", "TotalPrice")

	row := 2
	for _, stage := range budget.Stages {
		for _, service := range stage.Services {
			f.SetCellValue(sheet, "A"+fmt.Sprint(row), stage.Name)
			f.SetCellValue(sheet, "B"+fmt.Sprint(row), service.Description)
			f.SetCellValue(sheet, "C"+fmt.Sprint(row), service.Unit)
			f.SetCellValue(sheet, "D"+fmt.Sprint(row), service.Quantity.String())
			f.SetCellValue(sheet, "E"+fmt.Sprint(row), service.UnitPrice.String())
			f.SetCellValue(sheet, "F"+fmt.Sprint(row), service.TotalPrice.String())
			row++
		}
		f.SetCellValue(sheet, "B"+fmt.Sprint(row), stage.Name+" subtotal")
		f.SetCellValue(sheet, "F"+fmt.Sprint(row), stage.TotalCost.String())
		row++
	}

	row++
	f.SetCellValue(sheet, "B"+fmt.Sprint(row), "Total direct cost")
	f.SetCellValue(sheet, "F"+fmt.Sprint(row), budget.TotalDirectCost.String())
	row++
	f.SetCellValue(sheet, "B"+fmt.Sprint(row), fmt.Sprintf("Total with BDI (%s%%)", budget.BdiPercentage.String()))
	f.SetCellValue(sheet, "F"+fmt.Sprint(row), budget.TotalWithBdi.String())

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, "", err
	}
	filename := fmt.Sprintf("budget_%d.xlsx", budgetId)
	return buf.Bytes(), filename, nil
}

// ExportBudgetExcelToGCS writes the workbook to the configured bucket and
// returns its gs:// URI.
func ExportBudgetExcelToGCS(ctx context.Context, budgetId int) (string, error) {
	content, filename, err := ExportBudgetExcel(ctx, budgetId)
	if err != nil {
		return "", err
	}
	return utils.SaveBudgetExportToGCS(ctx, filename, content)
}
