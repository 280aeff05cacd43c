package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"sharemirror/internal/models"
)

const sheetName = "Tasks"

var headers = []string{
	"Name", "Share code", "Destination", "Schedule", "Status",
	"Last success", "Transfers", "Log", "Updated",
}

var columnWidths = []float64{30, 16, 20, 16, 12, 14, 10, 50, 18}

var statusFills = map[models.TaskStatus]string{
	models.StatusSuccess:   "#C6EFCE",
	models.StatusScheduled: "#DDEBF7",
	models.StatusRunning:   "#FFEB9C",
	models.StatusFailed:    "#FFC7CE",
	models.StatusError:     "#FFC7CE",
	models.StatusStopped:   "#D9D9D9",
}

// WriteTasks renders tasks as a single-sheet xlsx workbook into w.
func WriteTasks(w io.Writer, tasks []models.Task) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)

		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheetName, col, col, columnWidths[i])
	}

	styles := make(map[models.TaskStatus]int)
	for i := range tasks {
		t := &tasks[i]
		row := i + 2
		values := []interface{}{
			t.Name,
			t.Share.Code,
			t.Destination.Name,
			t.Schedule,
			string(t.Status),
			t.LastSuccessDate,
			t.HistoryCount,
			t.Log,
			t.UpdatedAt.Local().Format("2006-01-02 15:04"),
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, start, &values); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}

		color, ok := statusFills[t.Status]
		if !ok {
			continue
		}
		style, ok := styles[t.Status]
		if !ok {
			style, err = f.NewStyle(&excelize.Style{
				Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			})
			if err != nil {
				return fmt.Errorf("status style: %w", err)
			}
			styles[t.Status] = style
		}
		cell, _ := excelize.CoordinatesToCellName(5, row)
		_ = f.SetCellStyle(sheetName, cell, cell, style)
	}

	_ = f.DeleteSheet("Sheet1")

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// FileName is the download name for an export taken at now.
func FileName(now time.Time) string {
	return fmt.Sprintf("tasks_%s.xlsx", now.Format("2006-01-02_15-04-05"))
}
