package audit

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

var exportColumns = []string{"Time", "Event", "Reference", "Host", "Date", "Slot", "Visitor TZ", "Detail"}

// ExportExcel writes the journal as a single-sheet .xlsx workbook.
func (j *Journal) ExportExcel(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Bookings"
	f.SetSheetName("Sheet1", sheet)

	for i, col := range exportColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return err
		}
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		endCell, _ := excelize.CoordinatesToCellName(len(exportColumns), 1)
		_ = f.SetCellStyle(sheet, "A1", endCell, style)
	}

	for row, e := range j.Events() {
		values := []any{
			e.At.Format(time.RFC3339),
			string(e.Kind),
			e.Reference,
			e.HostID,
			e.HostDate,
			e.HostTime,
			e.Timezone,
			e.Detail,
		}
		for col, val := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, val); err != nil {
				return fmt.Errorf("write row %d: %w", row+2, err)
			}
		}
	}

	return f.Write(w)
}
