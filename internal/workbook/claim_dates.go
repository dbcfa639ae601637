package workbook

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"lks_builder/formatting"
	"lks_builder/internal/dates"
)

// ClaimRow identifies a CLAIM row for the enhancement pass.
type ClaimRow struct {
	Row      int
	SO       string
	StatusAt time.Time // zero when the cell is empty or unparseable
}

// statusAt reads the CLAIM status date of row. Numeric cells are Excel date
// serials; text cells go through dates.ParseDateTime.
func (t *Template) statusAt(row int) (time.Time, bool, error) {
	return t.cellTime(SheetClaim, cellName(colStatusDate, row))
}

func (t *Template) cellTime(sheet, cell string) (time.Time, bool, error) {
	typ, err := t.f.GetCellType(sheet, cell)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read %s!%s: %w", sheet, cell, err)
	}
	raw, err := t.f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read %s!%s: %w", sheet, cell, err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, nil
	}
	switch typ {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula:
	default:
		if serial, err := strconv.ParseFloat(raw, 64); err == nil {
			ts, err := excelize.ExcelDateToTime(serial, false)
			if err != nil {
				return time.Time{}, false, nil
			}
			return ts.Round(time.Second), true, nil
		}
	}
	ts, ok := dates.ParseDateTime(raw)
	return ts, ok, nil
}

// ClaimRows lists the CLAIM data rows that carry an SO.
func (t *Template) ClaimRows() ([]ClaimRow, error) {
	rows, err := t.rows(SheetClaim)
	if err != nil {
		return nil, err
	}
	var out []ClaimRow
	for r := DataStartRow; r <= len(rows); r++ {
		so := formatting.NormalizeSO(cellAt(rows, r, colSO))
		if so == "" {
			continue
		}
		ts, _, err := t.statusAt(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ClaimRow{Row: r, SO: so, StatusAt: ts})
	}
	return out, nil
}

// FixDates converts textual status dates in CLAIM into date cells. It
// returns how many non-empty cells were seen and how many now hold dates.
func (t *Template) FixDates() (updated, total int, err error) {
	rows, err := t.rows(SheetClaim)
	if err != nil {
		return 0, 0, err
	}
	col, headerRow := colStatusDate, DataStartRow-1
	for r := 1; r <= 5 && r <= len(rows); r++ {
		found := false
		for c, v := range rows[r-1] {
			if strings.TrimSpace(v) == "Status Date" {
				col, headerRow, found = c+1, r, true
				break
			}
		}
		if found {
			break
		}
	}

	for r := headerRow + 1; r <= len(rows); r++ {
		if formatting.IsBlank(cellAt(rows, r, col)) {
			continue
		}
		total++
		cell := cellName(col, r)
		ts, ok, err := t.cellTime(SheetClaim, cell)
		if err != nil {
			return updated, total, err
		}
		if !ok {
			continue
		}
		if err := t.f.SetCellValue(SheetClaim, cell, ts); err != nil {
			return updated, total, fmt.Errorf("write %s: %w", cell, err)
		}
		if err := t.restyle(SheetClaim, cell, opDateFormat); err != nil {
			return updated, total, err
		}
		updated++
	}
	return updated, total, nil
}

// ApplyEnhancement rewrites the date-driven fields of a CLAIM row and fills
// the status date yellow when the outcome is a diskon. A yellow fill left by
// an earlier pass is cleared when the row no longer qualifies.
func (t *Template) ApplyEnhancement(row int, out dates.Outcome) error {
	dateCell := cellName(colStatusDate, row)
	if !out.Effective.IsZero() {
		if err := t.f.SetCellValue(SheetClaim, dateCell, out.Effective); err != nil {
			return fmt.Errorf("write %s: %w", dateCell, err)
		}
		if err := t.restyle(SheetClaim, dateCell, opDateFormat); err != nil {
			return err
		}
	}
	for _, c := range []struct {
		col int
		v   string
	}{{colHari, out.Hari}, {colRemarks1, out.Remarks1}, {colRemarks2, out.Remarks2}} {
		if err := t.f.SetCellStr(SheetClaim, cellName(c.col, row), c.v); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
	}
	if out.IsDiskon {
		return t.restyle(SheetClaim, dateCell, opFillDiskon)
	}
	color, err := t.FillColor(SheetClaim, dateCell)
	if err != nil {
		return fmt.Errorf("style %s!%s: %w", SheetClaim, dateCell, err)
	}
	if color == FillDiskon {
		return t.restyle(SheetClaim, dateCell, opClearFill)
	}
	return nil
}
