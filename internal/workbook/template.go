package workbook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"lks_builder/formatting"
	"lks_builder/internal/claims"
	"lks_builder/internal/images"
	"lks_builder/internal/quality"
)

// Template sheet names and layout.
const (
	SheetClaim      = "CLAIM"
	SheetAttachment = "ATTACHMENT"
	SheetSummary    = "SUMMARY"

	DataStartRow = 3
)

// StatusDateFormat is the number format applied to status date cells.
const StatusDateFormat = "d mmm, yyyy, h:mm AM/PM"

// CLAIM columns, 1-based.
const (
	colQty = iota + 1
	colSO
	colAccount
	colStatus
	colAddress
	colVoltage
	colDescription
	colLabor
	colStatusDate
	colSite
	colBusinessArea
	colOldDevice
	colNewDevice
	colCommModule
	colHari
	colWorkType
	colRemarks1
	colRemarks2
)

// ATTACHMENT columns, 1-based.
const (
	colAttachSO   = 2
	colAttachOld  = 3
	colSlotOld    = 4
	colSlotCard   = 5
	colSlotNew    = 6
	lastAttachCol = colSlotNew
	lastClaimCol  = colRemarks2
)

var slotColumns = []struct {
	slot images.Slot
	col  int
}{
	{images.SlotOld, colSlotOld},
	{images.SlotCard, colSlotCard},
	{images.SlotNew, colSlotNew},
}

// Template is an open LKS workbook.
type Template struct {
	f      *excelize.File
	path   string
	styles map[styleKey]int
}

// OpenTemplate opens an LKS workbook and checks that the CLAIM and ATTACHMENT
// sheets exist.
func OpenTemplate(path string) (*Template, error) {
	return open(path, SheetClaim, SheetAttachment)
}

// OpenClaims opens an LKS workbook that only needs a CLAIM sheet, for the
// date passes.
func OpenClaims(path string) (*Template, error) {
	return open(path, SheetClaim)
}

func open(path string, required ...string) (*Template, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	for _, name := range required {
		if idx, err := f.GetSheetIndex(name); err != nil || idx < 0 {
			f.Close()
			return nil, fmt.Errorf("workbook %s: sheet %q not found", filepath.Base(path), name)
		}
	}
	return &Template{f: f, path: path, styles: make(map[styleKey]int)}, nil
}

// Path is the file the template was opened from.
func (t *Template) Path() string {
	return t.path
}

// Close releases the workbook.
func (t *Template) Close() error {
	return t.f.Close()
}

// Save writes back to the file the template was opened from.
func (t *Template) Save() error {
	if err := t.f.Save(); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// SaveAs writes the workbook to path, creating its directory.
func (t *Template) SaveAs(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := t.f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func (t *Template) rows(sheet string) ([][]string, error) {
	rows, err := t.f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sheet, err)
	}
	return rows, nil
}

func cellAt(rows [][]string, row, col int) string {
	if row-1 >= len(rows) || col-1 >= len(rows[row-1]) {
		return ""
	}
	return rows[row-1][col-1]
}

// ExistingSOs returns the SO keys already present in CLAIM.
func (t *Template) ExistingSOs() (map[string]struct{}, error) {
	rows, err := t.rows(SheetClaim)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	for r := DataStartRow; r <= len(rows); r++ {
		if so := formatting.NormalizeSO(cellAt(rows, r, colSO)); so != "" {
			out[so] = struct{}{}
		}
	}
	return out, nil
}

// NextEmptyRow returns the first data row of sheet whose SO cell is blank.
func (t *Template) NextEmptyRow(sheet string) (int, error) {
	rows, err := t.rows(sheet)
	if err != nil {
		return 0, err
	}
	for r := DataStartRow; r <= len(rows); r++ {
		if formatting.IsBlank(cellAt(rows, r, colSO)) {
			return r, nil
		}
	}
	if len(rows)+1 < DataStartRow {
		return DataStartRow, nil
	}
	return len(rows) + 1, nil
}

func (t *Template) setText(sheet string, col, row int, v string) error {
	if v == "" {
		return nil
	}
	return t.f.SetCellStr(sheet, cellName(col, row), v)
}

// WriteClaims writes records into CLAIM from startClaim and the matching
// SO and old device into ATTACHMENT from startAttach.
func (t *Template) WriteClaims(records []claims.Record, startClaim, startAttach int) error {
	for i, rec := range records {
		r := startClaim + i
		if err := t.f.SetCellValue(SheetClaim, cellName(colQty, r), rec.Seq); err != nil {
			return fmt.Errorf("write claim row %d: %w", r, err)
		}
		texts := []struct {
			col int
			v   string
		}{
			{colSO, rec.SO},
			{colAccount, rec.Account},
			{colStatus, rec.Status},
			{colAddress, rec.Address},
			{colVoltage, rec.Voltage},
			{colDescription, rec.Description},
			{colLabor, rec.Labor},
			{colSite, rec.Site},
			{colBusinessArea, rec.BusinessArea},
			{colOldDevice, rec.OldDevice},
			{colNewDevice, rec.NewDevice},
			{colCommModule, rec.CommModule},
			{colHari, rec.Hari},
			{colWorkType, rec.WorkType},
			{colRemarks1, rec.Remarks1},
			{colRemarks2, rec.Remarks2},
		}
		for _, tv := range texts {
			if err := t.setText(SheetClaim, tv.col, r, tv.v); err != nil {
				return fmt.Errorf("write claim row %d: %w", r, err)
			}
		}
		if err := t.writeStatusDate(r, rec); err != nil {
			return err
		}

		a := startAttach + i
		if err := t.setText(SheetAttachment, colAttachSO, a, rec.SO); err != nil {
			return fmt.Errorf("write attachment row %d: %w", a, err)
		}
		if err := t.setText(SheetAttachment, colAttachOld, a, rec.OldDevice); err != nil {
			return fmt.Errorf("write attachment row %d: %w", a, err)
		}
	}
	return nil
}

func (t *Template) writeStatusDate(row int, rec claims.Record) error {
	cell := cellName(colStatusDate, row)
	if rec.StatusAt.IsZero() {
		return t.setText(SheetClaim, colStatusDate, row, strings.TrimSpace(rec.StatusRaw))
	}
	if err := t.f.SetCellValue(SheetClaim, cell, rec.StatusAt); err != nil {
		return fmt.Errorf("write status date %s: %w", cell, err)
	}
	return t.restyle(SheetClaim, cell, opDateFormat)
}

// ImageFormula renders the IMAGE formula for url, without the leading "=".
func ImageFormula(url string) string {
	return fmt.Sprintf(`_xlfn.IMAGE("%s",,1)`, strings.ReplaceAll(url, `"`, `""`))
}

// InjectImages writes IMAGE formulas into the slot columns of every
// ATTACHMENT row that has an SO. Unresolved slots are cleared. It returns the
// number of rows visited.
func (t *Template) InjectImages(m images.URLMap) (int, error) {
	rows, err := t.rows(SheetAttachment)
	if err != nil {
		return 0, err
	}
	visited := 0
	for r := DataStartRow; r <= len(rows); r++ {
		so := formatting.NormalizeSO(cellAt(rows, r, colAttachSO))
		if so == "" {
			continue
		}
		visited++
		slots := m.Lookup(so)
		for _, sc := range slotColumns {
			cell := cellName(sc.col, r)
			url := slots.Resolve(sc.slot)
			if url == "" {
				if err := t.f.SetCellFormula(SheetAttachment, cell, ""); err != nil {
					return visited, fmt.Errorf("clear %s: %w", cell, err)
				}
				if err := t.f.SetCellValue(SheetAttachment, cell, nil); err != nil {
					return visited, fmt.Errorf("clear %s: %w", cell, err)
				}
				continue
			}
			if err := t.f.SetCellFormula(SheetAttachment, cell, ImageFormula(url)); err != nil {
				return visited, fmt.Errorf("set formula %s: %w", cell, err)
			}
		}
	}
	return visited, nil
}

func (t *Template) materialized(cell string) (string, error) {
	formula, err := t.f.GetCellFormula(SheetAttachment, cell)
	if err != nil {
		return "", err
	}
	if formula != "" {
		return formula, nil
	}
	return t.f.GetCellValue(SheetAttachment, cell)
}

// MaterializedSlots reads back the slot cells of ATTACHMENT as written.
func (t *Template) MaterializedSlots() ([]quality.Row, error) {
	rows, err := t.rows(SheetAttachment)
	if err != nil {
		return nil, err
	}
	var out []quality.Row
	for r := DataStartRow; r <= len(rows); r++ {
		so := cellAt(rows, r, colAttachSO)
		if formatting.IsBlank(so) {
			continue
		}
		row := quality.Row{SO: so}
		targets := []*string{&row.Old, &row.Card, &row.New}
		for i, sc := range slotColumns {
			v, err := t.materialized(cellName(sc.col, r))
			if err != nil {
				return nil, fmt.Errorf("read slot row %d: %w", r, err)
			}
			*targets[i] = v
		}
		out = append(out, row)
	}
	return out, nil
}

// MarkDefective fills every CLAIM and ATTACHMENT row whose SO is in the
// report red. It returns the number of rows filled.
func (t *Template) MarkDefective(report quality.Report) (int, error) {
	if report.Clean() {
		return 0, nil
	}
	marked := 0
	for _, sheet := range []struct {
		name    string
		lastCol int
	}{{SheetClaim, lastClaimCol}, {SheetAttachment, lastAttachCol}} {
		rows, err := t.rows(sheet.name)
		if err != nil {
			return marked, err
		}
		for r := DataStartRow; r <= len(rows); r++ {
			if !report.IsDefective(cellAt(rows, r, colSO)) {
				continue
			}
			for c := 1; c <= sheet.lastCol; c++ {
				if err := t.restyle(sheet.name, cellName(c, r), opFillDefect); err != nil {
					return marked, err
				}
			}
			marked++
		}
	}
	return marked, nil
}

// FormatAll centres every data cell of CLAIM and ATTACHMENT.
func (t *Template) FormatAll() error {
	for _, sheet := range []struct {
		name    string
		lastCol int
	}{{SheetClaim, lastClaimCol}, {SheetAttachment, lastAttachCol}} {
		rows, err := t.rows(sheet.name)
		if err != nil {
			return err
		}
		for r := DataStartRow; r <= len(rows); r++ {
			for c := 1; c <= sheet.lastCol; c++ {
				if err := t.restyle(sheet.name, cellName(c, r), opCenter); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
