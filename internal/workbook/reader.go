// Package workbook reads raw service-order exports and writes the LKS
// template (CLAIM, ATTACHMENT and SUMMARY sheets) with excelize.
package workbook

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"lks_builder/formatting"
	"lks_builder/internal/claims"
)

// ErrLegacyFormat is returned for .xls input, which needs conversion by a
// desktop spreadsheet application first.
var ErrLegacyFormat = errors.New("legacy .xls exports must be converted to .xlsx first")

// ReadOptions selects the sheet and header row of a raw export.
type ReadOptions struct {
	Sheet     string // empty means the first sheet
	HeaderRow int    // 1-based; 0 means 1
}

// ReadRaw loads a raw export (.xlsx, .xlsm or .csv) into a claims.Sheet with
// canonical column names.
func ReadRaw(path string, opts ReadOptions) (claims.Sheet, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readExcel(path, opts)
	case ".csv":
		return readCSV(path, opts)
	case ".xls":
		return claims.Sheet{}, fmt.Errorf("read %s: %w", filepath.Base(path), ErrLegacyFormat)
	default:
		return claims.Sheet{}, fmt.Errorf("read %s: unsupported file type", filepath.Base(path))
	}
}

func readExcel(path string, opts ReadOptions) (claims.Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return claims.Sheet{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if sheet == "" {
		return claims.Sheet{}, fmt.Errorf("no sheets found in %s", filepath.Base(path))
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return claims.Sheet{}, fmt.Errorf("sheet %q not found in %s", sheet, filepath.Base(path))
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return claims.Sheet{}, fmt.Errorf("get rows: %w", err)
	}
	return sheetFromRows(sheet, rows, opts.HeaderRow), nil
}

func readCSV(path string, opts ReadOptions) (claims.Sheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return claims.Sheet{}, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		data, err = charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return claims.Sheet{}, fmt.Errorf("decode csv: %w", err)
		}
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return claims.Sheet{}, fmt.Errorf("parse csv: %w", err)
		}
		rows = append(rows, rec)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return sheetFromRows(name, rows, opts.HeaderRow), nil
}

func sheetFromRows(name string, rows [][]string, headerRow int) claims.Sheet {
	if headerRow <= 0 {
		headerRow = 1
	}
	sheet := claims.Sheet{Name: name}
	if len(rows) < headerRow {
		return sheet
	}

	index := make(map[string]int)
	for i, h := range formatting.CanonicalHeaders(rows[headerRow-1]) {
		if h == "" {
			continue
		}
		if _, dup := index[h]; dup {
			continue
		}
		index[h] = i
		sheet.Columns = append(sheet.Columns, h)
	}

	for i := headerRow; i < len(rows); i++ {
		row := rows[i]
		if blankRow(row) {
			continue
		}
		get := func(col string) string {
			j, ok := index[col]
			if !ok || j >= len(row) {
				return ""
			}
			return row[j]
		}
		sheet.Rows = append(sheet.Rows, claims.RawRow{
			Line:          i + 1,
			SO:            get(formatting.ColSO),
			Contract:      get(formatting.ColContract),
			SOStatus:      get(formatting.ColSOStatus),
			UserStatus:    get(formatting.ColUserStatus),
			Address:       get(formatting.ColAddress),
			Voltage:       get(formatting.ColVoltage),
			SOType:        get(formatting.ColSOType),
			SODescription: get(formatting.ColSODesc),
			Technician:    get(formatting.ColTechnician),
			StatusDate:    serialToISO(get(formatting.ColStatusDate)),
			SiteID:        get(formatting.ColSiteID),
			OldMeter:      get(formatting.ColOldMeter),
			OldComm:       get(formatting.ColOldComm),
			NewMeter:      get(formatting.ColNewMeter),
			NewComm:       get(formatting.ColNewComm),
			AttachmentURL: get(formatting.ColAttachURL),
		})
	}
	return sheet
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// serialToISO rewrites an Excel date serial as "YYYY-MM-DD HH:MM:SS" and
// leaves any other text untouched.
func serialToISO(v string) string {
	s := strings.TrimSpace(v)
	serial, err := strconv.ParseFloat(s, 64)
	if err != nil || serial <= 0 {
		return v
	}
	ts, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return v
	}
	return ts.Round(time.Second).Format("2006-01-02 15:04:05")
}
