package workbook

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Fill colours.
const (
	FillDefect = "FF0000"
	FillDiskon = "FFFF00"
)

type styleOp int

const (
	opCenter styleOp = iota
	opDateFormat
	opFillDefect
	opFillDiskon
	opClearFill
	opTitle
	opHeading
)

type styleKey struct {
	base int
	op   styleOp
}

func applyOp(st *excelize.Style, op styleOp) {
	switch op {
	case opCenter:
		st.Alignment = &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true}
	case opDateFormat:
		format := StatusDateFormat
		st.NumFmt = 0
		st.CustomNumFmt = &format
	case opFillDefect:
		st.Fill = excelize.Fill{Type: "pattern", Color: []string{FillDefect}, Pattern: 1}
	case opFillDiskon:
		st.Fill = excelize.Fill{Type: "pattern", Color: []string{FillDiskon}, Pattern: 1}
	case opClearFill:
		st.Fill = excelize.Fill{}
	case opTitle:
		st.Font = &excelize.Font{Bold: true, Size: 14}
	case opHeading:
		st.Font = &excelize.Font{Bold: true, Size: 11}
	}
}

// restyle layers op on top of the cell's current style, so fills, number
// formats and alignment set by earlier steps survive each other.
func (t *Template) restyle(sheet, cell string, op styleOp) error {
	base, err := t.f.GetCellStyle(sheet, cell)
	if err != nil {
		return fmt.Errorf("style %s!%s: %w", sheet, cell, err)
	}
	key := styleKey{base: base, op: op}
	id, ok := t.styles[key]
	if !ok {
		st, err := t.f.GetStyle(base)
		if err != nil {
			return fmt.Errorf("style %s!%s: %w", sheet, cell, err)
		}
		applyOp(st, op)
		id, err = t.f.NewStyle(st)
		if err != nil {
			return fmt.Errorf("style %s!%s: %w", sheet, cell, err)
		}
		t.styles[key] = id
	}
	return t.f.SetCellStyle(sheet, cell, cell, id)
}

// FillColor returns the solid fill colour of a cell, or "" when unfilled.
func (t *Template) FillColor(sheet, cell string) (string, error) {
	id, err := t.f.GetCellStyle(sheet, cell)
	if err != nil {
		return "", err
	}
	st, err := t.f.GetStyle(id)
	if err != nil {
		return "", err
	}
	if st.Fill.Type != "pattern" || len(st.Fill.Color) == 0 {
		return "", nil
	}
	c := strings.ToUpper(strings.TrimPrefix(st.Fill.Color[0], "#"))
	if len(c) == 8 {
		c = c[2:]
	}
	return c, nil
}
