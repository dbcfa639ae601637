package workbook

import (
	"fmt"
	"strings"
	"time"

	"lks_builder/formatting"
	"lks_builder/internal/dates"
)

const summaryTitle = "LKS REPORT SUMMARY"

// AreaCount is one business-area line of the summary.
type AreaCount struct {
	Area  string `json:"area"`
	Count int    `json:"count"`
}

// Summary is what UpdateSummary wrote.
type Summary struct {
	Total int         `json:"total"`
	From  time.Time   `json:"from"`
	To    time.Time   `json:"to"`
	Areas []AreaCount `json:"areas"`
}

// DateRange renders "DD Mon YYYY - DD Mon YYYY", or "N/A" without dates.
func (s Summary) DateRange() string {
	if s.From.IsZero() || s.To.IsZero() {
		return "N/A"
	}
	return dates.FormatDisplay(s.From) + " - " + dates.FormatDisplay(s.To)
}

// UpdateSummary recomputes totals from CLAIM and writes them to SUMMARY,
// creating the sheet when missing.
func (t *Template) UpdateSummary() (Summary, error) {
	rows, err := t.rows(SheetClaim)
	if err != nil {
		return Summary{}, err
	}

	var s Summary
	areaIdx := make(map[string]int)
	for r := DataStartRow; r <= len(rows); r++ {
		if formatting.IsBlank(cellAt(rows, r, colSO)) {
			continue
		}
		s.Total++
		if area := strings.TrimSpace(cellAt(rows, r, colBusinessArea)); area != "" {
			i, ok := areaIdx[area]
			if !ok {
				i = len(s.Areas)
				areaIdx[area] = i
				s.Areas = append(s.Areas, AreaCount{Area: area})
			}
			s.Areas[i].Count++
		}
		ts, ok, err := t.statusAt(r)
		if err != nil {
			return s, err
		}
		if !ok {
			continue
		}
		if s.From.IsZero() || ts.Before(s.From) {
			s.From = ts
		}
		if s.To.IsZero() || ts.After(s.To) {
			s.To = ts
		}
	}

	if err := t.writeSummary(s); err != nil {
		return s, err
	}
	return s, nil
}

func (t *Template) writeSummary(s Summary) error {
	idx, err := t.f.GetSheetIndex(SheetSummary)
	if err != nil {
		return fmt.Errorf("summary sheet: %w", err)
	}
	if idx < 0 {
		if _, err := t.f.NewSheet(SheetSummary); err != nil {
			return fmt.Errorf("create summary sheet: %w", err)
		}
	} else {
		old, err := t.rows(SheetSummary)
		if err != nil {
			return err
		}
		for r := 8; r <= len(old); r++ {
			for _, c := range []int{2, 3} {
				if err := t.f.SetCellValue(SheetSummary, cellName(c, r), nil); err != nil {
					return fmt.Errorf("clear summary: %w", err)
				}
			}
		}
	}

	cells := []struct {
		cell string
		v    any
	}{
		{"B2", summaryTitle},
		{"B4", "Total Claims"},
		{"C4", s.Total},
		{"B5", "Date Range"},
		{"C5", s.DateRange()},
		{"B7", "Business Area Breakdown"},
	}
	for _, c := range cells {
		if err := t.f.SetCellValue(SheetSummary, c.cell, c.v); err != nil {
			return fmt.Errorf("write summary %s: %w", c.cell, err)
		}
	}
	if err := t.restyle(SheetSummary, "B2", opTitle); err != nil {
		return err
	}
	if err := t.restyle(SheetSummary, "B7", opHeading); err != nil {
		return err
	}
	for i, a := range s.Areas {
		r := 8 + i
		if err := t.f.SetCellValue(SheetSummary, cellName(2, r), a.Area); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		if err := t.f.SetCellValue(SheetSummary, cellName(3, r), a.Count); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}
