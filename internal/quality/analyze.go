// Package quality checks materialized attachment rows for missing photos.
package quality

import (
	"strings"

	"lks_builder/formatting"
	"lks_builder/internal/images"
)

// Missing-slot names reported per SO.
const (
	MissingOld  = "old_meter"
	MissingCard = "card"
	MissingNew  = "new_meter"
)

// Row is one attachment row as written: the SO cell and the three slot cells.
type Row struct {
	SO   string
	Old  string
	Card string
	New  string
}

// Report lists the SOs with at least one empty slot.
type Report struct {
	Missing   map[string][]string `json:"missing"`
	Counts    map[string]int      `json:"counts"`
	Defective []string            `json:"defective"` // first-appearance order
}

// NewReport returns an empty report with every count present.
func NewReport() Report {
	return Report{
		Missing: make(map[string][]string),
		Counts: map[string]int{
			string(images.SlotOld):  0,
			string(images.SlotCard): 0,
			string(images.SlotNew):  0,
		},
	}
}

// Clean reports whether no SO is missing a slot.
func (r Report) Clean() bool {
	return len(r.Missing) == 0
}

// IsDefective reports whether so is listed as missing a slot.
func (r Report) IsDefective(so string) bool {
	_, ok := r.Missing[formatting.NormalizeSO(so)]
	return ok
}

// Analyze scans rows and records every empty slot. Rows without an SO are
// ignored. A repeated SO adds to the counts again and its latest row decides
// the missing list.
func Analyze(rows []Row) Report {
	report := NewReport()
	for _, row := range rows {
		so := formatting.NormalizeSO(row.SO)
		if so == "" {
			continue
		}

		var missing []string
		if strings.TrimSpace(row.Old) == "" {
			missing = append(missing, MissingOld)
			report.Counts[string(images.SlotOld)]++
		}
		if strings.TrimSpace(row.Card) == "" {
			missing = append(missing, MissingCard)
			report.Counts[string(images.SlotCard)]++
		}
		if strings.TrimSpace(row.New) == "" {
			missing = append(missing, MissingNew)
			report.Counts[string(images.SlotNew)]++
		}
		if len(missing) == 0 {
			continue
		}
		if _, seen := report.Missing[so]; !seen {
			report.Defective = append(report.Defective, so)
		}
		report.Missing[so] = missing
	}
	return report
}
