// Package claims aggregates raw service-order rows into ordered claim records.
package claims

import (
	"sort"
	"strings"
	"time"

	"lks_builder/formatting"
	"lks_builder/internal/dates"
)

const trasMarker = "TRAS"

type group struct {
	raw  string
	rows []RawRow
}

// groupRows partitions rows by their raw SO cell, keeping first-occurrence
// order of the group keys and source order within each group.
func groupRows(rows []RawRow) []group {
	index := make(map[string]int)
	var groups []group
	for _, row := range rows {
		i, ok := index[row.SO]
		if !ok {
			i = len(groups)
			index[row.SO] = i
			groups = append(groups, group{raw: row.SO})
		}
		groups[i].rows = append(groups[i].rows, row)
	}
	return groups
}

func hasTRAS(rows []RawRow) bool {
	for _, row := range rows {
		if strings.Contains(strings.ToUpper(row.UserStatus), trasMarker) {
			return true
		}
	}
	return false
}

type candidate struct {
	key      string
	row      RawRow
	statusAt time.Time
	day      time.Time // calendar date of statusAt, the sort key
}

// Build groups the sheet by SO, drops duplicate and TRAS groups, orders the
// survivors by status date and returns one Record per survivor. Ordering uses
// the calendar date only, so groups on the same day keep first-occurrence
// order. Unparsed status dates sort first.
func Build(sheet Sheet) (Result, error) {
	if !sheet.HasColumn(formatting.ColSO) {
		return Result{}, &SchemaError{Sheet: sheet.Name, Column: formatting.ColSO, Available: append([]string(nil), sheet.Columns...)}
	}

	rows := make([]RawRow, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if formatting.IsBlank(row.SO) {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return Result{}, &EmptyInputError{Sheet: sheet.Name}
	}

	var res Result
	seen := make(map[string]struct{})
	var survivors []candidate
	for _, g := range groupRows(rows) {
		key := formatting.NormalizeSO(g.raw)
		if key == "" {
			continue
		}
		res.Stats.TotalSOsRaw++
		if _, dup := seen[key]; dup {
			res.Stats.DuplicatesSkipped++
			continue
		}
		seen[key] = struct{}{}

		if hasTRAS(g.rows) {
			res.Stats.TrasRemoved++
			res.Excluded = append(res.Excluded, Excluded{SO: key, Reason: ReasonTRAS, Row: g.rows[0]})
			continue
		}

		row := g.rows[0]
		statusAt, ok := dates.ParseDateTime(row.StatusDate)
		if !ok && !formatting.IsBlank(row.StatusDate) {
			res.Stats.InvalidDates++
		}
		if formatting.IsBlank(row.Address) {
			res.Stats.MissingAddress++
		}
		if formatting.IsBlank(row.Technician) {
			res.Stats.MissingTechnician++
		}
		if sameDevice(row.OldMeter, row.NewMeter) {
			res.Stats.SameOldNewMeter++
		}
		survivors = append(survivors, candidate{key: key, row: row, statusAt: statusAt, day: dates.DateOf(statusAt)})
	}
	res.Stats.SOsAfterTras = len(survivors)

	// The zero time sorts before every parsed date.
	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].day.Before(survivors[j].day)
	})

	res.Records = make([]Record, 0, len(survivors))
	for i, c := range survivors {
		res.Records = append(res.Records, buildRecord(i+1, c))
	}
	return res, nil
}

// sameDevice reports whether both meter numbers are present and equal.
func sameDevice(oldMeter, newMeter string) bool {
	o, n := formatting.NormalizeSO(oldMeter), formatting.NormalizeSO(newMeter)
	return o != "" && o == n
}

func buildRecord(seq int, c candidate) Record {
	row := c.row
	outcome := dates.Evaluate(c.statusAt, time.Time{})
	description := strings.TrimSpace(row.SOType)
	if description == "" {
		description = strings.TrimSpace(row.SODescription)
	}
	return Record{
		Seq:          seq,
		SO:           c.key,
		Account:      formatting.NormalizeSO(row.Contract),
		Status:       strings.TrimSpace(row.SOStatus),
		Address:      strings.TrimSpace(row.Address),
		Voltage:      strings.TrimSpace(row.Voltage),
		Description:  description,
		Labor:        strings.TrimSpace(row.Technician),
		StatusAt:     c.statusAt,
		StatusRaw:    row.StatusDate,
		Site:         strings.TrimSpace(row.SiteID),
		BusinessArea: formatting.BusinessArea(row.SiteID),
		OldDevice:    formatting.NormalizeSO(row.OldMeter),
		NewDevice:    formatting.NormalizeSO(row.NewMeter),
		CommModule:   formatting.NormalizeSO(row.NewComm),
		Hari:         outcome.Hari,
		WorkType:     WorkType,
		Remarks1:     outcome.Remarks1,
		Remarks2:     outcome.Remarks2,
	}
}
