package claims

import (
	"time"

	"lks_builder/formatting"
)

// WorkType is the constant "Jenis Kerja" label on every claim row.
const WorkType = "KERJA BIASA"

// Exclusion reasons recorded on Excluded entries.
const (
	ReasonTRAS = "TRAS"
)

// RawRow is one record of the raw service-order export. Field values are the
// cell text as read; nothing is normalized.
type RawRow struct {
	Line          int // 1-based source row, 0 when unknown
	SO            string
	Contract      string
	SOStatus      string
	UserStatus    string
	Address       string
	Voltage       string
	SOType        string
	SODescription string
	Technician    string
	StatusDate    string
	SiteID        string
	OldMeter      string
	OldComm       string
	NewMeter      string
	NewComm       string
	AttachmentURL string
}

// Sheet is a raw table after header canonicalization. Columns lists the
// canonical names present in the header row.
type Sheet struct {
	Name    string
	Columns []string
	Rows    []RawRow
}

// HasColumn reports whether the header row carried the canonical column.
func (s Sheet) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Record is one output claim row.
type Record struct {
	Seq          int       `json:"qty"`
	SO           string    `json:"service_order"`
	Account      string    `json:"account_number"`
	Status       string    `json:"status"`
	Address      string    `json:"address"`
	Voltage      string    `json:"voltage"`
	Description  string    `json:"so_description"`
	Labor        string    `json:"labor"`
	StatusAt     time.Time `json:"status_at"` // zero when StatusRaw did not parse
	StatusRaw    string    `json:"status_raw"`
	Site         string    `json:"site"`
	BusinessArea string    `json:"business_area"`
	OldDevice    string    `json:"old_device_no"`
	NewDevice    string    `json:"new_device_no"`
	CommModule   string    `json:"comm_module_no"`
	Hari         string    `json:"hari"`
	WorkType     string    `json:"jenis_kerja"`
	Remarks1     string    `json:"remarks_1"`
	Remarks2     string    `json:"remarks_2"`
}

// Excluded is the representative row of a group removed from the claim set.
type Excluded struct {
	SO     string `json:"service_order"`
	Reason string `json:"reason"`
	Row    RawRow `json:"row"`
}

// Stats counts what one aggregation pass saw and dropped.
type Stats struct {
	TotalSOsRaw       int `json:"total_sos_raw"`
	TrasRemoved       int `json:"tras_removed"`
	DuplicatesSkipped int `json:"duplicates_skipped"`
	SOsAfterTras      int `json:"sos_after_tras"`
	InvalidDates      int `json:"invalid_dates"`
	MissingAddress    int `json:"missing_address"`
	MissingTechnician int `json:"missing_technician"`
	SameOldNewMeter   int `json:"same_old_new_meter"`
}

// Result bundles the outputs of Build.
type Result struct {
	Records  []Record
	Excluded []Excluded
	Stats    Stats
}

// SOKeys returns the normalized SO of every record in order.
func (r Result) SOKeys() []string {
	keys := make([]string, 0, len(r.Records))
	for _, rec := range r.Records {
		keys = append(keys, rec.SO)
	}
	return keys
}

// Without drops records whose SO is in skip and renumbers the rest 1..N,
// keeping their order. Used when appending to a template that already holds
// some of the SOs.
func Without(records []Record, skip map[string]struct{}) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if _, ok := skip[formatting.NormalizeSO(rec.SO)]; ok {
			continue
		}
		rec.Seq = len(out) + 1
		out = append(out, rec)
	}
	return out
}
