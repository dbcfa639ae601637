// Package dates parses service-order status dates and derives the
// date-driven claim annotations (effective date, Hari, Remarks 1 and 2).
package dates

import (
	"fmt"
	"strings"
	"time"
)

// Annotation values written into claim rows.
const (
	HariWeekday   = "Hari Biasa"
	HariSunday    = "Hujung Minggu"
	TaskForce     = "TASK FORCE"
	DiskonRemarks = "TECO LEWAT SEBAB DISKON (%s)"
)

// DisplayLayout is the "DD Mon YYYY" layout used in remarks and OCR text.
const DisplayLayout = "02 Jan 2006"

const (
	layoutCommaDateTime = "Jan 2, 2006, 3:04 PM"
	layoutCommaDate     = "Jan 2, 2006"
	layoutOCR           = "2 Jan 2006"
)

var isoLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

// Outcome is the result of applying the date rules to one claim.
type Outcome struct {
	Effective time.Time // zero when neither date parsed
	IsDiskon  bool
	Hari      string
	Remarks1  string
	Remarks2  string
}

// ParseDateTime interprets v as a timestamp. time.Time values pass through;
// strings are tried against the comma, OCR and ISO layouts in that order.
// A false result means the value could not be interpreted.
func ParseDateTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t, true
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return *t, true
	case string:
		return parseText(t)
	case nil:
		return time.Time{}, false
	default:
		return parseText(fmt.Sprint(t))
	}
}

// ParseDate is ParseDateTime truncated to the calendar date.
func ParseDate(v any) (time.Time, bool) {
	ts, ok := ParseDateTime(v)
	if !ok {
		return time.Time{}, false
	}
	return DateOf(ts), true
}

// DateOf drops the clock component, keeping the calendar date in UTC.
func DateOf(ts time.Time) time.Time {
	if ts.IsZero() {
		return ts
	}
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func parseText(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	if strings.Contains(s, ",") {
		if ts, err := time.Parse(layoutCommaDateTime, s); err == nil {
			return ts, true
		}
		parts := strings.Split(s, ",")
		if len(parts) >= 2 {
			datePart := strings.TrimSpace(parts[0]) + ", " + strings.TrimSpace(parts[1])
			if ts, err := time.Parse(layoutCommaDate, datePart); err == nil {
				return ts, true
			}
		}
	}

	if ts, err := time.Parse(layoutOCR, s); err == nil {
		return ts, true
	}

	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Evaluate applies the business rules to an already parsed status date and
// an optional OCR date. Zero values mean "absent".
func Evaluate(status, ocr time.Time) Outcome {
	status = DateOf(status)
	ocr = DateOf(ocr)

	out := Outcome{Effective: status, Hari: HariWeekday}
	if !ocr.IsZero() && !ocr.Equal(status) {
		out.Effective = ocr
		out.IsDiskon = true
	}

	if !out.Effective.IsZero() {
		switch out.Effective.Weekday() {
		case time.Sunday:
			out.Hari = HariSunday
		case time.Saturday:
			out.Remarks2 = TaskForce
		}
	}
	if out.IsDiskon {
		out.Remarks1 = fmt.Sprintf(DiskonRemarks, FormatDisplay(out.Effective))
	}
	return out
}

// Calculate parses both inputs and applies Evaluate. Unparseable input is
// treated as absent; Calculate never fails.
func Calculate(statusText, ocrText any) Outcome {
	status, _ := ParseDate(statusText)
	ocr, _ := ParseDate(ocrText)
	return Evaluate(status, ocr)
}

// FormatDisplay renders a date as "DD Mon YYYY", or "" for the zero time.
func FormatDisplay(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Format(DisplayLayout)
}
