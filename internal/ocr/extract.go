package ocr

import (
	"regexp"
	"strings"
	"time"
)

// NoDate is the answer the prompt asks for when no date is visible.
const NoDate = "NO DATE"

var (
	monthNamePattern = regexp.MustCompile(`(\d{1,2})\s+([A-Za-z]+)\s+(\d{4})`)
	dayFirstPattern  = regexp.MustCompile(`(\d{1,2})[/-](\d{1,2})[/-](\d{4})`)
	isoPattern       = regexp.MustCompile(`(\d{4})[/-](\d{1,2})[/-](\d{1,2})`)
)

// ExtractDate finds a calendar date in a model answer. Patterns are tried
// in order: "4 Dec 2025", "04/12/2025" (day first, then month first) and
// "2025-12-04". Only the first match of each pattern is considered.
func ExtractDate(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" || strings.Contains(strings.ToUpper(text), NoDate) {
		return time.Time{}, false
	}

	if m := monthNamePattern.FindStringSubmatch(text); m != nil {
		month := strings.ToLower(m[2])
		if len(month) > 0 {
			month = strings.ToUpper(month[:1]) + month[1:]
		}
		for _, layout := range []string{"2 Jan 2006", "2 January 2006"} {
			if ts, err := time.Parse(layout, m[1]+" "+month+" "+m[3]); err == nil {
				return ts, true
			}
		}
	}
	if m := dayFirstPattern.FindStringSubmatch(text); m != nil {
		joined := m[1] + "/" + m[2] + "/" + m[3]
		for _, layout := range []string{"2/1/2006", "1/2/2006"} {
			if ts, err := time.Parse(layout, joined); err == nil {
				return ts, true
			}
		}
	}
	if m := isoPattern.FindStringSubmatch(text); m != nil {
		if ts, err := time.Parse("2006/1/2", m[1]+"/"+m[2]+"/"+m[3]); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
