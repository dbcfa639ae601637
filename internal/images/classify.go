// Package images classifies attachment URLs into the three photo slots each
// service order needs and resolves one URL per slot.
package images

import (
	"strings"
	"unicode"
)

// Slot names one of the required photo categories.
type Slot string

const (
	SlotOld  Slot = "old"
	SlotCard Slot = "card"
	SlotNew  Slot = "new"
)

// AllSlots lists the slots in column order.
var AllSlots = []Slot{SlotOld, SlotCard, SlotNew}

// Rule matches a lower-cased filename when it contains Requires (if set) and
// either contains one of Any or has a run of letters equal to one of Words.
type Rule struct {
	Slot     Slot
	Requires string
	Any      []string
	Words    []string
}

func (r Rule) matches(filename string) bool {
	if r.Requires != "" && !strings.Contains(filename, r.Requires) {
		return false
	}
	for _, kw := range r.Any {
		if strings.Contains(filename, kw) {
			return true
		}
	}
	if len(r.Words) == 0 {
		return false
	}
	for _, w := range strings.FieldsFunc(filename, func(c rune) bool { return !unicode.IsLetter(c) }) {
		for _, kw := range r.Words {
			if w == kw {
				return true
			}
		}
	}
	return false
}

// rules is evaluated in order; the first match wins. The keyword lists carry
// the misspellings field staff actually use. The shortest card corruptions
// only count as whole words since they occur inside ordinary ones.
var rules = []Rule{
	{Slot: SlotOld, Any: []string{"old_read", "oldread", "old_red", "old_rea"}},
	{Slot: SlotCard, Any: []string{"card", "cad", "crd"}, Words: []string{"car", "ard"}},
	{Slot: SlotNew, Any: []string{"new_meter", "newmeter", "nee_meter", "new_metwr"}},
	{Slot: SlotNew, Requires: "new_m", Any: []string{"eer", "ter", "etr"}},
}

// Rules returns a copy of the ordered classification rules.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		r.Any = append([]string(nil), r.Any...)
		r.Words = append([]string(nil), r.Words...)
		out[i] = r
	}
	return out
}

// Filename returns the lower-cased trailing path segment of url.
func Filename(url string) string {
	u := strings.ToLower(strings.TrimSpace(url))
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}

// Classify maps a URL to its slot. ok is false when no rule matches.
func Classify(url string) (Slot, bool) {
	name := Filename(url)
	if name == "" {
		return "", false
	}
	for _, r := range rules {
		if r.matches(name) {
			return r.Slot, true
		}
	}
	return "", false
}
