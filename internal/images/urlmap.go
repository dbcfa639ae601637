package images

import (
	"strings"

	"lks_builder/formatting"
	"lks_builder/internal/claims"
)

// Slots holds the first URL seen per slot for one SO, plus the first URL of
// any kind.
type Slots struct {
	Old   string `json:"old,omitempty"`
	Card  string `json:"card,omitempty"`
	New   string `json:"new,omitempty"`
	First string `json:"first,omitempty"`
}

func (s *Slots) field(slot Slot) *string {
	switch slot {
	case SlotOld:
		return &s.Old
	case SlotCard:
		return &s.Card
	case SlotNew:
		return &s.New
	}
	return nil
}

// Resolve returns the URL a writer should place in slot. The old slot falls
// back to First; card and new never do.
func (s Slots) Resolve(slot Slot) string {
	switch slot {
	case SlotOld:
		if s.Old != "" {
			return s.Old
		}
		return s.First
	case SlotCard:
		return s.Card
	case SlotNew:
		return s.New
	}
	return ""
}

// URLMap maps an SO key to its slots.
type URLMap map[string]*Slots

// Lookup returns the slots for a raw SO value, or an empty Slots.
func (m URLMap) Lookup(so string) Slots {
	if s, ok := m[formatting.NormalizeSO(so)]; ok && s != nil {
		return *s
	}
	return Slots{}
}

// BuildMap folds the attachment table in row order. A blank SO cell inherits
// the previous non-blank one. The map is empty when either the SO or the URL
// column is absent.
func BuildMap(sheet claims.Sheet) URLMap {
	out := make(URLMap)
	if !sheet.HasColumn(formatting.ColSO) || !sheet.HasColumn(formatting.ColAttachURL) {
		return out
	}

	var current string
	for _, row := range sheet.Rows {
		if !formatting.IsBlank(row.SO) {
			current = row.SO
		}
		key := formatting.NormalizeSO(current)
		url := strings.TrimSpace(row.AttachmentURL)
		if key == "" || url == "" {
			continue
		}

		slots, ok := out[key]
		if !ok {
			slots = &Slots{}
			out[key] = slots
		}
		if slots.First == "" {
			slots.First = url
		}
		if slot, ok := Classify(url); ok {
			if f := slots.field(slot); *f == "" {
				*f = url
			}
		}
	}
	return out
}
