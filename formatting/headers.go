package formatting

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Canonical raw-export column names.
const (
	ColSO         = "3MS SO No."
	ColContract   = "Contract Account"
	ColSOStatus   = "SO Status"
	ColUserStatus = "User Status"
	ColAddress    = "Address"
	ColVoltage    = "Voltage"
	ColSOType     = "SO Type"
	ColSODesc     = "SO Description"
	ColTechnician = "Technician"
	ColStatusDate = "Status Date"
	ColSiteID     = "Site ID"
	ColOldMeter   = "Old Meter no"
	ColOldComm    = "Old Comm Module"
	ColNewMeter   = "New Meter no"
	ColNewComm    = "New Comm Module"
	ColAttachURL  = "Attachments URL"
)

// headerAliases is keyed by headerKey of every accepted spelling.
var headerAliases = map[string]string{
	"3mssono":         ColSO,
	"3mssonumber":     ColSO,
	"sonumber":        ColSO,
	"sono":            ColSO,
	"contractaccount": ColContract,
	"sostatus":        ColSOStatus,
	"userstatus":      ColUserStatus,
	"address":         ColAddress,
	"voltage":         ColVoltage,
	"sotype":          ColSOType,
	"sodescription":   ColSODesc,
	"technician":      ColTechnician,
	"statusdate":      ColStatusDate,
	"siteid":          ColSiteID,
	"oldmeterno":      ColOldMeter,
	"oldcommmodule":   ColOldComm,
	"newmeterno":      ColNewMeter,
	"newcommmodule":   ColNewComm,
	"attachmentsurl":  ColAttachURL,
	"attachmenturl":   ColAttachURL,
}

// headerKey reduces a header to folded letters and digits so that case,
// punctuation and spacing variants collapse to one key.
func headerKey(h string) string {
	h = cases.Fold().String(norm.NFKC.String(h))
	var b strings.Builder
	for _, r := range h {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CanonicalHeader maps a header variant to its canonical column name. Unknown
// headers come back trimmed and unchanged with ok=false.
func CanonicalHeader(h string) (string, bool) {
	if c, ok := headerAliases[headerKey(h)]; ok {
		return c, true
	}
	return CollapseSpaces(h), false
}

// CanonicalHeaders canonicalizes a header row in place order.
func CanonicalHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i], _ = CanonicalHeader(h)
	}
	return out
}
