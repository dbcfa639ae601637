package formatting

import "strings"

// businessAreas maps a trimmed site identifier to its business area.
var businessAreas = map[string]string{
	"6340": "Johor Bahru",
	"6346": "Johor Jaya",
}

// BusinessArea maps a site identifier to its named area. Unknown or empty
// sites map to "".
func BusinessArea(siteID string) string {
	return businessAreas[strings.TrimSpace(siteID)]
}

// BusinessAreas returns a copy of the site lookup table.
func BusinessAreas() map[string]string {
	out := make(map[string]string, len(businessAreas))
	for k, v := range businessAreas {
		out[k] = v
	}
	return out
}
