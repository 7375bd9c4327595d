package normalize

import "strings"

// Street, direction, and unit tokens abbreviated to their USPS short forms
// so "123 North Main Street" and "123 N Main St" compare equal.
var addressAbbreviations = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"road":      "rd",
	"drive":     "dr",
	"boulevard": "blvd",
	"lane":      "ln",
	"court":     "ct",
	"place":     "pl",
	"circle":    "cir",
	"terrace":   "ter",
	"highway":   "hwy",
	"parkway":   "pkwy",
	"trail":     "trl",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
	"northeast": "ne",
	"northwest": "nw",
	"southeast": "se",
	"southwest": "sw",
	"apartment": "apt",
	"suite":     "ste",
	"building":  "bldg",
	"floor":     "fl",
}

// Trailing country tokens stripped before comparison. Longer phrases first.
var countrySuffixes = []string{
	"united states of america",
	"united states",
	"usa",
	"us",
}

// Address lowercases an address, strips trailing country tokens and
// punctuation, abbreviates common street/direction/unit tokens, and
// collapses whitespace. Empty input comes back absent.
func Address(raw string) (string, bool) {
	addr := strings.ToLower(strings.TrimSpace(raw))
	if addr == "" {
		return "", false
	}

	// Punctuation to spaces so "Main St., Apt. 4" tokenizes cleanly.
	var cleaned strings.Builder
	for _, r := range addr {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			cleaned.WriteRune(r)
		default:
			cleaned.WriteRune(' ')
		}
	}
	addr = strings.Join(strings.Fields(cleaned.String()), " ")

	for _, suffix := range countrySuffixes {
		addr = strings.TrimSuffix(addr, " "+suffix)
	}

	tokens := strings.Fields(addr)
	for i, tok := range tokens {
		if short, ok := addressAbbreviations[tok]; ok {
			tokens[i] = short
		}
	}

	addr = strings.Join(tokens, " ")
	if addr == "" {
		return "", false
	}
	return addr, true
}
