package partner

import (
	"fmt"
	"hash/fnv"
	"strings"
)

var logoPalette = []string{
	"#1d70b8", "#00703c", "#4c2c92", "#d4351c", "#b58840", "#28a197",
}

// renderLogo draws a simple monogram badge: brand-coloured roundel with the
// name's initials. Deterministic per partner id so regeneration is harmless.
func renderLogo(partnerID, name string) string {
	h := fnv.New32a()
	h.Write([]byte(partnerID))
	colour := logoPalette[h.Sum32()%uint32(len(logoPalette))]

	return fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 64 64" role="img" aria-label=%q>`+
			`<circle cx="32" cy="32" r="30" fill="%s"/>`+
			`<text x="32" y="40" font-family="Helvetica, Arial, sans-serif" font-size="22" `+
			`font-weight="bold" fill="#ffffff" text-anchor="middle">%s</text>`+
			`</svg>`,
		name, colour, initials(name))
}

func initials(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			b.WriteRune(r)
			break
		}
		if b.Len() >= 2 {
			break
		}
	}
	if b.Len() == 0 {
		return "?"
	}
	return strings.ToUpper(b.String())
}
