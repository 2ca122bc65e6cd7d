package serpapihttp

import (
	"regexp"
	"strings"
)

// Airline display names as users enter them, mapped to the IATA codes the
// provider's include_airlines parameter expects.
var airlineNameToIATA = map[string]string{
	"Delta":              "DL",
	"United":             "UA",
	"American":           "AA",
	"Southwest":          "WN",
	"JetBlue":            "B6",
	"Alaska":             "AS",
	"Hawaiian":           "HA",
	"Frontier":           "F9",
	"Spirit":             "NK",
	"Allegiant":          "G4",
	"Lufthansa":          "LH",
	"British Airways":    "BA",
	"Air France":         "AF",
	"KLM":                "KL",
	"Emirates":           "EK",
	"Qatar Airways":      "QR",
	"Etihad":             "EY",
	"Turkish Airlines":   "TK",
	"Singapore Airlines": "SQ",
	"Cathay Pacific":     "CX",
	"Japan Airlines":     "JL",
	"ANA":                "NH",
	"Korean Air":         "KE",
	"Qantas":             "QF",
	"Air Canada":         "AC",
	"Aeromexico":         "AM",
	"LATAM":              "LA",
	"Virgin Atlantic":    "VS",
	"Iberia":             "IB",
	"Swiss":              "LX",
	"Austrian":           "OS",
	"Scandinavian":       "SK",
}

// Alliance keywords the provider accepts alongside IATA codes.
var allianceCodes = map[string]struct{}{
	"STAR_ALLIANCE": {},
	"SKYTEAM":       {},
	"ONEWORLD":      {},
}

// Two uppercase letters, or one uppercase letter plus one digit.
var validAirlineCode = regexp.MustCompile(`^[A-Z]{2}$|^[A-Z][0-9]$`)

// airlineCodes converts preferred-airline names to provider codes,
// dropping entries that would make the query invalid. Order-preserving
// dedupe keeps the query string small.
func airlineCodes(names []string) (valid []string, invalid []string) {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		raw, ok := airlineNameToIATA[name]
		if !ok {
			raw = name
		}
		code := strings.ToUpper(strings.TrimSpace(raw))
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		if _, alliance := allianceCodes[code]; alliance || validAirlineCode.MatchString(code) {
			valid = append(valid, code)
		} else {
			invalid = append(invalid, code)
		}
	}
	return valid, invalid
}
