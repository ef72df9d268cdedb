package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultAbbreviations expands the street-name abbreviations found in the
// source sheets so that "AV. ESPAÑA" and "AVENIDA ESPAÑA" compare equal.
// Keys and values are accent-free upper case.
var DefaultAbbreviations = map[string]string{
	"AV": "AVENIDA", "AVE": "AVENIDA", "AVDA": "AVENIDA", "AVD": "AVENIDA",
	"GRAL": "GENERAL", "GRL": "GENERAL",
	"DR": "DOCTOR", "DOC": "DOCTOR",
	"PJE": "PASAJE", "PSJE": "PASAJE",
	"PQUE": "PARQUE",
	"BV": "BOULEVARD", "BLV": "BOULEVARD", "BLVD": "BOULEVARD", "BOUL": "BOULEVARD",
	"STA": "SANTA", "STO": "SANTO", "SN": "SAN",
	"PTE": "PRESIDENTE", "PRES": "PRESIDENTE",
	"CNEL": "CORONEL", "TTE": "TENIENTE",
	"GDOR": "GOBERNADOR", "GOB": "GOBERNADOR",
	"ING": "INGENIERO", "PROF": "PROFESOR",
	"MONS": "MONSENOR", "MSR": "MONSENOR",
	"CMTE": "COMANDANTE", "CTE": "COMANDANTE",
	"SGTO": "SARGENTO", "CAP": "CAPITAN", "ALTE": "ALMIRANTE", "ALMTE": "ALMIRANTE",
	"DIAG": "DIAGONAL",
}

// DefaultGenericTokens are street types and honorifics. They are too common to
// prove two addresses share a street, so the shared-token rule ignores them.
var DefaultGenericTokens = []string{
	"AVENIDA", "BOULEVARD", "PASAJE", "CALLE", "DIAGONAL", "RUTA", "BARRIO",
	"GENERAL", "DOCTOR", "PRESIDENTE", "CORONEL", "TENIENTE", "GOBERNADOR",
	"INGENIERO", "PROFESOR", "MONSENOR", "COMANDANTE", "SARGENTO", "CAPITAN",
	"ALMIRANTE", "SANTA", "SANTO", "ENTRE",
}

// StreetRules parameterizes the compatibility heuristic. The length cutoffs
// are tuning knobs, not business rules.
type StreetRules struct {
	Abbreviations   map[string]string
	GenericTokens   []string
	Qualifiers      []string
	MinSubstringLen int
	MinTokenLen     int
}

// DefaultStreetRules returns the cutoffs the matching scripts converged on.
func DefaultStreetRules() StreetRules {
	return StreetRules{
		Abbreviations:   DefaultAbbreviations,
		GenericTokens:   DefaultGenericTokens,
		Qualifiers:      DefaultQualifiers,
		MinSubstringLen: 4,
		MinTokenLen:     4,
	}
}

// StreetMatcher decides whether a customer and a NAP plausibly sit on the same street.
type StreetMatcher struct {
	abbrev     map[string]string
	generic    map[string]bool
	qualifiers map[string]bool
	minSubstr  int
	minToken   int
}

// NewStreetMatcher builds a matcher from rules.
func NewStreetMatcher(rules StreetRules) *StreetMatcher {
	m := &StreetMatcher{
		abbrev:     make(map[string]string, len(rules.Abbreviations)),
		generic:    make(map[string]bool, len(rules.GenericTokens)),
		qualifiers: make(map[string]bool, len(rules.Qualifiers)),
		minSubstr:  rules.MinSubstringLen,
		minToken:   rules.MinTokenLen,
	}
	for k, v := range rules.Abbreviations {
		m.abbrev[foldUpper(k)] = foldUpper(v)
	}
	for _, g := range rules.GenericTokens {
		m.generic[foldUpper(g)] = true
	}
	for _, q := range rules.Qualifiers {
		// Multi-word and dotted qualifiers only need their first token here.
		if f := strings.Fields(tokenize(q)); len(f) > 0 {
			m.qualifiers[f[0]] = true
		}
	}
	return m
}

// IsCompatible reports whether the two addresses share a street. It is true when
// the expanded names are equal, when one contains the other and both are long
// enough, or when they share a significant non-generic token. Intersections
// ("ALSINA Y MITRE") compare every street they name.
func (m *StreetMatcher) IsCompatible(customerAddress, napAddress string) bool {
	customer := m.StreetNames(customerAddress)
	nap := m.StreetNames(napAddress)
	for _, a := range customer {
		for _, b := range nap {
			if m.sameStreet(a, b) {
				return true
			}
		}
	}
	return false
}

// StreetNames extracts the expanded street names at the head of an address:
// the letter tokens up to the first door number, split on " Y " intersections.
func (m *StreetMatcher) StreetNames(address string) []string {
	tokens := strings.Fields(tokenize(address))

	var names []string
	var current []string
	flush := func() {
		if name := strings.Join(current, " "); len(name) > 2 {
			names = append(names, name)
		}
		current = nil
	}

	for i, tok := range tokens {
		if hasDigit(tok) {
			// A leading number belongs to the name: "25 DE MAYO", "9 DE JULIO".
			if len(current) == 0 && len(names) == 0 && isDigits(tok) && i+1 < len(tokens) && !hasDigit(tokens[i+1]) {
				current = append(current, tok)
				continue
			}
			break
		}
		if len(current) > 0 && m.qualifiers[tok] {
			break
		}
		if tok == "Y" {
			flush()
			continue
		}
		if full, ok := m.abbrev[tok]; ok {
			tok = full
		}
		current = append(current, tok)
	}
	flush()
	return names
}

func (m *StreetMatcher) sameStreet(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) >= m.minSubstr && len(b) >= m.minSubstr && m.distinctive(a) && m.distinctive(b) {
		if strings.Contains(a, b) || strings.Contains(b, a) {
			return true
		}
	}
	seen := make(map[string]bool)
	for _, t := range strings.Fields(a) {
		if m.significantToken(t) {
			seen[t] = true
		}
	}
	for _, t := range strings.Fields(b) {
		if seen[t] {
			return true
		}
	}
	return false
}

// distinctive reports whether a name has at least one token that is not a street type or title.
func (m *StreetMatcher) distinctive(name string) bool {
	for _, t := range strings.Fields(name) {
		if !m.generic[t] {
			return true
		}
	}
	return false
}

func (m *StreetMatcher) significantToken(t string) bool {
	return len(t) >= m.minToken && !m.generic[t] && !isDigits(t)
}

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldUpper upper-cases s and strips diacritics: "Maipú" -> "MAIPU".
func foldUpper(s string) string {
	folded, _, err := transform.String(accentFolder, s)
	if err != nil {
		folded = s
	}
	return strings.ToUpper(folded)
}

// tokenize folds s and replaces every non-alphanumeric rune with a space.
func tokenize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, foldUpper(s))
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func isDigits(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
}
