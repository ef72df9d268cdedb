package domain

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// DefaultQualifiers is the vocabulary of unit, floor and lot qualifiers that
// trail a street address. Dots inside a token are optional when matching.
var DefaultQualifiers = []string{
	"DEPARTAMENTO", "DEPTO", "DPTO", "DTO",
	"PISO", "PLANTA BAJA", "P.B", "P.A",
	"CASA", "LOCAL", "LOC",
	"OFICINA", "OF",
	"INTERIOR", "INT",
	"P.H", "MONOAMBIENTE", "TALLER",
	"FRENTE", "FTE", "FONDO", "FDO",
}

// DefaultPrefixes are sheet bookkeeping codes operators type before the address.
var DefaultPrefixes = []string{"USI", "ENC.", "ZonaDIC", "B03/25-Z2"}

// NormalizerRules parameterizes the address normalizer.
type NormalizerRules struct {
	// City is stripped when glued to a door number or trailing the address.
	City string
	// Qualifiers marks where trailing unit information starts.
	Qualifiers []string
	// Prefixes are dropped from the start of the address as whole words.
	Prefixes []string
}

// DefaultNormalizerRules returns the rules for the Tandil service area.
func DefaultNormalizerRules() NormalizerRules {
	return NormalizerRules{City: "Tandil", Qualifiers: DefaultQualifiers, Prefixes: DefaultPrefixes}
}

// NormalizedAddress is a street name plus optional door number, qualifiers removed.
type NormalizedAddress struct {
	Street string
	Number string
}

func (a NormalizedAddress) String() string {
	if a.Number == "" {
		return a.Street
	}
	return a.Street + " " + a.Number
}

// Key is the canonical cache key for the address.
func (a NormalizedAddress) Key() string {
	return strings.ToLower(a.String())
}

var (
	// parenRe drops annotations such as "(DTO 3)" or "(FRENTE)".
	parenRe = regexp.MustCompile(`\([^)]*\)?`)

	// gluedStreetRe splits a street name glued to its number: "ALSINA405" -> "ALSINA 405".
	gluedStreetRe = regexp.MustCompile(`(\pL{3,})(\d+)`)

	// houseNumberRe finds the door number: the first digit run preceded by a street
	// name containing at least one letter. Leading numbers ("25 DE MAYO") stay in the name.
	houseNumberRe = regexp.MustCompile(`(?s)^(.*?\pL.*?)\s+(\d+)(.*)$`)

	// noiseRe matches everything that is not a letter, digit or space.
	noiseRe = regexp.MustCompile(`[^\pL\pN\s]+`)
)

// Normalizer turns raw operator-typed addresses into geocoder-friendly
// "Street Number" strings. It is a pure function of its rule table.
type Normalizer struct {
	prefixes     []string
	gluedCity    *regexp.Regexp
	trailingCity *regexp.Regexp
	qualifier    *regexp.Regexp
}

// NewNormalizer compiles the rule table.
func NewNormalizer(rules NormalizerRules) *Normalizer {
	n := &Normalizer{}
	for _, p := range rules.Prefixes {
		// Prefixes are compared after punctuation is stripped from the address.
		if p = collapse(noiseRe.ReplaceAllString(strings.ToUpper(p), " ")); p != "" {
			n.prefixes = append(n.prefixes, p)
		}
	}
	if city := strings.TrimSpace(rules.City); city != "" {
		q := regexp.QuoteMeta(strings.ToUpper(city))
		n.gluedCity = regexp.MustCompile(`(\d)\s*` + q + `\b`)
		n.trailingCity = regexp.MustCompile(`(?:(?:^|\s+)` + q + `)+\s*$`)
	}
	if len(rules.Qualifiers) > 0 {
		n.qualifier = compileQualifiers(rules.Qualifiers)
	}
	return n
}

func compileQualifiers(tokens []string) *regexp.Regexp {
	sorted := append([]string(nil), tokens...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	alts := make([]string, 0, len(sorted))
	for _, tok := range sorted {
		p := regexp.QuoteMeta(strings.ToUpper(strings.TrimSpace(tok)))
		p = strings.ReplaceAll(p, `\.`, `\.?\s*`)
		p = strings.ReplaceAll(p, " ", `\s+`)
		alts = append(alts, p)
	}
	return regexp.MustCompile(`(?:^|[^\pL\pN])(?:` + strings.Join(alts, "|") + `)\.?(?:[^\pL]|$)`)
}

// Normalize reduces raw to street and door number. It returns ErrNormalization
// (as a *GeocodeError) when fewer than three significant characters remain.
// Normalize is idempotent on its own output.
func (n *Normalizer) Normalize(raw string) (NormalizedAddress, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = parenRe.ReplaceAllString(s, " ")
	s = collapse(noiseRe.ReplaceAllString(s, " "))
	s = n.stripPrefixes(s)

	if n.gluedCity != nil {
		s = n.gluedCity.ReplaceAllString(s, "$1 ")
		s = n.trailingCity.ReplaceAllString(s, "")
	}
	s = collapse(gluedStreetRe.ReplaceAllString(s, "$1 $2"))

	var addr NormalizedAddress
	if m := houseNumberRe.FindStringSubmatch(s); m != nil && n.cutQualifiers(m[1]) == m[1] {
		// Everything after the door number is unit information.
		addr.Street = m[1]
		addr.Number = strings.TrimLeft(m[2], "0")
		if addr.Number == "" {
			addr.Number = "0"
		}
	} else {
		// No door number, or the first digits belong to a unit ("PINTO DTO 7").
		addr.Street = n.cutQualifiers(s)
	}

	addr.Street = titleCase(collapse(addr.Street))
	if !significant(addr.Street+addr.Number) || n.onlyQualifiers(addr.Street) {
		return NormalizedAddress{}, &GeocodeError{Reason: ReasonNormalizationFailed, Detail: raw}
	}
	return addr, nil
}

// stripPrefixes drops leading bookkeeping codes until none is left.
func (n *Normalizer) stripPrefixes(s string) string {
	for changed := true; changed; {
		changed = false
		for _, p := range n.prefixes {
			if s == p {
				return ""
			}
			if strings.HasPrefix(s, p+" ") {
				s = s[len(p)+1:]
				changed = true
			}
		}
	}
	return s
}

// cutQualifiers removes the first qualifier that follows some street text,
// together with everything after it. A qualifier at the very start is kept.
func (n *Normalizer) cutQualifiers(s string) string {
	if n.qualifier == nil {
		return s
	}
	for _, loc := range n.qualifier.FindAllStringIndex(s, -1) {
		if strings.IndexFunc(s[:loc[0]], unicode.IsLetter) >= 0 {
			return s[:loc[0]]
		}
	}
	return s
}

// onlyQualifiers reports whether street is made of qualifier tokens alone, as in "DTO 4".
func (n *Normalizer) onlyQualifiers(street string) bool {
	if n.qualifier == nil {
		return false
	}
	rest := " " + strings.ToUpper(street) + " "
	for {
		next := n.qualifier.ReplaceAllString(rest, "  ")
		if next == rest {
			break
		}
		rest = next
	}
	return strings.IndexFunc(rest, unicode.IsLetter) < 0
}

// significant reports whether s has at least three letters or digits, one of them a letter.
func significant(s string) bool {
	count, letters := 0, 0
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letters++
			count++
		case unicode.IsDigit(r):
			count++
		}
	}
	return count >= 3 && letters > 0
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
