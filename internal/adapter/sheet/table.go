// Package sheet reads operator spreadsheets exported as CSV and writes the
// assignment report and NAP map files.
package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrMissingColumn is returned when a required column is absent from the header.
var ErrMissingColumn = errors.New("missing column")

// headerScanRows bounds how far below the top a header row may sit.
const headerScanRows = 10

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// table is a decoded CSV with its header resolved.
type table struct {
	encoding  string
	delimiter rune
	header    map[string]int
	rows      [][]string
	// firstLine is the 1-based line number of rows[0], for error messages.
	firstLine int
}

// decode returns data as UTF-8. Spreadsheet exports from Windows arrive as
// cp1252, which is tried when the bytes are not valid UTF-8.
func decode(data []byte) (string, string, error) {
	if utf8.Valid(data) {
		return string(bytes.TrimPrefix(data, utf8BOM)), "utf-8", nil
	}
	text, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", fmt.Errorf("decode windows-1252: %w", err)
	}
	return string(text), "windows-1252", nil
}

// detectDelimiter picks ';', ',' or tab by counting them in the first non-empty line.
func detectDelimiter(text string) rune {
	line := text
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			line = l
			break
		}
	}
	best, bestCount := ';', 0
	for _, d := range []rune{';', ',', '\t'} {
		if c := strings.Count(line, string(d)); c > bestCount {
			best, bestCount = d, c
		}
	}
	return best
}

// readTable decodes r and locates the header row, which is the first row in
// the top headerScanRows naming one of anchor's aliases.
func readTable(r io.Reader, anchor []string) (*table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	text, enc, err := decode(data)
	if err != nil {
		return nil, err
	}

	t := &table{encoding: enc, delimiter: detectDelimiter(text)}
	cr := csv.NewReader(strings.NewReader(text))
	cr.Comma = t.delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	for i, rec := range records {
		if i >= headerScanRows {
			break
		}
		header := indexHeader(rec)
		if _, ok := lookup(header, anchor); ok {
			t.header = header
			t.rows = records[i+1:]
			t.firstLine = i + 2
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingColumn, anchor[0])
}

func indexHeader(rec []string) map[string]int {
	h := make(map[string]int, len(rec))
	for i, name := range rec {
		key := columnKey(name)
		if _, dup := h[key]; key != "" && !dup {
			h[key] = i
		}
	}
	return h
}

func lookup(header map[string]int, aliases []string) (int, bool) {
	for _, a := range aliases {
		if i, ok := header[columnKey(a)]; ok {
			return i, true
		}
	}
	return -1, false
}

// column returns the index of the first alias present, or -1.
func (t *table) column(aliases ...string) int {
	i, _ := lookup(t.header, aliases)
	return i
}

func (t *table) require(aliases ...string) (int, error) {
	if i, ok := lookup(t.header, aliases); ok {
		return i, nil
	}
	return -1, fmt.Errorf("%w: %s", ErrMissingColumn, aliases[0])
}

var headerFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// columnKey folds accents, case, underscores and spacing so "Dirección",
// "DIRECCION" and "direccion" name the same column.
func columnKey(name string) string {
	folded, _, err := transform.String(headerFolder, name)
	if err != nil {
		folded = name
	}
	folded = strings.ReplaceAll(strings.ToUpper(folded), "_", " ")
	return strings.Join(strings.Fields(folded), " ")
}

// cell returns the trimmed value at column i, or "" when the row is short.
func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	v := strings.TrimSpace(row[i])
	if strings.EqualFold(v, "nan") {
		return ""
	}
	return v
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseDecimal accepts both "-37,3217" and "-37.3217". Empty is zero.
func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

// parseCount parses a port count. Spreadsheets often export integers as "8.0" or "8,0".
func parseCount(s string) (int, error) {
	f, err := parseDecimal(s)
	if err != nil {
		return 0, err
	}
	if f < 0 || f != float64(int(f)) {
		return 0, fmt.Errorf("not a port count: %q", s)
	}
	return int(f), nil
}
