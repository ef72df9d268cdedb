package sheet

import (
	"io"
	"strings"

	"github.com/usittel/nap-proximity/internal/domain"
)

// Column aliases seen across the sales sheets.
var (
	customerAddressColumns = []string{"DIRECCIÓN", "DIRECCION", "DOMICILIO", "ADDRESS"}
	customerNameColumns    = []string{"NOMBRE COMPLETO", "NOMBRE", "CLIENTE", "Unnamed: 1", "NAME"}
	customerPhoneColumns   = []string{"CELULAR", "TELEFONO", "TELÉFONO", "PHONE"}
	customerZoneColumns    = []string{"ZONA", "ZONE"}
	customerStatusColumns  = []string{"ESTADO", "STATUS"}
)

// CustomerSheet is the result of loading a customer sheet.
type CustomerSheet struct {
	Customers []domain.CustomerRecord
	// Skipped counts rows dropped by the status filter.
	Skipped  int
	Encoding string
}

// StatusFilter keeps customers whose status contains any of the substrings,
// compared without case or accents. An empty filter keeps everyone.
type StatusFilter []string

// ParseStatusFilter splits a comma-separated list.
func ParseStatusFilter(s string) StatusFilter {
	var f StatusFilter
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			f = append(f, part)
		}
	}
	return f
}

// Keep reports whether a customer with the given status is eligible.
func (f StatusFilter) Keep(status string) bool {
	if len(f) == 0 {
		return true
	}
	s := columnKey(status)
	for _, want := range f {
		if strings.Contains(s, columnKey(want)) {
			return true
		}
	}
	return false
}

// LoadCustomers reads a customer sheet. Rows without an address are dropped,
// as are rows rejected by filter. zone fills the zone of rows that have none.
func LoadCustomers(r io.Reader, filter StatusFilter, zone string) (CustomerSheet, error) {
	t, err := readTable(r, customerAddressColumns)
	if err != nil {
		return CustomerSheet{}, err
	}
	addrCol, err := t.require(customerAddressColumns...)
	if err != nil {
		return CustomerSheet{}, err
	}
	nameCol := t.column(customerNameColumns...)
	phoneCol := t.column(customerPhoneColumns...)
	zoneCol := t.column(customerZoneColumns...)
	statusCol := t.column(customerStatusColumns...)

	out := CustomerSheet{Encoding: t.encoding}
	for _, row := range t.rows {
		if blank(row) {
			continue
		}
		c := domain.CustomerRecord{
			Name:       cell(row, nameCol),
			RawAddress: strings.ReplaceAll(cell(row, addrCol), "|", " "),
			Phone:      cell(row, phoneCol),
			Zone:       cell(row, zoneCol),
			Status:     cell(row, statusCol),
		}
		if strings.TrimSpace(c.RawAddress) == "" {
			continue
		}
		if statusCol >= 0 && !filter.Keep(c.Status) {
			out.Skipped++
			continue
		}
		if c.Zone == "" {
			c.Zone = zone
		}
		out.Customers = append(out.Customers, c)
	}
	return out, nil
}
