package sheet

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/usittel/nap-proximity/internal/domain"
)

var (
	napIDColumns      = []string{"ID NAP", "ID", "NAP"}
	napAddressColumns = []string{"DIRECCION", "DIRECCIÓN", "ADDRESS"}
	napUsedColumns    = []string{"PUERTOS UTILIZADOS", "PUERTOS OCUPADOS", "puertosOcupados", "USED PORTS"}
	napFreeColumns    = []string{"PUERTOS DISPONIBLES", "FREE PORTS"}
	napTotalColumns   = []string{"PUERTOS TOTALES", "puertosTotales", "TOTAL PORTS"}
	napLatColumns     = []string{"LATITUD", "LAT"}
	napLonColumns     = []string{"LONGITUD", "LON", "LNG"}
)

// NapSheet is the result of loading a NAP inventory sheet.
type NapSheet struct {
	Naps []domain.NapRecord
	// Rejected lists rows left out because a port count did not parse.
	Rejected []RowError
	Encoding string
}

// RowError describes a sheet row that could not be used.
type RowError struct {
	Line int
	ID   string
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d (%s): %v", e.Line, e.ID, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// LoadNaps reads a NAP inventory. Total ports come from a totals column when
// present, otherwise from used plus available. Rows with non-zero latitude
// and longitude carry a pre-known location. Rows with unreadable port counts
// are reported in Rejected; only a sheet with no usable row is an error.
func LoadNaps(r io.Reader) (NapSheet, error) {
	t, err := readTable(r, napAddressColumns)
	if err != nil {
		return NapSheet{}, err
	}
	addrCol, err := t.require(napAddressColumns...)
	if err != nil {
		return NapSheet{}, err
	}
	idCol, err := t.require(napIDColumns...)
	if err != nil {
		return NapSheet{}, err
	}
	usedCol, err := t.require(napUsedColumns...)
	if err != nil {
		return NapSheet{}, err
	}
	totalCol := t.column(napTotalColumns...)
	freeCol := t.column(napFreeColumns...)
	if totalCol < 0 && freeCol < 0 {
		return NapSheet{}, fmt.Errorf("%w: %s", ErrMissingColumn, napFreeColumns[0])
	}
	latCol := t.column(napLatColumns...)
	lonCol := t.column(napLonColumns...)

	out := NapSheet{Encoding: t.encoding}
	for i, row := range t.rows {
		line := t.firstLine + i
		if blank(row) {
			continue
		}
		n := domain.NapRecord{ID: cell(row, idCol), StreetAddress: cell(row, addrCol)}
		if n.ID == "" && n.StreetAddress == "" {
			continue
		}

		if err := readPorts(&n, row, usedCol, totalCol, freeCol); err != nil {
			out.Rejected = append(out.Rejected, RowError{Line: line, ID: n.ID, Err: err})
			continue
		}

		if latCol >= 0 && lonCol >= 0 {
			lat, latErr := parseDecimal(cell(row, latCol))
			lon, lonErr := parseDecimal(cell(row, lonCol))
			if latErr == nil && lonErr == nil {
				if p := (domain.GeoPoint{Lat: lat, Lon: lon}); !p.IsZero() {
					n.Location = &p
				}
			}
		}
		out.Naps = append(out.Naps, n)
	}
	if len(out.Naps) == 0 && len(out.Rejected) > 0 {
		return out, fmt.Errorf("no usable NAP rows: %w", out.Rejected[0])
	}
	return out, nil
}

func readPorts(n *domain.NapRecord, row []string, usedCol, totalCol, freeCol int) error {
	var err error
	if n.UsedPorts, err = parseCount(cell(row, usedCol)); err != nil {
		return fmt.Errorf("used ports: %w", err)
	}
	if totalCol >= 0 {
		if n.TotalPorts, err = parseCount(cell(row, totalCol)); err != nil {
			return fmt.Errorf("total ports: %w", err)
		}
		return nil
	}
	free, err := parseCount(cell(row, freeCol))
	if err != nil {
		return fmt.Errorf("available ports: %w", err)
	}
	n.TotalPorts = n.UsedPorts + free
	return nil
}

// mapNap is the record shape the static coverage map reads.
type mapNap struct {
	ID              string  `json:"id"`
	Direccion       string  `json:"direccion"`
	PuertosTotales  int     `json:"puertosTotales"`
	PuertosOcupados int     `json:"puertosOcupados"`
	Lat             float64 `json:"lat"`
	Lon             float64 `json:"lon"`
}

// WriteNapMap writes naps as the JSON array consumed by the coverage map.
// NAPs without a location are written with 0,0 so the page can list them.
func WriteNapMap(w io.Writer, naps []domain.NapRecord) error {
	out := make([]mapNap, 0, len(naps))
	for _, n := range naps {
		m := mapNap{
			ID:              n.ID,
			Direccion:       n.StreetAddress,
			PuertosTotales:  n.TotalPorts,
			PuertosOcupados: n.UsedPorts,
		}
		if n.Location != nil {
			m.Lat, m.Lon = n.Location.Lat, n.Location.Lon
		}
		out = append(out, m)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode nap map: %w", err)
	}
	return nil
}
