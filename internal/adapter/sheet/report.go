package sheet

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/usittel/nap-proximity/internal/domain"
)

// Report labels for rows without a NAP.
const (
	LabelNoMatch       = "NO MATCH"
	LabelGeocodeFailed = "GEOCODE FAILED"
)

var reportHeader = []string{
	"id", "name", "address", "phone", "zone", "status",
	"normalized_address", "geocode_status", "geocode_reason", "geocode_detail", "lat", "lon",
	"outcome", "nap_id", "nap_address", "nap_used_ports", "nap_total_ports",
	"distance_m", "occupancy_pct", "suspicious", "processed_at",
}

// WriteReport writes results as a comma-separated report in the given order.
// Rows without a NAP carry an explicit label in the nap_id column.
func WriteReport(w io.Writer, results []domain.AssignmentResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	for _, r := range results {
		if err := cw.Write(reportRow(r)); err != nil {
			return fmt.Errorf("write report row %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}

func reportRow(r domain.AssignmentResult) []string {
	row := []string{
		r.ID, r.Customer.Name, r.Customer.RawAddress, r.Customer.Phone, r.Customer.Zone, r.Customer.Status,
		r.NormalizedAddress, string(r.Geocode.Status), string(r.Geocode.Reason), r.Geocode.Detail, "", "",
		r.Outcome(), "", "", "", "",
		"", "", strconv.FormatBool(r.Suspicious), r.ProcessedAt.UTC().Format(time.RFC3339),
	}
	if r.Geocode.Status == domain.GeocodeResolved {
		row[10] = formatFloat(r.Geocode.Point.Lat, 6)
		row[11] = formatFloat(r.Geocode.Point.Lon, 6)
	}
	switch {
	case r.Matched():
		row[13] = r.MatchedNap.ID
		row[14] = r.MatchedNap.StreetAddress
		row[15] = strconv.Itoa(r.MatchedNap.UsedPorts)
		row[16] = strconv.Itoa(r.MatchedNap.TotalPorts)
		if r.DistanceMeters != nil {
			row[17] = formatFloat(*r.DistanceMeters, 1)
		}
		if pct, ok := r.OccupancyPercent(); ok {
			row[18] = formatFloat(pct, 1)
		}
	case r.Unmatched == domain.UnmatchedGeocodingFailed:
		row[13] = LabelGeocodeFailed
	default:
		row[13] = LabelNoMatch
	}
	return row
}

func formatFloat(f float64, prec int) string {
	return strconv.FormatFloat(f, 'f', prec, 64)
}

// ReadReport parses a report written by WriteReport.
func ReadReport(r io.Reader) ([]domain.AssignmentResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(reportHeader)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty report", ErrMissingColumn)
	}
	for i, name := range reportHeader {
		if records[0][i] != name {
			return nil, fmt.Errorf("%w: report column %d is %q, want %q", ErrMissingColumn, i+1, records[0][i], name)
		}
	}

	out := make([]domain.AssignmentResult, 0, len(records)-1)
	for i, row := range records[1:] {
		res, err := parseReportRow(row)
		if err != nil {
			return nil, fmt.Errorf("report line %d: %w", i+2, err)
		}
		out = append(out, res)
	}
	return out, nil
}

func parseReportRow(row []string) (domain.AssignmentResult, error) {
	res := domain.AssignmentResult{
		ID: row[0],
		Customer: domain.CustomerRecord{
			Name: row[1], RawAddress: row[2], Phone: row[3], Zone: row[4], Status: row[5],
		},
		NormalizedAddress: row[6],
		Geocode: domain.GeocodeOutcome{
			Status: domain.GeocodeStatus(row[7]),
			Reason: domain.FailureReason(row[8]),
			Detail: row[9],
		},
	}
	if res.Geocode.Status == domain.GeocodeResolved {
		lat, err := strconv.ParseFloat(row[10], 64)
		if err != nil {
			return res, fmt.Errorf("lat: %w", err)
		}
		lon, err := strconv.ParseFloat(row[11], 64)
		if err != nil {
			return res, fmt.Errorf("lon: %w", err)
		}
		res.Geocode.Point = domain.GeoPoint{Lat: lat, Lon: lon}
	}

	if row[12] == domain.OutcomeMatched {
		nap := &domain.NapRecord{ID: row[13], StreetAddress: row[14]}
		var err error
		if nap.UsedPorts, err = strconv.Atoi(row[15]); err != nil {
			return res, fmt.Errorf("nap_used_ports: %w", err)
		}
		if nap.TotalPorts, err = strconv.Atoi(row[16]); err != nil {
			return res, fmt.Errorf("nap_total_ports: %w", err)
		}
		res.MatchedNap = nap
		if row[17] != "" {
			d, err := strconv.ParseFloat(row[17], 64)
			if err != nil {
				return res, fmt.Errorf("distance_m: %w", err)
			}
			res.DistanceMeters = &d
		}
	} else {
		res.Unmatched = domain.UnmatchedReason(row[12])
	}

	if row[19] != "" {
		s, err := strconv.ParseBool(row[19])
		if err != nil {
			return res, fmt.Errorf("suspicious: %w", err)
		}
		res.Suspicious = s
	}
	if row[20] != "" {
		ts, err := time.Parse(time.RFC3339, row[20])
		if err != nil {
			return res, fmt.Errorf("processed_at: %w", err)
		}
		res.ProcessedAt = ts
	}
	return res, nil
}
