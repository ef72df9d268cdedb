package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GeoPoint is a WGS-84 latitude/longitude coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// IsZero reports whether the point is the (0,0) placeholder spreadsheets use for "unknown".
func (p GeoPoint) IsZero() bool {
	return p.Lat == 0 && p.Lon == 0
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// BoundingBox is the rectangle a geocoded point must fall in to be accepted
// as part of the service city.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether p lies inside the box, edges included.
func (b BoundingBox) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// ParseBoundingBox parses "minLat,minLon,maxLat,maxLon".
func ParseBoundingBox(s string) (BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BoundingBox{}, fmt.Errorf("bounding box %q: want minLat,minLon,maxLat,maxLon", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("bounding box %q: %w", s, err)
		}
		v[i] = f
	}
	b := BoundingBox{MinLat: v[0], MinLon: v[1], MaxLat: v[2], MaxLon: v[3]}
	if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
		return BoundingBox{}, fmt.Errorf("bounding box %q: min must be below max", s)
	}
	return b, nil
}

// NapRecord is a fiber distribution box. NAPs are read-only reference data
// for a run; matching never mutates them.
type NapRecord struct {
	ID            string    `json:"id"`
	StreetAddress string    `json:"address"`
	TotalPorts    int       `json:"total_ports"`
	UsedPorts     int       `json:"used_ports"`
	Location      *GeoPoint `json:"location,omitempty"`
}

// OccupancyRatio returns used/total ports. It fails for a box with no ports.
func (n NapRecord) OccupancyRatio() (float64, error) {
	if n.TotalPorts <= 0 {
		return 0, fmt.Errorf("nap %s: %w", n.ID, ErrZeroCapacity)
	}
	return float64(n.UsedPorts) / float64(n.TotalPorts), nil
}

// FreePorts returns the number of unused ports, never negative.
func (n NapRecord) FreePorts() int {
	if free := n.TotalPorts - n.UsedPorts; free > 0 {
		return free
	}
	return 0
}

// Eligible reports whether the box is under the occupancy threshold.
func (n NapRecord) Eligible(threshold float64) bool {
	ratio, err := n.OccupancyRatio()
	if err != nil {
		return false
	}
	return ratio <= threshold
}

// CustomerRecord is a prospective customer as loaded from the sales sheet.
type CustomerRecord struct {
	Name       string `json:"name"`
	RawAddress string `json:"raw_address"`
	Phone      string `json:"phone,omitempty"`
	Zone       string `json:"zone,omitempty"`
	Status     string `json:"status,omitempty"`
}

// GeocodeStatus is the coarse outcome of resolving an address.
type GeocodeStatus string

const (
	GeocodeResolved GeocodeStatus = "RESOLVED"
	GeocodeFailed   GeocodeStatus = "FAILED"
)

// FailureReason classifies a geocoding failure.
type FailureReason string

const (
	ReasonNormalizationFailed FailureReason = "NORMALIZATION_FAILED"
	ReasonNotFound            FailureReason = "NOT_FOUND"
	ReasonOutOfArea           FailureReason = "OUT_OF_AREA"
	ReasonServiceError        FailureReason = "SERVICE_ERROR"
)

// UnmatchedReason explains why a customer has no NAP.
type UnmatchedReason string

const (
	UnmatchedGeocodingFailed   UnmatchedReason = "GEOCODING_FAILED"
	UnmatchedNoNapWithinRadius UnmatchedReason = "NO_NAP_WITHIN_RADIUS"
	UnmatchedNoCompatible      UnmatchedReason = "NO_COMPATIBLE_STREET"
)

// OutcomeMatched is the report label for customers with an assigned NAP.
const OutcomeMatched = "MATCHED"

// GeocodeOutcome records how a customer address resolved.
type GeocodeOutcome struct {
	Status    GeocodeStatus `json:"status"`
	Point     GeoPoint      `json:"point,omitempty"`
	Reason    FailureReason `json:"reason,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	FromCache bool          `json:"from_cache,omitempty"`
}

// AssignmentResult is the terminal record produced for every customer attempt.
type AssignmentResult struct {
	ID                string          `json:"id"`
	Customer          CustomerRecord  `json:"customer"`
	NormalizedAddress string          `json:"normalized_address,omitempty"`
	Geocode           GeocodeOutcome  `json:"geocode"`
	MatchedNap        *NapRecord      `json:"matched_nap,omitempty"`
	DistanceMeters    *float64        `json:"distance_meters,omitempty"`
	Unmatched         UnmatchedReason `json:"unmatched_reason,omitempty"`
	Suspicious        bool            `json:"suspicious,omitempty"`
	ProcessedAt       time.Time       `json:"processed_at"`
}

// Matched reports whether a NAP was assigned.
func (r AssignmentResult) Matched() bool {
	return r.MatchedNap != nil
}

// Outcome returns the report label: MATCHED or the unmatched reason.
func (r AssignmentResult) Outcome() string {
	if r.Matched() {
		return OutcomeMatched
	}
	return string(r.Unmatched)
}

// OccupancyPercent returns the matched NAP's occupancy in percent, or false when unmatched.
func (r AssignmentResult) OccupancyPercent() (float64, bool) {
	if r.MatchedNap == nil {
		return 0, false
	}
	ratio, err := r.MatchedNap.OccupancyRatio()
	if err != nil {
		return 0, false
	}
	return ratio * 100, true
}

// AssignmentID produces a deterministic ID from the customer's identifying fields.
// Reprocessing the same customer produces the same ID.
func AssignmentID(c CustomerRecord) string {
	input := fmt.Sprintf("%s|%s|%s",
		strings.ToUpper(strings.TrimSpace(c.Name)),
		strings.ToUpper(strings.TrimSpace(c.RawAddress)),
		strings.TrimSpace(c.Phone),
	)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:8])
}
