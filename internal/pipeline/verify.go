package pipeline

import (
	"fmt"

	"github.com/usittel/nap-proximity/internal/domain"
)

// Violation is a result that breaks one of the matching guarantees.
type Violation struct {
	ResultID string `json:"result_id"`
	Customer string `json:"customer"`
	Rule     string `json:"rule"`
	Detail   string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s (%s): %s: %s", v.ResultID, v.Customer, v.Rule, v.Detail)
}

// Verification rules.
const (
	RuleRadius        = "radius"
	RuleOccupancy     = "occupancy"
	RuleCompatibility = "compatibility"
	RuleConsistency   = "consistency"
)

// Verify re-checks every result against m: matched NAPs must lie inside the
// radius, be under the occupancy threshold and sit on a compatible street,
// and every result must carry exactly one outcome.
func Verify(results []domain.AssignmentResult, m *domain.Matcher) []Violation {
	var out []Violation
	for _, r := range results {
		add := func(rule, format string, args ...any) {
			out = append(out, Violation{ResultID: r.ID, Customer: r.Customer.Name, Rule: rule, Detail: fmt.Sprintf(format, args...)})
		}

		if !r.Matched() {
			if r.Unmatched == "" {
				add(RuleConsistency, "no NAP and no unmatched reason")
			}
			if r.Geocode.Status != domain.GeocodeResolved && r.Unmatched != domain.UnmatchedGeocodingFailed {
				add(RuleConsistency, "geocoding failed but reason is %s", r.Unmatched)
			}
			continue
		}

		nap := r.MatchedNap
		if r.Unmatched != "" {
			add(RuleConsistency, "matched to %s but marked %s", nap.ID, r.Unmatched)
		}
		if r.Geocode.Status != domain.GeocodeResolved {
			add(RuleConsistency, "matched to %s without a geocoded point", nap.ID)
		}
		if r.DistanceMeters == nil {
			add(RuleRadius, "matched to %s without a distance", nap.ID)
		} else if *r.DistanceMeters > m.RadiusMeters {
			add(RuleRadius, "%s is %.1fm away, radius %.0fm", nap.ID, *r.DistanceMeters, m.RadiusMeters)
		}
		if ratio, err := nap.OccupancyRatio(); err != nil {
			add(RuleOccupancy, "%v", err)
		} else if ratio > m.OccupancyThreshold {
			add(RuleOccupancy, "%s is %.0f%% used, threshold %.0f%%", nap.ID, ratio*100, m.OccupancyThreshold*100)
		}
		address := r.NormalizedAddress
		if address == "" {
			address = r.Customer.RawAddress
		}
		if !m.Streets.IsCompatible(address, nap.StreetAddress) {
			add(RuleCompatibility, "%q and %q (%s) are on different streets", address, nap.StreetAddress, nap.ID)
		}
	}
	return out
}
