package domain

import "fmt"

// distanceTieMeters is the tolerance under which two candidates count as equidistant.
const distanceTieMeters = 0.01

// Candidate is a NAP selected for a customer together with its distance.
type Candidate struct {
	Nap            NapRecord
	DistanceMeters float64
}

// Matcher picks the nearest eligible, street-compatible NAP inside a radius.
type Matcher struct {
	RadiusMeters       float64
	OccupancyThreshold float64
	Streets            *StreetMatcher
}

// NewMatcher creates a Matcher. A nil streets matcher uses DefaultStreetRules.
func NewMatcher(radiusMeters, occupancyThreshold float64, streets *StreetMatcher) *Matcher {
	if streets == nil {
		streets = NewStreetMatcher(DefaultStreetRules())
	}
	return &Matcher{
		RadiusMeters:       radiusMeters,
		OccupancyThreshold: occupancyThreshold,
		Streets:            streets,
	}
}

// FindNearestNap scans naps for the closest candidate to point whose street is
// compatible with address. NAPs without a location or over the occupancy
// threshold are skipped. Equal distances prefer more free ports, then the lower ID.
//
// When nothing qualifies it returns ErrNoCompatibleStreet if at least one NAP
// was inside the radius, and ErrNoNapWithinRadius otherwise.
func (m *Matcher) FindNearestNap(point GeoPoint, address string, naps []NapRecord) (Candidate, error) {
	var (
		best     Candidate
		found    bool
		inRadius int
	)

	for _, nap := range naps {
		if nap.Location == nil || !nap.Eligible(m.OccupancyThreshold) {
			continue
		}
		d := HaversineMeters(point, *nap.Location)
		if d > m.RadiusMeters {
			continue
		}
		inRadius++
		if !m.Streets.IsCompatible(address, nap.StreetAddress) {
			continue
		}
		c := Candidate{Nap: nap, DistanceMeters: d}
		if !found || better(c, best) {
			best, found = c, true
		}
	}

	if found {
		return best, nil
	}
	if inRadius > 0 {
		return Candidate{}, fmt.Errorf("%d nap(s) within %.0fm: %w", inRadius, m.RadiusMeters, ErrNoCompatibleStreet)
	}
	return Candidate{}, fmt.Errorf("radius %.0fm: %w", m.RadiusMeters, ErrNoNapWithinRadius)
}

func better(a, b Candidate) bool {
	if diff := a.DistanceMeters - b.DistanceMeters; diff < -distanceTieMeters || diff > distanceTieMeters {
		return diff < 0
	}
	if fa, fb := a.Nap.FreePorts(), b.Nap.FreePorts(); fa != fb {
		return fa > fb
	}
	return a.Nap.ID < b.Nap.ID
}
