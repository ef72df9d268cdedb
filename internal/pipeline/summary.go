package pipeline

import (
	"log/slog"
	"time"

	"github.com/usittel/nap-proximity/internal/domain"
)

// Summary holds the aggregate counters of a run.
type Summary struct {
	Customers       int                            `json:"customers"`
	Geocoded        int                            `json:"geocoded"`
	FromCache       int                            `json:"from_cache"`
	Matched         int                            `json:"matched"`
	Suspicious      int                            `json:"suspicious"`
	Unmatched       map[domain.UnmatchedReason]int `json:"unmatched"`
	GeocodeFailures map[domain.FailureReason]int   `json:"geocode_failures"`
	NapsLoaded      int                            `json:"naps_loaded"`
	NapsUsable      int                            `json:"naps_usable"`
	NapsExcluded    map[string]int                 `json:"naps_excluded"`
	GeocoderCalls   int                            `json:"geocoder_calls"`
	Duration        time.Duration                  `json:"duration"`
}

func newSummary() Summary {
	return Summary{
		Unmatched:       make(map[domain.UnmatchedReason]int),
		GeocodeFailures: make(map[domain.FailureReason]int),
		NapsExcluded:    make(map[string]int),
	}
}

func (s *Summary) add(r domain.AssignmentResult) {
	s.Customers++
	if r.Geocode.Status == domain.GeocodeResolved {
		s.Geocoded++
	} else {
		s.GeocodeFailures[r.Geocode.Reason]++
	}
	if r.Geocode.FromCache {
		s.FromCache++
	}
	if r.Matched() {
		s.Matched++
		if r.Suspicious {
			s.Suspicious++
		}
		return
	}
	s.Unmatched[r.Unmatched]++
}

// Log writes the summary as one structured record.
func (s Summary) Log(logger *slog.Logger) {
	logger.Info("batch complete",
		"customers", s.Customers,
		"geocoded", s.Geocoded,
		"from_cache", s.FromCache,
		"matched", s.Matched,
		"suspicious", s.Suspicious,
		"geocoding_failed", s.Unmatched[domain.UnmatchedGeocodingFailed],
		"no_nap_within_radius", s.Unmatched[domain.UnmatchedNoNapWithinRadius],
		"no_compatible_street", s.Unmatched[domain.UnmatchedNoCompatible],
		"naps_loaded", s.NapsLoaded,
		"naps_usable", s.NapsUsable,
		"geocoder_calls", s.GeocoderCalls,
		"duration", s.Duration,
	)
}
