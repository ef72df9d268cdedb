package pipeline

import (
	"sort"

	"github.com/usittel/nap-proximity/internal/domain"
)

// Report is the output of a batch run. Results are in input order.
type Report struct {
	Results    []domain.AssignmentResult
	Summary    Summary
	Violations []Violation
}

// SortForReport returns a copy of results ordered for operators: matched rows
// by ascending distance, then geocoded-but-unmatched rows, then rows whose
// geocoding failed. Input order is kept within each group.
func SortForReport(results []domain.AssignmentResult) []domain.AssignmentResult {
	out := make([]domain.AssignmentResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := reportRank(out[i]), reportRank(out[j])
		if ri != rj {
			return ri < rj
		}
		if ri == 0 {
			return *out[i].DistanceMeters < *out[j].DistanceMeters
		}
		return false
	})
	return out
}

func reportRank(r domain.AssignmentResult) int {
	switch {
	case r.Matched() && r.DistanceMeters != nil:
		return 0
	case r.Geocode.Status == domain.GeocodeResolved:
		return 1
	default:
		return 2
	}
}
