package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/usittel/nap-proximity/internal/domain"
	"github.com/usittel/nap-proximity/internal/pipeline"
)

func TestSortForReport(t *testing.T) {
	nap := &domain.NapRecord{ID: "NAP-01", TotalPorts: 10}
	resolved := domain.GeocodeOutcome{Status: domain.GeocodeResolved}
	failedGeo := domain.GeocodeOutcome{Status: domain.GeocodeFailed, Reason: domain.ReasonNotFound}

	in := []domain.AssignmentResult{
		{ID: "fail-1", Geocode: failedGeo, Unmatched: domain.UnmatchedGeocodingFailed},
		{ID: "far", Geocode: resolved, MatchedNap: nap, DistanceMeters: ptr(120.0)},
		{ID: "unmatched-1", Geocode: resolved, Unmatched: domain.UnmatchedNoCompatible},
		{ID: "near", Geocode: resolved, MatchedNap: nap, DistanceMeters: ptr(15.0)},
		{ID: "fail-2", Geocode: failedGeo, Unmatched: domain.UnmatchedGeocodingFailed},
		{ID: "unmatched-2", Geocode: resolved, Unmatched: domain.UnmatchedNoNapWithinRadius},
		{ID: "mid", Geocode: resolved, MatchedNap: nap, DistanceMeters: ptr(60.0)},
	}

	got := pipeline.SortForReport(in)

	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"near", "mid", "far", "unmatched-1", "unmatched-2", "fail-1", "fail-2"}, ids)
	assert.Equal(t, "fail-1", in[0].ID, "input is not reordered")
}

func TestSortForReport_Empty(t *testing.T) {
	assert.Empty(t, pipeline.SortForReport(nil))
}
