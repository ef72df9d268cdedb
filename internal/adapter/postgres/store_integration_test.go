//go:build integration

package postgres

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/usittel/nap-proximity/internal/domain"
)

func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "napmatch",
				"POSTGRES_PASSWORD": "napmatch",
				"POSTGRES_DB":       "napmatch",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://napmatch:napmatch@%s/napmatch?sslmode=disable", endpoint)
}

func TestStore_Integration(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, startPostgres(ctx, t))
	require.NoError(t, err)

	store := NewStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx), "schema creation is repeatable")

	dist := 40.0
	matched := domain.AssignmentResult{
		ID:             "a1",
		Customer:       domain.CustomerRecord{Name: "Ana", RawAddress: "ALSINA 956"},
		Geocode:        domain.GeocodeOutcome{Status: domain.GeocodeResolved, Point: domain.GeoPoint{Lat: -37.32, Lon: -59.13}},
		MatchedNap:     &domain.NapRecord{ID: "N-01", StreetAddress: "ALSINA 900", TotalPorts: 20, UsedPorts: 5},
		DistanceMeters: &dist,
		ProcessedAt:    time.Now().UTC(),
	}
	failed := domain.AssignmentResult{
		ID:          "b2",
		Customer:    domain.CustomerRecord{Name: "Juan", RawAddress: "PAZ 10"},
		Geocode:     domain.GeocodeOutcome{Status: domain.GeocodeFailed, Reason: domain.ReasonNotFound},
		Unmatched:   domain.UnmatchedGeocodingFailed,
		ProcessedAt: time.Now().UTC(),
	}
	require.NoError(t, store.LoadBatch(ctx, []domain.AssignmentResult{matched, failed}))

	// A rerun replaces the row instead of duplicating it.
	matched.MatchedNap = nil
	matched.DistanceMeters = nil
	matched.Unmatched = domain.UnmatchedNoNapWithinRadius
	require.NoError(t, store.LoadBatch(ctx, []domain.AssignmentResult{matched}))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM nap_assignments`).Scan(&count))
	assert.Equal(t, 2, count)

	var outcome string
	var napID *string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT outcome, nap_id FROM nap_assignments WHERE id = 'a1'`).Scan(&outcome, &napID))
	assert.Equal(t, "NO_NAP_WITHIN_RADIUS", outcome)
	assert.Nil(t, napID)
}
