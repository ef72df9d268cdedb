package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/usittel/nap-proximity/internal/domain"
	"github.com/usittel/nap-proximity/internal/geocache"
	"github.com/usittel/nap-proximity/internal/observability"
	"github.com/usittel/nap-proximity/internal/pipeline"
)

// --- mocks ---

type mockGeocoder struct {
	mu         sync.Mutex
	points     map[string]domain.GeoPoint
	errs       map[string]error
	defaultErr error
	calls      []string
}

func (m *mockGeocoder) Geocode(_ context.Context, query string) (domain.GeocodingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, query)
	if err, ok := m.errs[query]; ok {
		return domain.GeocodingResult{}, err
	}
	if p, ok := m.points[query]; ok {
		return domain.GeocodingResult{Point: p, DisplayName: query}, nil
	}
	if m.defaultErr != nil {
		return domain.GeocodingResult{}, m.defaultErr
	}
	return domain.GeocodingResult{}, domain.ErrNoResults
}

func (m *mockGeocoder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type memStore struct {
	mu      sync.Mutex
	entries map[string]geocache.Entry
	saves   int
}

func (m *memStore) Load(_ context.Context) (map[string]geocache.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]geocache.Entry, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Save(_ context.Context, entries map[string]geocache.Entry, _ []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.entries = entries
	return nil
}

type mockLoader struct {
	failures int
	batches  [][]domain.AssignmentResult
}

func (m *mockLoader) LoadBatch(_ context.Context, results []domain.AssignmentResult) error {
	if m.failures > 0 {
		m.failures--
		return io.ErrUnexpectedEOF
	}
	m.batches = append(m.batches, results)
	return nil
}

// --- fixtures ---

const testSuffix = "Tandil"

var (
	tandil = domain.BoundingBox{MinLat: -37.5, MinLon: -59.3, MaxLat: -37.2, MaxLon: -59.0}

	pointA      = domain.GeoPoint{Lat: -37.3200, Lon: -59.1300}
	pointB      = domain.GeoPoint{Lat: -37.3300, Lon: -59.1500}
	pointC      = domain.GeoPoint{Lat: -37.3100, Lon: -59.1400}
	buenosAires = domain.GeoPoint{Lat: -34.6037, Lon: -58.3816}
)

// north returns a point roughly meters north of p.
func north(p domain.GeoPoint, meters float64) domain.GeoPoint {
	return domain.GeoPoint{Lat: p.Lat + meters/111195.0, Lon: p.Lon}
}

func ptr[T any](v T) *T { return &v }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func freezeClock(t *testing.T) clockwork.Clock {
	t.Helper()
	fake := clockwork.NewFakeClockAt(time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })
	return fake
}

// fixtureGeocoder knows the gazetteer answers for the fixture addresses.
func fixtureGeocoder() *mockGeocoder {
	return &mockGeocoder{points: map[string]domain.GeoPoint{
		"Alsina 1000, Tandil":    north(pointA, 60),
		"Alsina 956, Tandil":     pointA,
		"Mitre 500, Tandil":      pointB,
		"Pinto 300, Tandil":      pointC,
		"Belgrano 99999, Tandil": buenosAires,
	}}
}

func fixtureNaps() []domain.NapRecord {
	return []domain.NapRecord{
		{ID: "NAP-01", StreetAddress: "ALSINA 1000", TotalPorts: 16, UsedPorts: 2},
		{ID: "NAP-03", StreetAddress: "RODRIGUEZ 300", TotalPorts: 8, UsedPorts: 1, Location: ptr(north(pointC, 8))},
		{ID: "NAP-04", StreetAddress: "ALSINA 900", TotalPorts: 10, UsedPorts: 8, Location: ptr(north(pointA, 10))},
		{ID: "NAP-05", StreetAddress: "SAN MARTIN 1500", TotalPorts: 0, UsedPorts: 0},
		{ID: "NAP-06", StreetAddress: "CHACABUCO 100", TotalPorts: 8, UsedPorts: 0},
	}
}

func fixtureCustomers() []domain.CustomerRecord {
	return []domain.CustomerRecord{
		{Name: "Ana", RawAddress: "ALSINA 956 - DTO. 4", Phone: "2494000001", Status: "NO"},
		{Name: "Bruno", RawAddress: "MITRE 500", Phone: "2494000002", Status: "NO"},
		{Name: "Carla", RawAddress: "PINTO 300", Phone: "2494000003", Status: "NO"},
		{Name: "Diego", RawAddress: "BELGRANO 99999", Phone: "2494000004", Status: "NO"},
		{Name: "Elena", RawAddress: "DTO 4", Phone: "2494000005", Status: "NO"},
		{Name: "Fede", RawAddress: "CALLE FALSA 123", Phone: "2494000006", Status: "NO"},
	}
}

type harness struct {
	batch    *pipeline.Batch
	resolver *pipeline.Resolver
	cache    *geocache.Cache
	metrics  *observability.Metrics
}

func newHarness(g domain.Geocoder, store geocache.Store, opts pipeline.Options, retryFailed bool) harness {
	logger := discardLogger()
	metrics := newTestMetrics()
	cache := geocache.Open(context.Background(), store, logger)
	resolver := pipeline.NewResolver(g, cache, pipeline.ResolverOptions{
		LocalitySuffix: testSuffix,
		Area:           tandil,
		RetryFailed:    retryFailed,
	}, metrics, logger)
	batch := pipeline.New(
		domain.NewNormalizer(domain.DefaultNormalizerRules()),
		resolver,
		domain.NewMatcher(150, 0.30, nil),
		cache,
		opts,
		logger,
		metrics,
	)
	return harness{batch: batch, resolver: resolver, cache: cache, metrics: metrics}
}
