package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usittel/nap-proximity/internal/config"
	"github.com/usittel/nap-proximity/internal/domain"
	"github.com/usittel/nap-proximity/internal/geocache"
	"github.com/usittel/nap-proximity/internal/observability"
)

// gazetteer answers both the Nominatim /search endpoint and Mapbox forward
// geocoding with a point inside Tandil.
func gazetteer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/search" {
			_, _ = io.WriteString(w, `[{"lat":"-37.3205","lon":"-59.1340","display_name":"Tandil"}]`)
			return
		}
		_, _ = io.WriteString(w, `{"features":[{"center":[-59.1340,-37.3205],"place_name":"Tandil","relevance":0.9}]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewResolver_PacesEveryProvider(t *testing.T) {
	for _, provider := range []string{config.ProviderNominatim, config.ProviderMapbox} {
		t.Run(provider, func(t *testing.T) {
			var calls atomic.Int32
			srv := gazetteer(t, &calls)

			t.Setenv("GEOCODER_PROVIDER", provider)
			t.Setenv("MAPBOX_TOKEN", "pk.test")
			t.Setenv("MAPBOX_URL", srv.URL)
			t.Setenv("NOMINATIM_URL", srv.URL)
			t.Setenv("GEOCODE_MIN_INTERVAL", "1s")
			t.Setenv("CACHE_PATH", filepath.Join(t.TempDir(), "cache.json"))
			cfg, err := config.Load()
			require.NoError(t, err)

			fake := clockwork.NewFakeClock()
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			a := &app{cfg: cfg, logger: logger, clock: fake}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			cache := geocache.Open(ctx, geocache.NewFileStore(cfg.CachePath), logger)
			r := a.newResolver(cache, observability.NewMetricsForTesting())

			out, err := r.Resolve(ctx, domain.NormalizedAddress{Street: "Alsina", Number: "956"})
			require.NoError(t, err)
			assert.Equal(t, domain.GeocodeResolved, out.Status)

			done := make(chan error, 1)
			go func() {
				_, err := r.Resolve(ctx, domain.NormalizedAddress{Street: "Mitre", Number: "1550"})
				done <- err
			}()

			require.NoError(t, fake.BlockUntilContext(ctx, 1))
			select {
			case <-done:
				t.Fatal("second request started before the minimum interval")
			default:
			}
			assert.Equal(t, int32(1), calls.Load())

			fake.Advance(time.Second)
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-ctx.Done():
				t.Fatal("second request never released")
			}
			assert.Equal(t, int32(2), calls.Load())
		})
	}
}
