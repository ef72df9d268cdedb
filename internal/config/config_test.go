package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usittel/nap-proximity/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 150.0, cfg.RadiusMeters, 0)
	assert.InDelta(t, 0.30, cfg.OccupancyThreshold, 0)
	assert.False(t, cfg.ReservePorts)
	assert.InDelta(t, 5.0, cfg.SuspiciousMeters, 0)
	assert.Equal(t, 4, cfg.CompatMinSubstring)
	assert.Equal(t, 4, cfg.CompatMinToken)
	assert.Equal(t, "NO", cfg.CustomerStatus)

	assert.Equal(t, ProviderNominatim, cfg.Provider)
	assert.Empty(t, cfg.MapboxToken)
	assert.Equal(t, "Tandil, Buenos Aires, Argentina", cfg.LocalitySuffix)
	assert.Equal(t, "Tandil", cfg.City)
	assert.Equal(t, domain.BoundingBox{MinLat: -37.5, MinLon: -59.3, MaxLat: -37.2, MaxLon: -59.0}, cfg.ServiceArea)
	assert.Equal(t, 1200*time.Millisecond, cfg.MinInterval)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.False(t, cfg.RetryFailed)
	assert.Equal(t, "https://nominatim.openstreetmap.org", cfg.NominatimURL)
	assert.Equal(t, "usittel-nap-proximity/1.0", cfg.UserAgent)
	assert.Equal(t, 15*time.Second, cfg.NominatimTimeout)
	assert.Equal(t, "ar", cfg.CountryCodes)

	assert.Equal(t, CacheBackendFile, cfg.CacheBackend)
	assert.Equal(t, "geocode_cache.json", cfg.CachePath)
	assert.Equal(t, 20, cfg.CacheFlushEvery)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
	assert.Equal(t, "napmatch:geocode", cfg.RedisKey)

	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "nap-assignments", cfg.KafkaTopic)
	assert.Empty(t, cfg.ReportDatabaseURL)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("RADIUS_METERS", "200")
	t.Setenv("OCCUPANCY_THRESHOLD", "0.5")
	t.Setenv("RESERVE_PORTS", "true")
	t.Setenv("COMPAT_MIN_TOKEN_LEN", "5")
	t.Setenv("GEOCODE_CITY", "Azul")
	t.Setenv("GEOCODE_BBOX", "-36.9,-60.0,-36.6,-59.7")
	t.Setenv("GEOCODE_MIN_INTERVAL", "2s")
	t.Setenv("GEOCODE_RETRY_FAILED", "true")
	t.Setenv("CACHE_BACKEND", "Redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("METRICS_ADDR", ":9090")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 200.0, cfg.RadiusMeters, 0)
	assert.InDelta(t, 0.5, cfg.OccupancyThreshold, 0)
	assert.True(t, cfg.ReservePorts)
	assert.Equal(t, 5, cfg.CompatMinToken)
	assert.Equal(t, "Azul", cfg.City)
	assert.InDelta(t, -36.6, cfg.ServiceArea.MaxLat, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.MinInterval)
	assert.True(t, cfg.RetryFailed)
	assert.Equal(t, CacheBackendRedis, cfg.CacheBackend)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, 5, cfg.StreetRules().MinTokenLen)
	assert.Equal(t, "Azul", cfg.NormalizerRules().City)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"SHUTDOWN_TIMEOUT", "not-a-duration", "SHUTDOWN_TIMEOUT"},
		{"SHUTDOWN_TIMEOUT", "-1s", "SHUTDOWN_TIMEOUT"},
		{"RADIUS_METERS", "lejos", "RADIUS_METERS"},
		{"RADIUS_METERS", "0", "RADIUS_METERS"},
		{"OCCUPANCY_THRESHOLD", "1.5", "OCCUPANCY_THRESHOLD"},
		{"RESERVE_PORTS", "quizas", "RESERVE_PORTS"},
		{"GEOCODE_MIN_INTERVAL", "1", "GEOCODE_MIN_INTERVAL"},
		{"GEOCODE_MAX_RETRIES", "-1", "GEOCODE_MAX_RETRIES"},
		{"GEOCODE_BBOX", "-37.2,-59.0,-37.5,-59.3", "GEOCODE_BBOX"},
		{"NOMINATIM_TIMEOUT", "0s", "NOMINATIM_TIMEOUT"},
		{"COMPAT_MIN_SUBSTRING_LEN", "0", "COMPAT_MIN"},
		{"CACHE_BACKEND", "memcached", "CACHE_BACKEND"},
		{"GEOCODER_PROVIDER", "google", "GEOCODER_PROVIDER"},
		{"GEOCODER_PROVIDER", "mapbox", "MAPBOX_TOKEN"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_Mapbox(t *testing.T) {
	t.Setenv("GEOCODER_PROVIDER", "Mapbox")
	t.Setenv("MAPBOX_TOKEN", "pk.test-token")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderMapbox, cfg.Provider)
	assert.Equal(t, "pk.test-token", cfg.MapboxToken)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RADIUS_METERS=175\nGEOCODE_CITY=Azul\n"), 0o600))

	// Variables already in the environment win over the file.
	t.Setenv("GEOCODE_CITY", "Tandil")
	t.Setenv("RADIUS_METERS", "")
	require.NoError(t, os.Unsetenv("RADIUS_METERS"))

	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { _ = os.Unsetenv("RADIUS_METERS") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 175.0, cfg.RadiusMeters, 0)
	assert.Equal(t, "Tandil", cfg.City)
}

func TestLoadDotEnv_MissingFileIgnored(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
	assert.NoError(t, LoadDotEnv(""))
}
