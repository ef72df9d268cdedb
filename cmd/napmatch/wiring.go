package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	httpadapter "github.com/usittel/nap-proximity/internal/adapter/http"
	kafkaadapter "github.com/usittel/nap-proximity/internal/adapter/kafka"
	"github.com/usittel/nap-proximity/internal/adapter/mapbox"
	"github.com/usittel/nap-proximity/internal/adapter/nominatim"
	"github.com/usittel/nap-proximity/internal/adapter/postgres"
	"github.com/usittel/nap-proximity/internal/adapter/sheet"
	"github.com/usittel/nap-proximity/internal/config"
	"github.com/usittel/nap-proximity/internal/domain"
	"github.com/usittel/nap-proximity/internal/geocache"
	"github.com/usittel/nap-proximity/internal/observability"
	"github.com/usittel/nap-proximity/internal/pipeline"
)

// openCache loads the geocode cache from the configured backend. The returned
// func releases backend connections.
func (a *app) openCache(ctx context.Context) (*geocache.Cache, func(), error) {
	switch a.cfg.CacheBackend {
	case config.CacheBackendRedis:
		client := geocache.OpenRedis(a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", a.cfg.RedisAddr, err)
		}
		cache := geocache.Open(ctx, geocache.NewRedisStore(client, a.cfg.RedisKey), a.logger)
		return cache, func() { _ = client.Close() }, nil
	default:
		return geocache.Open(ctx, geocache.NewFileStore(a.cfg.CachePath), a.logger), func() {}, nil
	}
}

func (a *app) newNormalizer() *domain.Normalizer {
	return domain.NewNormalizer(a.cfg.NormalizerRules())
}

func (a *app) newMatcher() *domain.Matcher {
	return domain.NewMatcher(a.cfg.RadiusMeters, a.cfg.OccupancyThreshold, domain.NewStreetMatcher(a.cfg.StreetRules()))
}

// newGeocoder builds the configured gazetteer client. Both providers honor
// the minimum request interval and retry budget.
func (a *app) newGeocoder(metrics *observability.Metrics) domain.Geocoder {
	area := a.cfg.ServiceArea
	if a.cfg.Provider == config.ProviderMapbox {
		a.logger.Info("mapbox geocoding enabled", "min_interval", a.cfg.MinInterval)
		return mapbox.NewClient(mapbox.Options{
			BaseURL:     a.cfg.MapboxURL,
			Token:       a.cfg.MapboxToken,
			Country:     a.cfg.CountryCodes,
			Timeout:     a.cfg.NominatimTimeout,
			BBox:        &area,
			MinInterval: a.cfg.MinInterval,
			MaxRetries:  a.cfg.MaxRetries,
			Clock:       a.clock,
		}, metrics, a.logger)
	}
	return nominatim.NewClient(nominatim.Options{
		BaseURL:      a.cfg.NominatimURL,
		UserAgent:    a.cfg.UserAgent,
		CountryCodes: a.cfg.CountryCodes,
		Timeout:      a.cfg.NominatimTimeout,
		MinInterval:  a.cfg.MinInterval,
		MaxRetries:   a.cfg.MaxRetries,
		ViewBox:      &area,
		Clock:        a.clock,
	}, metrics, a.logger)
}

func (a *app) newResolver(cache *geocache.Cache, metrics *observability.Metrics) *pipeline.Resolver {
	area := a.cfg.ServiceArea
	return pipeline.NewResolver(a.newGeocoder(metrics), cache, pipeline.ResolverOptions{
		LocalitySuffix: a.cfg.LocalitySuffix,
		Area:           area,
		RetryFailed:    a.cfg.RetryFailed,
	}, metrics, a.logger)
}

// addSinks registers the optional Kafka and Postgres sinks on b. The returned
// func closes them.
func (a *app) addSinks(ctx context.Context, b *pipeline.Batch) (func(), error) {
	var closers []func() error

	if len(a.cfg.KafkaBrokers) > 0 {
		w := kafkaadapter.NewWriter(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.logger)
		b.AddLoader("kafka", w)
		closers = append(closers, w.Close)
		a.logger.Info("kafka sink enabled", "brokers", a.cfg.KafkaBrokers, "topic", a.cfg.KafkaTopic)
	}

	if a.cfg.ReportDatabaseURL != "" {
		db, err := postgres.Open(ctx, a.cfg.ReportDatabaseURL)
		if err != nil {
			a.closeAll(closers)
			return nil, err
		}
		store := postgres.NewStore(db, a.logger)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			a.closeAll(closers)
			return nil, err
		}
		b.AddLoader("postgres", store)
		closers = append(closers, store.Close)
		a.logger.Info("postgres sink enabled")
	}

	return func() { a.closeAll(closers) }, nil
}

func (a *app) closeAll(closers []func() error) {
	for _, c := range closers {
		if err := c(); err != nil {
			a.logger.Error("sink close error", "error", err)
		}
	}
}

// startOpsServer serves /healthz, /readyz and /metrics when METRICS_ADDR is set.
// The returned func drains it within the shutdown timeout.
func (a *app) startOpsServer(b *pipeline.Batch) func() {
	if a.cfg.MetricsAddr == "" {
		return func() {}
	}
	srv := httpadapter.NewServer(a.cfg.MetricsAddr, b, a.logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Error("http server shutdown error", "error", err)
		}
	}
}

// loadNaps reads the NAP inventory. Rows with unreadable port counts are
// logged and left out.
func (a *app) loadNaps(path string) ([]domain.NapRecord, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open naps: %w", err)
	}
	defer f.Close()
	s, err := sheet.LoadNaps(f)
	if err != nil {
		return nil, "", fmt.Errorf("load naps %s: %w", path, err)
	}
	for _, rej := range s.Rejected {
		a.logger.Warn("nap row skipped", "path", path, "line", rej.Line, "nap_id", rej.ID, "error", rej.Err)
	}
	if len(s.Rejected) > 0 {
		a.logger.Warn("nap rows skipped", "path", path, "count", len(s.Rejected))
	}
	return s.Naps, s.Encoding, nil
}

// writeFile writes through a temporary file so a failed run never leaves a
// truncated output behind.
func writeFile(path string, write func(f *os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".napmatch-*")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
