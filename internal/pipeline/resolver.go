package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/usittel/nap-proximity/internal/domain"
	"github.com/usittel/nap-proximity/internal/geocache"
	"github.com/usittel/nap-proximity/internal/observability"
)

// ErrFirstCallFailed means the very first gazetteer request of a run could not
// reach the service. It points at configuration or connectivity, so the run stops.
var ErrFirstCallFailed = errors.New("geocoding service unreachable on first call")

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// LocalitySuffix is appended to every query: "Alsina 956, <suffix>".
	LocalitySuffix string
	// Area rejects points outside the service city.
	Area domain.BoundingBox
	// RetryFailed treats cached failures as misses.
	RetryFailed bool
}

// Resolver geocodes normalized addresses cache-first, validates the result
// against the service area and records every outcome in the cache.
type Resolver struct {
	geocoder domain.Geocoder
	cache    *geocache.Cache
	opts     ResolverOptions
	metrics  *observability.Metrics
	logger   *slog.Logger

	calls int
}

// NewResolver creates a Resolver.
func NewResolver(g domain.Geocoder, cache *geocache.Cache, opts ResolverOptions, metrics *observability.Metrics, logger *slog.Logger) *Resolver {
	return &Resolver{geocoder: g, cache: cache, opts: opts, metrics: metrics, logger: logger}
}

// Query builds the gazetteer query for addr.
func (r *Resolver) Query(addr domain.NormalizedAddress) string {
	suffix := strings.TrimSpace(r.opts.LocalitySuffix)
	if suffix == "" {
		return addr.String()
	}
	return addr.String() + ", " + suffix
}

// Calls returns how many gazetteer requests the resolver has made.
func (r *Resolver) Calls() int {
	return r.calls
}

// Resolve returns the geocoding outcome for addr. Per-address failures are
// reported in the outcome, not as errors. The error is non-nil only when the
// context ends or the first external call cannot reach the service.
func (r *Resolver) Resolve(ctx context.Context, addr domain.NormalizedAddress) (domain.GeocodeOutcome, error) {
	key := addr.Key()

	if e, ok := r.cache.Lookup(key); ok {
		if e.Success || !r.opts.RetryFailed {
			r.metrics.GeocodeCache.WithLabelValues("hit").Inc()
			return r.fromEntry(e), nil
		}
		r.metrics.GeocodeCache.WithLabelValues("stale").Inc()
	} else {
		r.metrics.GeocodeCache.WithLabelValues("miss").Inc()
	}

	query := r.Query(addr)
	result, err := r.geocoder.Geocode(ctx, query)
	r.calls++
	if err != nil {
		if ctx.Err() != nil {
			return domain.GeocodeOutcome{}, ctx.Err()
		}
		reason := domain.ReasonServiceError
		if errors.Is(err, domain.ErrNoResults) {
			reason = domain.ReasonNotFound
		}
		if r.calls == 1 && reason == domain.ReasonServiceError {
			return domain.GeocodeOutcome{}, fmt.Errorf("%w: %w", ErrFirstCallFailed, err)
		}
		r.cache.Store(key, geocache.Failed(reason, err.Error(), query))
		return failed(reason, err.Error()), nil
	}

	if !r.opts.Area.Contains(result.Point) {
		detail := fmt.Sprintf("%s (%s)", result.Point, result.DisplayName)
		r.cache.Store(key, geocache.Failed(domain.ReasonOutOfArea, detail, query))
		return failed(domain.ReasonOutOfArea, detail), nil
	}

	r.cache.Store(key, geocache.Resolved(result.Point, query))
	return domain.GeocodeOutcome{Status: domain.GeocodeResolved, Point: result.Point}, nil
}

// fromEntry converts a cached entry. A cached point outside the current area is
// reported as out of area without touching the cache.
func (r *Resolver) fromEntry(e geocache.Entry) domain.GeocodeOutcome {
	if !e.Success {
		out := failed(e.Reason, e.Error)
		if out.Reason == "" {
			out.Reason = domain.ReasonNotFound
		}
		out.FromCache = true
		return out
	}
	p := e.Point()
	if !r.opts.Area.Contains(p) {
		out := failed(domain.ReasonOutOfArea, p.String())
		out.FromCache = true
		return out
	}
	return domain.GeocodeOutcome{Status: domain.GeocodeResolved, Point: p, FromCache: true}
}

func failed(reason domain.FailureReason, detail string) domain.GeocodeOutcome {
	return domain.GeocodeOutcome{Status: domain.GeocodeFailed, Reason: reason, Detail: detail}
}
