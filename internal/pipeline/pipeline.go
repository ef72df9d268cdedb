package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"

	"github.com/usittel/nap-proximity/internal/domain"
	"github.com/usittel/nap-proximity/internal/geocache"
	"github.com/usittel/nap-proximity/internal/observability"
)

// BatchLoader writes the results of a run to a destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, results []domain.AssignmentResult) error
}

// Options tunes a Batch.
type Options struct {
	// FlushEvery persists the cache after this many customers. Zero flushes only at the end.
	FlushEvery int
	// ReservePorts counts each assignment against its NAP for the rest of the run.
	ReservePorts bool
	// SuspiciousMeters flags matches closer than this between different addresses.
	SuspiciousMeters float64
	// LoadAttempts bounds retries per sink. Zero means one attempt.
	LoadAttempts int
}

// Batch drives normalize, resolve and match over a customer list.
// Customers are processed sequentially; the gazetteer rate limit forbids fan-out.
type Batch struct {
	normalizer *domain.Normalizer
	resolver   *Resolver
	matcher    *domain.Matcher
	cache      *geocache.Cache
	loaders    []namedLoader
	opts       Options
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
}

// New creates a Batch with the given stages and observability.
func New(n *domain.Normalizer, r *Resolver, m *domain.Matcher, cache *geocache.Cache, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Batch {
	return &Batch{
		normalizer: n,
		resolver:   r,
		matcher:    m,
		cache:      cache,
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
	}
}

// AddLoader registers a named sink that receives the results after the run.
func (b *Batch) AddLoader(name string, l BatchLoader) {
	b.loaders = append(b.loaders, namedLoader{name: name, loader: l})
}

type namedLoader struct {
	name   string
	loader BatchLoader
}

// CheckReadiness returns nil once a run has completed,
// or an error describing why the service is not yet ready.
func (b *Batch) CheckReadiness(_ context.Context) error {
	if !b.ready.Load() {
		return errors.New("batch has not completed yet")
	}
	return nil
}

// Run processes every customer against naps and returns one result per
// customer. Per-record failures are captured in the results. The error is
// non-nil when the gazetteer is unreachable on the first call, when ctx ends,
// or when a sink rejects the results; in the last case the report is complete.
func (b *Batch) Run(ctx context.Context, customers []domain.CustomerRecord, naps []domain.NapRecord) (Report, error) {
	start := time.Now()
	b.logger.Info("batch started", "customers", len(customers), "naps", len(naps))
	b.metrics.BatchRunning.Set(1)
	defer b.metrics.BatchRunning.Set(0)

	summary := newSummary()
	summary.NapsLoaded = len(naps)

	pool, napKeys, err := b.prepareNaps(ctx, naps, &summary)
	if err != nil {
		b.flush(ctx)
		return Report{Summary: summary}, err
	}
	summary.NapsUsable = len(pool)
	b.logger.Info("naps ready", "usable", len(pool), "excluded", len(naps)-len(pool))

	results := make([]domain.AssignmentResult, 0, len(customers))
	for i, c := range customers {
		if err := ctx.Err(); err != nil {
			b.flush(ctx)
			return Report{Results: results, Summary: summary}, err
		}

		r, err := b.process(ctx, c, pool, napKeys)
		if err != nil {
			b.flush(ctx)
			return Report{Results: results, Summary: summary}, err
		}
		results = append(results, r)
		summary.add(r)
		b.observe(r)

		if b.opts.ReservePorts && r.Matched() {
			reserve(pool, r.MatchedNap.ID)
		}
		if b.opts.FlushEvery > 0 && (i+1)%b.opts.FlushEvery == 0 {
			b.flush(ctx)
			b.logger.Info("batch progress", "processed", i+1, "total", len(customers), "matched", summary.Matched)
		}
	}
	b.flush(ctx)

	summary.GeocoderCalls = b.resolver.Calls()
	summary.Duration = time.Since(start)
	b.metrics.BatchDuration.Observe(summary.Duration.Seconds())

	report := Report{Results: results, Summary: summary, Violations: Verify(results, b.matcher)}
	for _, v := range report.Violations {
		b.logger.Warn("result violates matching rules", "violation", v.String())
	}

	err = b.load(ctx, results)
	b.ready.Store(true)
	return report, err
}

// prepareNaps geocodes NAPs lazily and returns the usable candidates with
// their normalized address keys. Only an unreachable gazetteer is an error.
func (b *Batch) prepareNaps(ctx context.Context, naps []domain.NapRecord, s *Summary) ([]domain.NapRecord, map[string]string, error) {
	pool := make([]domain.NapRecord, 0, len(naps))
	keys := make(map[string]string, len(naps))

	exclude := func(n domain.NapRecord, reason string, level slog.Level, args ...any) {
		s.NapsExcluded[reason]++
		b.metrics.NapsExcluded.WithLabelValues(reason).Inc()
		b.logger.Log(ctx, level, "nap excluded", append([]any{"nap_id", n.ID, "address", n.StreetAddress, "reason", reason}, args...)...)
	}

	for _, n := range naps {
		if n.TotalPorts <= 0 {
			exclude(n, "zero_capacity", slog.LevelWarn)
			continue
		}
		if !n.Eligible(b.matcher.OccupancyThreshold) {
			exclude(n, "over_threshold", slog.LevelDebug, "used", n.UsedPorts, "total", n.TotalPorts)
			continue
		}

		addr, normErr := b.normalizer.Normalize(n.StreetAddress)
		if normErr == nil {
			keys[n.ID] = addr.Key()
		}

		if n.Location != nil && !n.Location.IsZero() {
			pool = append(pool, n)
			continue
		}
		if normErr != nil {
			exclude(n, "geocode_failed", slog.LevelWarn, "error", normErr)
			continue
		}

		out, err := b.resolver.Resolve(ctx, addr)
		if err != nil {
			return nil, nil, fmt.Errorf("geocode nap %s: %w", n.ID, err)
		}
		if out.Status != domain.GeocodeResolved {
			exclude(n, "geocode_failed", slog.LevelWarn, "geocode_reason", out.Reason, "error", out.Detail)
			continue
		}
		p := out.Point
		n.Location = &p
		pool = append(pool, n)
	}
	return pool, keys, nil
}

// process produces the result for one customer. The error is fatal to the run.
func (b *Batch) process(ctx context.Context, c domain.CustomerRecord, pool []domain.NapRecord, napKeys map[string]string) (domain.AssignmentResult, error) {
	r := domain.AssignmentResult{
		ID:          domain.AssignmentID(c),
		Customer:    c,
		ProcessedAt: domain.Now(),
	}

	addr, err := b.normalizer.Normalize(c.RawAddress)
	if err != nil {
		r.Geocode = domain.GeocodeOutcome{Status: domain.GeocodeFailed, Reason: domain.ReasonNormalizationFailed, Detail: c.RawAddress}
		r.Unmatched = domain.UnmatchedGeocodingFailed
		b.logger.Warn("address not normalizable", "customer", c.Name, "address", c.RawAddress)
		return r, nil
	}
	r.NormalizedAddress = addr.String()

	out, err := b.resolver.Resolve(ctx, addr)
	if err != nil {
		return domain.AssignmentResult{}, err
	}
	r.Geocode = out
	if out.Status != domain.GeocodeResolved {
		r.Unmatched = domain.UnmatchedGeocodingFailed
		b.logger.Warn("geocoding failed", "customer", c.Name, "address", r.NormalizedAddress,
			"reason", out.Reason, "detail", out.Detail, "from_cache", out.FromCache)
		return r, nil
	}

	cand, err := b.matcher.FindNearestNap(out.Point, r.NormalizedAddress, pool)
	if err != nil {
		r.Unmatched = domain.UnmatchedNoNapWithinRadius
		if errors.Is(err, domain.ErrNoCompatibleStreet) {
			r.Unmatched = domain.UnmatchedNoCompatible
		}
		b.logger.Debug("no nap assigned", "customer", c.Name, "address", r.NormalizedAddress, "reason", r.Unmatched)
		return r, nil
	}

	nap := cand.Nap
	dist := cand.DistanceMeters
	r.MatchedNap = &nap
	r.DistanceMeters = &dist
	if dist < b.opts.SuspiciousMeters && napKeys[nap.ID] != addr.Key() {
		r.Suspicious = true
		b.logger.Warn("suspiciously close match", "customer", c.Name, "address", r.NormalizedAddress,
			"nap_id", nap.ID, "nap_address", nap.StreetAddress, "distance_m", dist)
	}
	return r, nil
}

func (b *Batch) observe(r domain.AssignmentResult) {
	b.metrics.CustomersProcessed.Inc()
	b.metrics.Outcomes.WithLabelValues(r.Outcome()).Inc()
	if r.Matched() {
		b.metrics.MatchDistance.Observe(*r.DistanceMeters)
		if r.Suspicious {
			b.metrics.SuspiciousMatches.Inc()
		}
	}
}

// flush persists the cache. Failures are logged; the next flush retries them.
func (b *Batch) flush(ctx context.Context) {
	// Persist progress even when the run is being cancelled.
	if err := b.cache.Flush(context.WithoutCancel(ctx)); err != nil {
		b.metrics.CacheFlushes.WithLabelValues("error").Inc()
		b.logger.Error("geocode cache flush failed", "error", err)
		return
	}
	b.metrics.CacheFlushes.WithLabelValues("ok").Inc()
}

// load hands results to every sink, retrying each with exponential backoff.
func (b *Batch) load(ctx context.Context, results []domain.AssignmentResult) error {
	if len(results) == 0 {
		return nil
	}
	attempts := max(b.opts.LoadAttempts, 1)

	var errs []error
	for _, nl := range b.loaders {
		name := nl.name
		backoff := 200 * time.Millisecond
		maxBackoff := 5 * time.Second

		var err error
		for attempt := 1; attempt <= attempts; attempt++ {
			if err = nl.loader.LoadBatch(ctx, results); err == nil {
				break
			}
			b.logger.Error("load results failed", "sink", name, "attempt", attempt, "error", err)
			if attempt == attempts || !sharedretry.SleepWithContext(ctx, backoff) {
				break
			}
			backoff = sharedretry.NextBackoff(backoff, maxBackoff)
		}
		if err != nil {
			b.metrics.SinkWrites.WithLabelValues(name, "error").Inc()
			errs = append(errs, fmt.Errorf("sink %s: %w", name, err))
			continue
		}
		b.metrics.SinkWrites.WithLabelValues(name, "ok").Inc()
		b.logger.Info("results loaded", "sink", name, "count", len(results))
	}
	return errors.Join(errs...)
}

// reserve counts one more used port on the NAP with id.
func reserve(pool []domain.NapRecord, id string) {
	for i := range pool {
		if pool[i].ID == id {
			pool[i].UsedPorts++
			return
		}
	}
}
