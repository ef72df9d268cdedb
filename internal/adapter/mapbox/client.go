// Package mapbox implements domain.Geocoder against the Mapbox Geocoding API.
// It is an alternative to the Nominatim gazetteer for operators with a token.
package mapbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"

	"github.com/usittel/nap-proximity/internal/adapter/ratelimit"
	"github.com/usittel/nap-proximity/internal/domain"
	"github.com/usittel/nap-proximity/internal/observability"
)

const (
	DefaultBaseURL   = "https://api.mapbox.com/geocoding/v5/mapbox.places"
	defaultBackoff   = 2 * time.Second
	maxBackoff       = 30 * time.Second
	maxErrorBodySize = 512
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	// Country restricts results, as a comma-separated ISO 3166 alpha-2 list.
	Country string
	Timeout time.Duration
	// BBox restricts results to the service area.
	BBox        *domain.BoundingBox
	MinInterval time.Duration
	MaxRetries  int
	// Clock drives the limiter and retry backoff. Nil uses the real clock.
	Clock clockwork.Clock
}

// Client implements domain.Geocoder using Mapbox forward geocoding.
type Client struct {
	token      string
	country    string
	bbox       string
	proximity  string
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
	baseURL    string
	limiter    *ratelimit.Limiter
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client. Every request, retries
// included, passes through the same limiter.
func NewClient(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		token:      opts.Token,
		country:    opts.Country,
		maxRetries: opts.MaxRetries,
		backoff:    defaultBackoff,
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    baseURL,
		limiter:    ratelimit.New(clock, opts.MinInterval),
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
	}
	if b := opts.BBox; b != nil {
		// Mapbox uses lon,lat order.
		c.bbox = fmt.Sprintf("%g,%g,%g,%g", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
		c.proximity = fmt.Sprintf("%g,%g", (b.MinLon+b.MaxLon)/2, (b.MinLat+b.MaxLat)/2)
	}
	return c
}

// Geocode converts a street address query to coordinates. It returns
// domain.ErrNoResults when nothing matches and wraps every other failure
// with domain.ErrServiceUnreachable. Transport errors, 429 and 5xx
// responses are retried up to MaxRetries times.
func (c *Client) Geocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"address"},
		"autocomplete": {"false"},
		"language":     {"es"},
	}
	if c.country != "" {
		params.Set("country", c.country)
	}
	if c.bbox != "" {
		params.Set("bbox", c.bbox)
		params.Set("proximity", c.proximity)
	}
	u := fmt.Sprintf("%s/%s.json?%s", c.baseURL, url.PathEscape(query), params.Encode())

	backoff := c.backoff
	for attempt := 0; ; attempt++ {
		result, retryable, err := c.attempt(ctx, u)
		switch {
		case err == nil:
			c.metrics.GeocodeRequests.WithLabelValues("success").Inc()
			return result, nil
		case errors.Is(err, domain.ErrNoResults):
			c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
			return result, err
		}
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		if !retryable || attempt >= c.maxRetries || ctx.Err() != nil {
			c.logger.Warn("mapbox geocode failed", "query", query, "attempts", attempt+1, "error", err)
			return result, err
		}

		c.metrics.GeocodeRequests.WithLabelValues("retry").Inc()
		c.logger.Warn("mapbox geocode failed, retrying", "query", query, "attempt", attempt+1, "backoff", backoff, "error", err)
		if backoff > 0 && !c.sleep(ctx, backoff) {
			return domain.GeocodingResult{}, ctx.Err()
		}
		backoff = sharedretry.NextBackoff(backoff, maxBackoff)
	}
}

// attempt performs one rate-limited request and reports whether a failure is
// worth retrying.
func (c *Client) attempt(ctx context.Context, fullURL string) (domain.GeocodingResult, bool, error) {
	waited, err := c.limiter.Wait(ctx)
	if err != nil {
		return domain.GeocodingResult{}, false, err
	}
	c.metrics.GeocodeThrottleWait.Observe(waited.Seconds())

	start := c.clock.Now()
	result, retryable, err := c.doRequest(ctx, fullURL)
	c.metrics.GeocodeAPIDuration.Observe(c.clock.Since(start).Seconds())
	return result, retryable, err
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (domain.GeocodingResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.GeocodingResult{}, false, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.GeocodingResult{}, false, ctx.Err()
		}
		return domain.GeocodingResult{}, true, fmt.Errorf("%w: %w", domain.ErrServiceUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return domain.GeocodingResult{}, retryable, fmt.Errorf("%w: mapbox status %d: %s", domain.ErrServiceUnreachable, resp.StatusCode, body)
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		return domain.GeocodingResult{}, false, fmt.Errorf("%w: decode response: %w", domain.ErrServiceUnreachable, err)
	}

	for _, f := range mapboxResp.Features {
		if len(f.Center) != 2 {
			continue
		}
		return domain.GeocodingResult{
			Point:       domain.GeoPoint{Lat: f.Center[1], Lon: f.Center[0]},
			DisplayName: f.PlaceName,
			Importance:  f.Relevance,
		}, false, nil
	}
	return domain.GeocodingResult{}, false, domain.ErrNoResults
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	timer := c.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64 `json:"center"` // [lon, lat]
	PlaceName string    `json:"place_name"`
	Relevance float64   `json:"relevance"`
}
