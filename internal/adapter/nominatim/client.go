// Package nominatim implements domain.Geocoder against a Nominatim search endpoint.
package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/usittel/nap-proximity/internal/adapter/ratelimit"
	"github.com/usittel/nap-proximity/internal/domain"
	"github.com/usittel/nap-proximity/internal/observability"
)

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	defaultBackoff   = 2 * time.Second
	maxBackoff       = 30 * time.Second
	maxErrorBodySize = 512
)

// Options configures a Client.
type Options struct {
	BaseURL      string
	UserAgent    string
	CountryCodes string
	Timeout      time.Duration
	MinInterval  time.Duration
	MaxRetries   int
	// ViewBox biases results toward the service area without excluding others.
	ViewBox *domain.BoundingBox
	// Clock drives the limiter and retry backoff. Nil uses the real clock.
	Clock clockwork.Clock
}

// Client implements domain.Geocoder using the Nominatim /search API.
type Client struct {
	baseURL      string
	userAgent    string
	countryCodes string
	viewBox      string
	maxRetries   int
	backoff      time.Duration

	httpClient *http.Client
	limiter    *ratelimit.Limiter
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Nominatim client. Every request, retries included,
// passes through the same limiter.
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
		baseURL:      baseURL,
		userAgent:    opts.UserAgent,
		countryCodes: opts.CountryCodes,
		maxRetries:   opts.MaxRetries,
		backoff:      defaultBackoff,
		httpClient:   &http.Client{Timeout: opts.Timeout},
		limiter:      ratelimit.New(clock, opts.MinInterval),
		clock:        clock,
		metrics:      metrics,
		logger:       logger,
	}
	if b := opts.ViewBox; b != nil {
		// viewbox is x1,y1,x2,y2 in lon/lat order.
		c.viewBox = fmt.Sprintf("%g,%g,%g,%g", b.MinLon, b.MaxLat, b.MaxLon, b.MinLat)
	}
	return c
}

// Geocode resolves query to the best-ranked point. It returns
// domain.ErrNoResults when nothing matches and wraps transport, HTTP and
// decode failures with domain.ErrServiceUnreachable.
func (c *Client) Geocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	backoff := c.backoff
	for attempt := 0; ; attempt++ {
		result, retryAfter, err := c.search(ctx, query)
		if err == nil || retryAfter < 0 || attempt >= c.maxRetries || ctx.Err() != nil {
			return result, err
		}

		wait := backoff
		if retryAfter > wait {
			wait = retryAfter
		}
		c.metrics.GeocodeRequests.WithLabelValues("retry").Inc()
		c.logger.Warn("geocode request failed, retrying",
			"query", query, "attempt", attempt+1, "backoff", wait, "error", err)
		if wait > 0 && !c.sleep(ctx, wait) {
			return domain.GeocodingResult{}, ctx.Err()
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// search performs one throttled request. retryAfter is negative when the
// failure is not worth retrying, zero for the default backoff, or the
// server-requested delay.
func (c *Client) search(ctx context.Context, query string) (domain.GeocodingResult, time.Duration, error) {
	waited, err := c.limiter.Wait(ctx)
	if err != nil {
		return domain.GeocodingResult{}, -1, err
	}
	c.metrics.GeocodeThrottleWait.Observe(waited.Seconds())

	params := url.Values{
		"q":      {query},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}
	if c.countryCodes != "" {
		params.Set("countrycodes", c.countryCodes)
	}
	if c.viewBox != "" {
		params.Set("viewbox", c.viewBox)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return domain.GeocodingResult{}, -1, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "es")

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeAPIDuration.Observe(c.clock.Since(start).Seconds())
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		if ctx.Err() != nil {
			return domain.GeocodingResult{}, -1, ctx.Err()
		}
		return domain.GeocodingResult{}, 0, fmt.Errorf("%w: %w", domain.ErrServiceUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		err := fmt.Errorf("%w: status %d: %s", domain.ErrServiceUnreachable, resp.StatusCode, strings.TrimSpace(string(body)))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return domain.GeocodingResult{}, parseRetryAfter(resp.Header.Get("Retry-After")), err
		case resp.StatusCode >= 500:
			return domain.GeocodingResult{}, 0, err
		default:
			return domain.GeocodingResult{}, -1, err
		}
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return domain.GeocodingResult{}, -1, fmt.Errorf("%w: decode response: %w", domain.ErrServiceUnreachable, err)
	}
	if len(places) == 0 {
		c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		return domain.GeocodingResult{}, -1, domain.ErrNoResults
	}

	result, err := places[0].toResult()
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return domain.GeocodingResult{}, -1, fmt.Errorf("%w: %w", domain.ErrServiceUnreachable, err)
	}
	c.metrics.GeocodeRequests.WithLabelValues("success").Inc()
	c.logger.Debug("geocoded", "query", query, "point", result.Point.String(), "display_name", result.DisplayName)
	return result, 0, nil
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

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxBackoff)
}

// Nominatim jsonv2 response types. Coordinates arrive as strings.

type place struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
}

func (p place) toResult() (domain.GeocodingResult, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return domain.GeocodingResult{}, errors.New("invalid latitude " + strconv.Quote(p.Lat))
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return domain.GeocodingResult{}, errors.New("invalid longitude " + strconv.Quote(p.Lon))
	}
	return domain.GeocodingResult{
		Point:       domain.GeoPoint{Lat: lat, Lon: lon},
		DisplayName: p.DisplayName,
		Importance:  p.Importance,
	}, nil
}
