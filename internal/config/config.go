package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"

	"github.com/usittel/nap-proximity/internal/domain"
)

// Cache backends.
const (
	CacheBackendFile  = "file"
	CacheBackendRedis = "redis"
)

// Gazetteer providers.
const (
	ProviderNominatim = "nominatim"
	ProviderMapbox    = "mapbox"
)

// Config holds all run settings, populated from environment variables.
type Config struct {
	// Matching.
	RadiusMeters       float64
	OccupancyThreshold float64
	ReservePorts       bool
	SuspiciousMeters   float64
	CompatMinSubstring int
	CompatMinToken     int
	CustomerStatus     string

	// Geocoding.
	Provider         string
	LocalitySuffix   string
	City             string
	ServiceArea      domain.BoundingBox
	MinInterval      time.Duration
	MaxRetries       int
	RetryFailed      bool
	NominatimURL     string
	UserAgent        string
	NominatimTimeout time.Duration
	CountryCodes     string
	MapboxToken      string
	MapboxURL        string

	// Geocode cache.
	CacheBackend    string
	CachePath       string
	CacheFlushEvery int
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisKey        string

	// Optional result sinks.
	KafkaBrokers      []string
	KafkaTopic        string
	ReportDatabaseURL string

	MetricsAddr     string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// LoadDotEnv reads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	cfg := &Config{
		RadiusMeters:       p.floatVar("RADIUS_METERS", "150"),
		OccupancyThreshold: p.floatVar("OCCUPANCY_THRESHOLD", "0.30"),
		ReservePorts:       p.boolVar("RESERVE_PORTS", "false"),
		SuspiciousMeters:   p.floatVar("SUSPICIOUS_DISTANCE_METERS", "5"),
		CompatMinSubstring: p.intVar("COMPAT_MIN_SUBSTRING_LEN", "4"),
		CompatMinToken:     p.intVar("COMPAT_MIN_TOKEN_LEN", "4"),
		CustomerStatus:     sharedcfg.EnvOrDefault("CUSTOMER_STATUS_MATCH", "NO"),

		Provider:         strings.ToLower(sharedcfg.EnvOrDefault("GEOCODER_PROVIDER", ProviderNominatim)),
		LocalitySuffix:   sharedcfg.EnvOrDefault("GEOCODE_LOCALITY_SUFFIX", "Tandil, Buenos Aires, Argentina"),
		City:             sharedcfg.EnvOrDefault("GEOCODE_CITY", "Tandil"),
		MinInterval:      p.durationVar("GEOCODE_MIN_INTERVAL", "1.2s"),
		MaxRetries:       p.intVar("GEOCODE_MAX_RETRIES", "2"),
		RetryFailed:      p.boolVar("GEOCODE_RETRY_FAILED", "false"),
		NominatimURL:     sharedcfg.EnvOrDefault("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		UserAgent:        sharedcfg.EnvOrDefault("NOMINATIM_USER_AGENT", "usittel-nap-proximity/1.0"),
		NominatimTimeout: p.durationVar("NOMINATIM_TIMEOUT", "15s"),
		CountryCodes:     sharedcfg.EnvOrDefault("NOMINATIM_COUNTRY_CODES", "ar"),
		MapboxToken:      os.Getenv("MAPBOX_TOKEN"),
		MapboxURL:        os.Getenv("MAPBOX_URL"),

		CacheBackend:    strings.ToLower(sharedcfg.EnvOrDefault("CACHE_BACKEND", CacheBackendFile)),
		CachePath:       sharedcfg.EnvOrDefault("CACHE_PATH", "geocode_cache.json"),
		CacheFlushEvery: p.intVar("CACHE_FLUSH_EVERY", "20"),
		RedisAddr:       sharedcfg.EnvOrDefault("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         p.intVar("REDIS_DB", "0"),
		RedisKey:        sharedcfg.EnvOrDefault("REDIS_KEY", "napmatch:geocode"),

		KafkaBrokers:      sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:        sharedcfg.EnvOrDefault("KAFKA_TOPIC", "nap-assignments"),
		ReportDatabaseURL: os.Getenv("REPORT_DATABASE_URL"),

		MetricsAddr:     os.Getenv("METRICS_ADDR"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "text"),
		ShutdownTimeout: shutdownTimeout,
	}
	if err := p.err; err != nil {
		return nil, err
	}

	cfg.ServiceArea, err = domain.ParseBoundingBox(sharedcfg.EnvOrDefault("GEOCODE_BBOX", "-37.5,-59.3,-37.2,-59.0"))
	if err != nil {
		return nil, fmt.Errorf("invalid GEOCODE_BBOX: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.RadiusMeters <= 0:
		return errors.New("invalid RADIUS_METERS: must be positive")
	case c.OccupancyThreshold < 0 || c.OccupancyThreshold > 1:
		return errors.New("invalid OCCUPANCY_THRESHOLD: must be between 0 and 1")
	case c.SuspiciousMeters < 0:
		return errors.New("invalid SUSPICIOUS_DISTANCE_METERS: must not be negative")
	case c.CompatMinSubstring < 1 || c.CompatMinToken < 1:
		return errors.New("invalid COMPAT_MIN_*: must be at least 1")
	case c.MinInterval < 0:
		return errors.New("invalid GEOCODE_MIN_INTERVAL: must not be negative")
	case c.MaxRetries < 0:
		return errors.New("invalid GEOCODE_MAX_RETRIES: must not be negative")
	case c.NominatimTimeout <= 0:
		return errors.New("invalid NOMINATIM_TIMEOUT: must be positive")
	case c.UserAgent == "":
		return errors.New("NOMINATIM_USER_AGENT is required")
	case c.CacheFlushEvery < 0:
		return errors.New("invalid CACHE_FLUSH_EVERY: must not be negative")
	}
	switch c.Provider {
	case ProviderNominatim:
	case ProviderMapbox:
		if c.MapboxToken == "" {
			return errors.New("GEOCODER_PROVIDER is mapbox but MAPBOX_TOKEN is not set")
		}
	default:
		return fmt.Errorf("invalid GEOCODER_PROVIDER %q: want nominatim or mapbox", c.Provider)
	}
	switch c.CacheBackend {
	case CacheBackendFile:
		if c.CachePath == "" {
			return errors.New("CACHE_PATH is required for the file cache")
		}
	case CacheBackendRedis:
		if c.RedisAddr == "" || c.RedisKey == "" {
			return errors.New("REDIS_ADDR and REDIS_KEY are required for the redis cache")
		}
	default:
		return fmt.Errorf("invalid CACHE_BACKEND %q: want file or redis", c.CacheBackend)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// StreetRules returns the compatibility rules with the configured cutoffs.
func (c *Config) StreetRules() domain.StreetRules {
	rules := domain.DefaultStreetRules()
	rules.MinSubstringLen = c.CompatMinSubstring
	rules.MinTokenLen = c.CompatMinToken
	return rules
}

// NormalizerRules returns the normalizer rules for the configured city.
func (c *Config) NormalizerRules() domain.NormalizerRules {
	rules := domain.DefaultNormalizerRules()
	rules.City = c.City
	return rules
}

// parser records the first invalid variable so Load can report it.
type parser struct {
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (p *parser) floatVar(key, fallback string) float64 {
	v, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, fallback), 64)
	if err != nil {
		p.fail(key, err)
	}
	return v
}

func (p *parser) intVar(key, fallback string) int {
	v, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil {
		p.fail(key, err)
	}
	return v
}

func (p *parser) boolVar(key, fallback string) bool {
	v, err := strconv.ParseBool(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil {
		p.fail(key, err)
	}
	return v
}

func (p *parser) durationVar(key, fallback string) time.Duration {
	v, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil {
		p.fail(key, err)
	}
	return v
}
