// Package postgres persists assignment results to a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // registers the "postgres" driver

	"github.com/usittel/nap-proximity/internal/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS nap_assignments (
	id                 TEXT PRIMARY KEY,
	customer_name      TEXT NOT NULL,
	raw_address        TEXT NOT NULL,
	phone              TEXT NOT NULL,
	zone               TEXT NOT NULL,
	normalized_address TEXT NOT NULL,
	geocode_status     TEXT NOT NULL,
	geocode_reason     TEXT NOT NULL,
	lat                DOUBLE PRECISION,
	lon                DOUBLE PRECISION,
	outcome            TEXT NOT NULL,
	nap_id             TEXT,
	nap_address        TEXT,
	distance_m         DOUBLE PRECISION,
	occupancy_pct      DOUBLE PRECISION,
	suspicious         BOOLEAN NOT NULL,
	processed_at       TIMESTAMPTZ NOT NULL
)`

const upsert = `INSERT INTO nap_assignments (
	id, customer_name, raw_address, phone, zone, normalized_address,
	geocode_status, geocode_reason, lat, lon, outcome, nap_id, nap_address,
	distance_m, occupancy_pct, suspicious, processed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (id) DO UPDATE SET
	customer_name=EXCLUDED.customer_name, raw_address=EXCLUDED.raw_address,
	phone=EXCLUDED.phone, zone=EXCLUDED.zone, normalized_address=EXCLUDED.normalized_address,
	geocode_status=EXCLUDED.geocode_status, geocode_reason=EXCLUDED.geocode_reason,
	lat=EXCLUDED.lat, lon=EXCLUDED.lon, outcome=EXCLUDED.outcome,
	nap_id=EXCLUDED.nap_id, nap_address=EXCLUDED.nap_address,
	distance_m=EXCLUDED.distance_m, occupancy_pct=EXCLUDED.occupancy_pct,
	suspicious=EXCLUDED.suspicious, processed_at=EXCLUDED.processed_at`

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Store upserts assignment results keyed by result ID, so rerunning a batch
// replaces earlier rows for the same customers.
// It implements pipeline.BatchLoader.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore wraps db. Call EnsureSchema before the first LoadBatch.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// EnsureSchema creates the results table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create nap_assignments: %w", err)
	}
	return nil
}

// LoadBatch upserts all results in one transaction.
func (s *Store) LoadBatch(ctx context.Context, results []domain.AssignmentResult) (err error) {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err = stmt.ExecContext(ctx, assignmentArgs(r)...); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("stored results", "table", "nap_assignments", "count", len(results))
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// assignmentArgs maps a result onto the upsert parameters. Columns that do
// not apply to the outcome are NULL.
func assignmentArgs(r domain.AssignmentResult) []any {
	var lat, lon, dist, pct sql.NullFloat64
	var napID, napAddr sql.NullString

	if r.Geocode.Status == domain.GeocodeResolved {
		lat = sql.NullFloat64{Float64: r.Geocode.Point.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: r.Geocode.Point.Lon, Valid: true}
	}
	if r.Matched() {
		napID = sql.NullString{String: r.MatchedNap.ID, Valid: true}
		napAddr = sql.NullString{String: r.MatchedNap.StreetAddress, Valid: true}
		if r.DistanceMeters != nil {
			dist = sql.NullFloat64{Float64: *r.DistanceMeters, Valid: true}
		}
		if p, ok := r.OccupancyPercent(); ok {
			pct = sql.NullFloat64{Float64: p, Valid: true}
		}
	}
	return []any{
		r.ID, r.Customer.Name, r.Customer.RawAddress, r.Customer.Phone, r.Customer.Zone, r.NormalizedAddress,
		string(r.Geocode.Status), string(r.Geocode.Reason), lat, lon, r.Outcome(), napID, napAddr,
		dist, pct, r.Suspicious, r.ProcessedAt,
	}
}
