// Package postgres persists hazard events in PostgreSQL. The UNIQUE
// constraint on external_id is the backstop for the dedup invariant:
// a concurrent writer losing the check-then-insert race gets a 23505,
// surfaced as domain.ErrDuplicateEvent.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/quake-monitor/internal/domain"
)

// ErrNotFound is returned by lookups for an unknown external id.
var ErrNotFound = errors.New("hazard event not found")

const uniqueViolationCode = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS hazard_events (
	id              BIGSERIAL PRIMARY KEY,
	external_id     TEXT NOT NULL UNIQUE,
	magnitude       DOUBLE PRECISION NOT NULL,
	magnitude_scale TEXT NOT NULL DEFAULT '',
	latitude        DOUBLE PRECISION NOT NULL,
	longitude       DOUBLE PRECISION NOT NULL,
	depth           DOUBLE PRECISION NOT NULL,
	occurred_at     TIMESTAMPTZ NOT NULL,
	source          TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	reviewed        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_hazard_events_occurred_at ON hazard_events (occurred_at DESC);
`

type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens a pool against dsn and verifies connectivity.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Repository{pool: pool, logger: logger}, nil
}

// EnsureSchema creates the hazard_events table and indexes if missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *Repository) Close() {
	r.pool.Close()
}

// Ping reports pool health, used by the readiness endpoint.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) Exists(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM hazard_events WHERE external_id = $1)`,
		externalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", externalID, err)
	}
	return exists, nil
}

func (r *Repository) Save(ctx context.Context, event domain.HazardEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO hazard_events
			(external_id, magnitude, magnitude_scale, latitude, longitude, depth, occurred_at, source, title, reviewed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ExternalID,
		event.Severity.Value,
		event.Severity.Scale,
		event.Location.Latitude,
		event.Location.Longitude,
		event.Location.Depth,
		event.OccurredAt,
		event.Source,
		event.Title,
		event.Reviewed,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("save %s: %w", event.ExternalID, domain.ErrDuplicateEvent)
		}
		return fmt.Errorf("save %s: %w", event.ExternalID, err)
	}
	return nil
}

func (r *Repository) FindByExternalID(ctx context.Context, externalID string) (domain.HazardEvent, error) {
	var event domain.HazardEvent
	err := r.pool.QueryRow(ctx,
		`SELECT external_id, magnitude, magnitude_scale, latitude, longitude, depth, occurred_at, source, title, reviewed
		 FROM hazard_events WHERE external_id = $1`,
		externalID,
	).Scan(
		&event.ExternalID,
		&event.Severity.Value,
		&event.Severity.Scale,
		&event.Location.Latitude,
		&event.Location.Longitude,
		&event.Location.Depth,
		&event.OccurredAt,
		&event.Source,
		&event.Title,
		&event.Reviewed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.HazardEvent{}, fmt.Errorf("find %s: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return domain.HazardEvent{}, fmt.Errorf("find %s: %w", externalID, err)
	}
	return event, nil
}

// MarkReviewed flips the reviewed flag; used by administrative flows.
func (r *Repository) MarkReviewed(ctx context.Context, externalID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE hazard_events SET reviewed = TRUE WHERE external_id = $1`,
		externalID,
	)
	if err != nil {
		return fmt.Errorf("mark reviewed %s: %w", externalID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark reviewed %s: %w", externalID, ErrNotFound)
	}
	return nil
}
