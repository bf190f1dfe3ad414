// Package repo contains all database access logic for the bike-share loader.
// Each store has its own file with an interface and a Postgres implementation.
// No normalization lives here, only SQL and type mapping.
package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pkordes/bikeshare-etl/internal/domain"
)

// db is the minimal interface satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
// Accepting it instead of *pgxpool.Pool lets integration tests pass a
// transaction that is rolled back after each test; Begin on a pgx.Tx opens a
// savepoint, so Merge keeps its all-or-nothing behaviour there too.
type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// TripRepo defines the persistence operations for raw.trips.
type TripRepo interface {
	// Merge stages records and upserts them into raw.trips in one transaction.
	// On a trip_id conflict only duration_seconds and source_file are updated.
	// It returns the number of rows inserted or updated. Records must have
	// distinct TripIDs (see ingest.Collapse).
	Merge(ctx context.Context, records []domain.TripRecord) (int64, error)

	// Get returns one trip by identity, or domain.ErrNotFound.
	Get(ctx context.Context, tripID string) (domain.TripRecord, error)

	// Count returns the number of trips stored.
	Count(ctx context.Context) (int64, error)
}

// pgTripRepo is the Postgres implementation of TripRepo.
type pgTripRepo struct {
	db db
}

// NewTripRepo constructs a TripRepo backed by the provided db connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func NewTripRepo(db db) TripRepo {
	return &pgTripRepo{db: db}
}

// stageTable is session-local; each Merge creates and drops its own copy
// inside the transaction, so nothing can leak between chunks or retries.
const stageTable = "trips_stage"

// Merge runs stage → upsert → drop inside a single transaction.
func (r *pgTripRepo) Merge(ctx context.Context, records []domain.TripRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("repo.TripRepo.Merge: begin: %w", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	const createStage = `
		CREATE TEMP TABLE trips_stage
		(LIKE raw.trips INCLUDING DEFAULTS)
		ON COMMIT DROP`
	if _, err := tx.Exec(ctx, createStage); err != nil {
		return 0, fmt.Errorf("repo.TripRepo.Merge: create stage: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{stageTable},
		domain.TripColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			return records[i].Values(), nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("repo.TripRepo.Merge: copy to stage: %w", err)
	}

	// ORDER BY gives concurrent merges the same lock order on trip_id.
	const upsert = `
		INSERT INTO raw.trips AS t (
			trip_id, started_at, ended_at,
			start_station_id, start_station_name,
			end_station_id, end_station_name,
			start_lat, start_lng, end_lat, end_lng,
			member_casual, rideable_type, duration_seconds,
			source_file
		)
		SELECT
			trip_id, started_at, ended_at,
			start_station_id, start_station_name,
			end_station_id, end_station_name,
			start_lat, start_lng, end_lat, end_lng,
			member_casual, rideable_type, duration_seconds,
			source_file
		FROM trips_stage
		ORDER BY trip_id
		ON CONFLICT (trip_id) DO UPDATE
		SET duration_seconds = EXCLUDED.duration_seconds,
		    source_file      = EXCLUDED.source_file`

	tag, err := tx.Exec(ctx, upsert)
	if err != nil {
		return 0, fmt.Errorf("repo.TripRepo.Merge: upsert: %w", err)
	}

	if _, err := tx.Exec(ctx, `DROP TABLE trips_stage`); err != nil {
		return 0, fmt.Errorf("repo.TripRepo.Merge: drop stage: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("repo.TripRepo.Merge: commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get retrieves a trip by identity.
func (r *pgTripRepo) Get(ctx context.Context, tripID string) (domain.TripRecord, error) {
	const q = `
		SELECT trip_id, started_at, ended_at,
		       start_station_id, start_station_name,
		       end_station_id, end_station_name,
		       start_lat, start_lng, end_lat, end_lng,
		       member_casual, rideable_type,
		       COALESCE(duration_seconds, 0), COALESCE(source_file, '')
		FROM raw.trips
		WHERE trip_id = @trip_id`

	row := r.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	result, err := scanTrip(row)
	if err != nil {
		return domain.TripRecord{}, fmt.Errorf("repo.TripRepo.Get: %w", err)
	}
	return result, nil
}

// Count returns the number of rows in raw.trips.
func (r *pgTripRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM raw.trips`).Scan(&n); err != nil {
		return 0, fmt.Errorf("repo.TripRepo.Count: %w", err)
	}
	return n, nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanTrip maps a single raw.trips row into a domain.TripRecord.
// Nullable columns scan into the record's pointer fields directly.
func scanTrip(s scanner) (domain.TripRecord, error) {
	var t domain.TripRecord
	err := s.Scan(
		&t.TripID, &t.StartedAt, &t.EndedAt,
		&t.StartStationID, &t.StartStationName,
		&t.EndStationID, &t.EndStationName,
		&t.StartLat, &t.StartLng, &t.EndLat, &t.EndLng,
		&t.MemberCasual, &t.RideableType,
		&t.DurationSeconds, &t.SourceFile,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TripRecord{}, domain.ErrNotFound
		}
		return domain.TripRecord{}, err
	}
	if t.StartedAt != nil {
		u := t.StartedAt.UTC()
		t.StartedAt = &u
	}
	if t.EndedAt != nil {
		u := t.EndedAt.UTC()
		t.EndedAt = &u
	}
	return t, nil
}
