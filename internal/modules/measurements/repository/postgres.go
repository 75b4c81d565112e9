package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kristoforerickson/mkr1000/internal/modules/measurements/types"
)

//go:embed sql/insert-measurement.pg.sql
var insertMeasurementPgSQL string

//go:embed sql/schema.pg.sql
var schemaPgSQL string

type postgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a repository over a pgx pool. Call
// EnsureSchema once before use.
func NewPostgresRepository(pool *pgxpool.Pool) MeasurementRepository {
	return &postgresRepository{pool: pool}
}

// EnsureSchema creates the measurements table when it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range strings.Split(schemaPgSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (r *postgresRepository) InsertSample(ctx context.Context, s types.Sample) error {
	_, err := r.pool.Exec(ctx, insertMeasurementPgSQL,
		s.Timestamp, s.Temperature, s.Light, s.Moisture)
	if err != nil {
		return fmt.Errorf("insert measurement %d: %w", s.Timestamp, err)
	}
	return nil
}

func (r *postgresRepository) QueryMetric(ctx context.Context, m types.Metric) ([]types.Point, error) {
	q, err := querySQL(m)
	if err != nil {
		return nil, &StorageQueryError{Metric: m, Err: err}
	}
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, &StorageQueryError{Metric: m, Err: err}
	}
	defer rows.Close()

	out := []types.Point{}
	for rows.Next() {
		var date int64
		var value *int64
		if err := rows.Scan(&date, &value); err != nil {
			return nil, &StorageQueryError{Metric: m, Err: err}
		}
		var v int64
		if value != nil {
			v = *value
		}
		out = append(out, types.Point{date, v})
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageQueryError{Metric: m, Err: err}
	}
	return out, nil
}

func (r *postgresRepository) Latest(ctx context.Context) (types.Sample, error) {
	var date int64
	var temp, light, moisture *int
	err := r.pool.QueryRow(ctx, latestMeasurementSQL).Scan(&date, &temp, &light, &moisture)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Sample{}, ErrNoMeasurements
	}
	if err != nil {
		return types.Sample{}, fmt.Errorf("latest measurement: %w", err)
	}
	return types.NewSample(date, temp, light, moisture), nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
