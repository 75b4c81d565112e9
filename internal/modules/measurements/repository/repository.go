package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kristoforerickson/mkr1000/internal/modules/measurements/types"
)

//go:embed sql/insert-measurement.sql
var insertMeasurementSQL string

//go:embed sql/query-temp.sql
var queryTempSQL string

//go:embed sql/query-light.sql
var queryLightSQL string

//go:embed sql/query-moisture.sql
var queryMoistureSQL string

//go:embed sql/latest-measurement.sql
var latestMeasurementSQL string

// ErrStorageUnavailable means the store could not be reached at startup.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrNoMeasurements is returned by Latest on an empty store.
var ErrNoMeasurements = errors.New("no measurements stored")

// StorageQueryError wraps a failed history query.
type StorageQueryError struct {
	Metric types.Metric
	Err    error
}

func (e *StorageQueryError) Error() string {
	return fmt.Sprintf("query %s history: %v", e.Metric, e.Err)
}

func (e *StorageQueryError) Unwrap() error { return e.Err }

type MeasurementRepository interface {
	InsertSample(ctx context.Context, s types.Sample) error
	// QueryMetric returns [date, value] pairs for every stored sample that has
	// the metric, oldest first. An empty history is an empty, non-nil slice.
	QueryMetric(ctx context.Context, m types.Metric) ([]types.Point, error)
	Latest(ctx context.Context) (types.Sample, error)
	Ping(ctx context.Context) error
}

func querySQL(m types.Metric) (string, error) {
	switch m {
	case types.MetricTemperature:
		return queryTempSQL, nil
	case types.MetricLight:
		return queryLightSQL, nil
	case types.MetricMoisture:
		return queryMoistureSQL, nil
	default:
		return "", fmt.Errorf("unknown metric %q", m)
	}
}

func nullable(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

type sqliteRepository struct {
	db *sql.DB
}

// NewRepository returns a repository over a migrated database/sql handle.
func NewRepository(db *sql.DB) MeasurementRepository {
	return &sqliteRepository{db: db}
}

func (r *sqliteRepository) InsertSample(ctx context.Context, s types.Sample) error {
	_, err := r.db.ExecContext(ctx, insertMeasurementSQL,
		s.Timestamp, nullable(s.Temperature), nullable(s.Light), nullable(s.Moisture))
	if err != nil {
		return fmt.Errorf("insert measurement %d: %w", s.Timestamp, err)
	}
	return nil
}

func (r *sqliteRepository) QueryMetric(ctx context.Context, m types.Metric) ([]types.Point, error) {
	q, err := querySQL(m)
	if err != nil {
		return nil, &StorageQueryError{Metric: m, Err: err}
	}
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &StorageQueryError{Metric: m, Err: err}
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close measurement rows", "metric", m, "error", err)
		}
	}()

	out := []types.Point{}
	for rows.Next() {
		var date int64
		var value sql.NullInt64
		if err := rows.Scan(&date, &value); err != nil {
			return nil, &StorageQueryError{Metric: m, Err: err}
		}
		out = append(out, types.Point{date, value.Int64})
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageQueryError{Metric: m, Err: err}
	}
	return out, nil
}

func (r *sqliteRepository) Latest(ctx context.Context) (types.Sample, error) {
	var date int64
	var temp, light, moisture sql.NullInt64
	err := r.db.QueryRowContext(ctx, latestMeasurementSQL).Scan(&date, &temp, &light, &moisture)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Sample{}, ErrNoMeasurements
	}
	if err != nil {
		return types.Sample{}, fmt.Errorf("latest measurement: %w", err)
	}
	return types.NewSample(date, fromNull(temp), fromNull(light), fromNull(moisture)), nil
}

func (r *sqliteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func fromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	return types.IntPtr(int(v.Int64))
}

// unavailableRepository stands in when the store was unreachable at startup.
type unavailableRepository struct {
	cause error
}

// NewUnavailable returns a repository whose every call fails with
// ErrStorageUnavailable.
func NewUnavailable(cause error) MeasurementRepository {
	return unavailableRepository{cause: cause}
}

func (u unavailableRepository) err() error {
	if u.cause == nil {
		return ErrStorageUnavailable
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, u.cause)
}

func (u unavailableRepository) InsertSample(context.Context, types.Sample) error { return u.err() }

func (u unavailableRepository) QueryMetric(_ context.Context, m types.Metric) ([]types.Point, error) {
	return nil, &StorageQueryError{Metric: m, Err: u.err()}
}

func (u unavailableRepository) Latest(context.Context) (types.Sample, error) {
	return types.Sample{}, u.err()
}

func (u unavailableRepository) Ping(context.Context) error { return u.err() }
