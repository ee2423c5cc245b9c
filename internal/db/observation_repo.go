package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"airsense/internal/types"
)

// pgFKViolation is the PostgreSQL error code for foreign key violations.
const pgFKViolation = "23503"

// Timeseries query bounds. Limits outside [1, timeSeriesMaxLimit] are
// clamped; zero means "use the default".
const (
	timeSeriesDefaultLimit = 1000
	timeSeriesMaxLimit     = 10000
)

// TimeSeriesQuery holds the optional filters for an observation time-series
// read. Zero values mean unbounded (times) or default (limit, order).
type TimeSeriesQuery struct {
	Start *time.Time
	End   *time.Time
	Limit int
	// Order is "asc" or "desc". Empty defaults to "desc" (newest first).
	Order string
}

// ObservationRepository provides data access for the append-only
// observations table.
type ObservationRepository struct {
	db DBTX
}

// NewObservationRepository creates a new ObservationRepository backed by the
// given database connection (pool or transaction).
func NewObservationRepository(db DBTX) *ObservationRepository {
	return &ObservationRepository{db: db}
}

// Insert appends a single observation. Duplicate (station_id, ts, param)
// tuples are silently skipped: the first write wins and the return value
// reports whether a row actually landed. An unknown station maps the FK
// violation to ErrCodeConstraintUnknownStation.
func (r *ObservationRepository) Insert(ctx context.Context, obs *types.Observation) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO observations (station_id, ts, param, value, unit, raw_json)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (station_id, ts, param) DO NOTHING`,
		obs.StationID, obs.TS, obs.Param, obs.Value, nilIfEmpty(obs.Unit), obs.Raw,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgFKViolation {
			return false, types.NewAppError(types.ErrCodeConstraintUnknownStation,
				"observation references unknown station", err)
		}
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert observation", err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertBatch appends multiple observations in a single statement, skipping
// duplicates. Returns the number of rows actually inserted.
func (r *ObservationRepository) InsertBatch(ctx context.Context, obs []*types.Observation) (int64, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	const colCount = 6
	var sb strings.Builder
	sb.WriteString(`INSERT INTO observations (station_id, ts, param, value, unit, raw_json) VALUES `)

	args := make([]any, 0, len(obs)*colCount)
	for i, o := range obs {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * colCount
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, o.StationID, o.TS, o.Param, o.Value, nilIfEmpty(o.Unit), o.Raw)
	}
	sb.WriteString(` ON CONFLICT (station_id, ts, param) DO NOTHING`)

	tag, err := r.db.Exec(ctx, sb.String(), args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgFKViolation {
			return 0, types.NewAppError(types.ErrCodeConstraintUnknownStation,
				"observation batch references unknown station", err)
		}
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to batch insert observations", err)
	}
	return tag.RowsAffected(), nil
}

// TimeSeries reads the observation history of one (station, param) pair.
// The station must exist; an empty history for a known station is a valid
// empty result, not an error.
func (r *ObservationRepository) TimeSeries(ctx context.Context, stationID, param string, q TimeSeriesQuery) ([]types.TimeSeriesPoint, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = timeSeriesDefaultLimit
	}
	if limit > timeSeriesMaxLimit {
		limit = timeSeriesMaxLimit
	}
	order := "DESC"
	if strings.EqualFold(q.Order, "asc") {
		order = "ASC"
	}

	conditions := []string{"station_id = $1", "param = $2"}
	args := []any{stationID, param}
	argIdx := 3

	if q.Start != nil {
		conditions = append(conditions, fmt.Sprintf("ts >= $%d", argIdx))
		args = append(args, *q.Start)
		argIdx++
	}
	if q.End != nil {
		conditions = append(conditions, fmt.Sprintf("ts <= $%d", argIdx))
		args = append(args, *q.End)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT ts, value, unit
		 FROM observations
		 WHERE %s
		 ORDER BY ts %s
		 LIMIT $%d`,
		strings.Join(conditions, " AND "), order, argIdx,
	)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query time series", err)
	}
	defer rows.Close()

	var points []types.TimeSeriesPoint
	for rows.Next() {
		var pt types.TimeSeriesPoint
		var unit *string
		if err := rows.Scan(&pt.TS, &pt.Value, &unit); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan time series row", err)
		}
		if unit != nil {
			pt.Unit = *unit
		}
		points = append(points, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating time series rows", err)
	}

	if len(points) == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM stations WHERE station_id = $1)`, stationID,
		).Scan(&exists); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to check station existence", err)
		}
		if !exists {
			return nil, types.NewAppError(types.ErrCodeNotFoundStation, "station not found", nil)
		}
	}
	return points, nil
}

// LatestByStation returns the most recent observation of every parameter
// recorded for one station, keyed by parameter name. A station with no
// observations yields an empty map.
func (r *ObservationRepository) LatestByStation(ctx context.Context, stationID string) (map[string]types.LatestValue, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (param) param, value, ts
		 FROM observations
		 WHERE station_id = $1
		 ORDER BY param, ts DESC`,
		stationID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query latest observations", err)
	}
	defer rows.Close()

	latest := make(map[string]types.LatestValue)
	for rows.Next() {
		var param string
		var lv types.LatestValue
		if err := rows.Scan(&param, &lv.Value, &lv.TS); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan latest observation row", err)
		}
		latest[param] = lv
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating latest observation rows", err)
	}
	return latest, nil
}

// LatestByParam returns, for each station, its most recent non-null value of
// the given parameter together with the station coordinates. Used as the
// sample set for spatial interpolation. A non-nil bbox restricts the
// stations considered.
func (r *ObservationRepository) LatestByParam(ctx context.Context, param string, bbox *types.BBox) ([]types.StationValue, error) {
	conditions := []string{"o.param = $1", "o.value IS NOT NULL"}
	args := []any{param}
	argIdx := 2

	if bbox != nil {
		conditions = append(conditions,
			fmt.Sprintf("s.lat BETWEEN $%d AND $%d", argIdx, argIdx+1),
			fmt.Sprintf("s.lon BETWEEN $%d AND $%d", argIdx+2, argIdx+3),
		)
		args = append(args, bbox.LatMin, bbox.LatMax, bbox.LonMin, bbox.LonMax)
	}

	query := fmt.Sprintf(
		`SELECT DISTINCT ON (o.station_id) o.station_id, s.lon, s.lat, o.value
		 FROM observations o
		 JOIN stations s ON s.station_id = o.station_id
		 WHERE %s
		 ORDER BY o.station_id, o.ts DESC`,
		strings.Join(conditions, " AND "),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query latest values", err)
	}
	defer rows.Close()

	var results []types.StationValue
	for rows.Next() {
		var sv types.StationValue
		if err := rows.Scan(&sv.StationID, &sv.Lon, &sv.Lat, &sv.Value); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan latest value row", err)
		}
		results = append(results, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating latest value rows", err)
	}
	return results, nil
}
