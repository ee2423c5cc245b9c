package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"airsense/internal/types"
)

// StationRepository provides data access for the stations table.
type StationRepository struct {
	db DBTX
}

// NewStationRepository creates a new StationRepository backed by the given
// database connection (pool or transaction).
func NewStationRepository(db DBTX) *StationRepository {
	return &StationRepository{db: db}
}

// stationColumns defines the standard set of columns selected for station
// queries. scanStation and scanStationFromRows must match this order.
const stationColumns = `s.station_id, s.feed_uid, s.name, s.city,
	s.lon, s.lat, s.latest_params, s.last_update,
	s.created_at, s.updated_at`

func scanStation(row pgx.Row) (*types.Station, error) {
	var st types.Station
	var (
		feedUID *int64
		city    *string
	)
	err := row.Scan(
		&st.ID,
		&feedUID,
		&st.Name,
		&city,
		&st.Location.Lon,
		&st.Location.Lat,
		&st.LatestParams,
		&st.LastUpdate,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if feedUID != nil {
		st.FeedUID = *feedUID
	}
	if city != nil {
		st.City = *city
	}
	return &st, nil
}

// Upsert registers a station or refreshes its identity fields. The conflict
// path touches only name, city, coordinates and feed_uid; latest_params and
// last_update are owned by the ingestion path and never written here.
func (r *StationRepository) Upsert(ctx context.Context, st *types.Station) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO stations (station_id, feed_uid, name, city, lon, lat, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		 ON CONFLICT (station_id) DO UPDATE SET
			feed_uid = EXCLUDED.feed_uid,
			name = EXCLUDED.name,
			city = EXCLUDED.city,
			lon = EXCLUDED.lon,
			lat = EXCLUDED.lat,
			updated_at = NOW()`,
		st.ID,
		nilIfZeroInt64(st.FeedUID),
		st.Name,
		nilIfEmpty(st.City),
		st.Location.Lon,
		st.Location.Lat,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert station", err)
	}
	return nil
}

// GetByID retrieves a station by its ID. Returns ErrCodeNotFoundStation when
// no such station exists.
func (r *StationRepository) GetByID(ctx context.Context, id string) (*types.Station, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+stationColumns+` FROM stations s WHERE s.station_id = $1`,
		id,
	)
	st, err := scanStation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundStation, "station not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve station", err)
	}
	return st, nil
}

// List retrieves all stations, optionally restricted to a bounding box.
// Results are ordered by station_id for stable output.
func (r *StationRepository) List(ctx context.Context, bbox *types.BBox) ([]*types.Station, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if bbox != nil {
		conditions = append(conditions,
			fmt.Sprintf("s.lat BETWEEN $%d AND $%d", argIdx, argIdx+1),
			fmt.Sprintf("s.lon BETWEEN $%d AND $%d", argIdx+2, argIdx+3),
		)
		args = append(args, bbox.LatMin, bbox.LatMax, bbox.LonMin, bbox.LonMax)
	}

	query := `SELECT ` + stationColumns + ` FROM stations s`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY s.station_id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list stations", err)
	}
	defer rows.Close()

	var results []*types.Station
	for rows.Next() {
		st, scanErr := scanStation(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan station row", scanErr)
		}
		results = append(results, st)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating station rows", err)
	}
	return results, nil
}

// ListForIngestion returns the station identities an ingestion run iterates:
// ID, feed UID and coordinates. The snapshot columns are skipped because the
// run overwrites them anyway.
func (r *StationRepository) ListForIngestion(ctx context.Context) ([]*types.Station, error) {
	rows, err := r.db.Query(ctx,
		`SELECT station_id, feed_uid, name, lon, lat
		 FROM stations
		 ORDER BY station_id`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list stations for ingestion", err)
	}
	defer rows.Close()

	var results []*types.Station
	for rows.Next() {
		var st types.Station
		var feedUID *int64
		if err := rows.Scan(&st.ID, &feedUID, &st.Name, &st.Location.Lon, &st.Location.Lat); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan station row", err)
		}
		if feedUID != nil {
			st.FeedUID = *feedUID
		}
		results = append(results, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating station rows", err)
	}
	return results, nil
}

// UpdateLatest writes the denormalized snapshot for a station, guarded so an
// older reading can never clobber a newer one. A stale timestamp is a no-op,
// not an error; a missing station is ErrCodeNotFoundStation.
func (r *StationRepository) UpdateLatest(ctx context.Context, id string, snapshot types.Snapshot, ts time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE stations SET
			latest_params = $2,
			last_update = $3,
			updated_at = NOW()
		 WHERE station_id = $1
		   AND (last_update IS NULL OR last_update <= $3)`,
		id, snapshot, ts,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update station snapshot", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM stations WHERE station_id = $1)`, id,
		).Scan(&exists); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to check station existence", err)
		}
		if !exists {
			return types.NewAppError(types.ErrCodeNotFoundStation, "station not found", nil)
		}
		// Stale snapshot: a newer reading already landed.
	}
	return nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfZeroInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
