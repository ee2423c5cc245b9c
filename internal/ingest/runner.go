// Package ingest drives the periodic fetch cycle: it iterates the station
// registry, pulls each station's current reading from the feed, runs the
// transform stages, and lands the results in storage. One station's failure
// never aborts the run; the outcome is reported per cycle.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"airsense/internal/config"
	"airsense/internal/feed"
	"airsense/internal/transform"
	"airsense/internal/types"
)

// RunStatus summarizes the overall outcome of one ingestion cycle.
type RunStatus string

const (
	StatusCompleted      RunStatus = "completed"
	StatusPartialFailure RunStatus = "partial_failure"
)

// RunResult is the per-cycle report.
type RunResult struct {
	// RunID correlates every log line emitted during one cycle.
	RunID    string        `json:"run_id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Stations int           `json:"stations"`

	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	// Inserted counts observation rows that actually landed; duplicates
	// dropped by the uniqueness constraint are not included.
	Inserted int64 `json:"inserted"`

	Status RunStatus `json:"status"`
}

// StationStore is the registry surface the runner needs.
type StationStore interface {
	ListForIngestion(ctx context.Context) ([]*types.Station, error)
	Upsert(ctx context.Context, st *types.Station) error
	UpdateLatest(ctx context.Context, id string, snapshot types.Snapshot, ts time.Time) error
}

// ObservationStore is the append-only log surface the runner needs.
type ObservationStore interface {
	InsertBatch(ctx context.Context, obs []*types.Observation) (int64, error)
}

// Runner executes ingestion cycles.
type Runner struct {
	fetcher      feed.Fetcher
	stations     StationStore
	observations ObservationStore
	cfg          config.IngestConfig
	logger       *slog.Logger
	clock        types.Clock
}

// NewRunner wires a Runner from its dependencies.
func NewRunner(
	fetcher feed.Fetcher,
	stations StationStore,
	observations ObservationStore,
	cfg config.IngestConfig,
	logger *slog.Logger,
	clock types.Clock,
) *Runner {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Runner{
		fetcher:      fetcher,
		stations:     stations,
		observations: observations,
		cfg:          cfg,
		logger:       logger,
		clock:        clock,
	}
}

// Run executes one ingestion cycle over the full registry. Failure to load
// the registry aborts the run; everything after that is per-station failure
// isolation. Cancelling ctx stops new station work; stations not yet started
// are reported as skipped.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	started := r.clock.Now()

	stations, err := r.stations.ListForIngestion(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeStorageUnavailable,
			"cannot load station registry; aborting ingestion run", err)
	}

	runID := uuid.NewString()
	result := &RunResult{RunID: runID, Started: started, Stations: len(stations), Status: StatusCompleted}
	if len(stations) == 0 {
		r.logger.Info("ingestion run skipped: station registry is empty",
			slog.String("run_id", runID))
		return result, nil
	}

	gate := newRateGate(r.cfg.MinSpacing)

	concurrency := r.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, st := range stations {
		st := st
		g.Go(func() error {
			if gctx.Err() != nil {
				mu.Lock()
				result.Skipped++
				mu.Unlock()
				return nil
			}
			if err := gate.wait(gctx); err != nil {
				mu.Lock()
				result.Skipped++
				mu.Unlock()
				return nil
			}

			inserted, err := r.processStation(gctx, st)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				return nil
			}
			result.Succeeded++
			result.Inserted += inserted
			return nil
		})
	}

	// Workers never propagate errors; per-station outcomes are counted.
	_ = g.Wait()

	result.Duration = r.clock.Now().Sub(result.Started)
	if result.Failed > 0 || result.Skipped > 0 {
		result.Status = StatusPartialFailure
	}

	r.logger.Info("ingestion run finished",
		slog.String("run_id", runID),
		slog.String("status", string(result.Status)),
		slog.Int("stations", result.Stations),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped),
		slog.Int64("inserted", result.Inserted),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// processStation runs the fetch/transform/store pipeline for one station and
// returns how many observation rows landed.
func (r *Runner) processStation(ctx context.Context, st *types.Station) (int64, error) {
	res := r.fetcher.FetchStation(ctx, st)
	if !res.Ok() {
		r.logger.Warn("station fetch failed",
			slog.String("station_id", st.ID),
			slog.String("reason", string(res.Failure.Reason)),
			slog.Any("error", res.Failure.Err),
		)
		return 0, res.Failure.Err
	}

	reading := res.Reading
	transform.SanitizeReading(reading)
	transform.Enrich(reading)

	obs := buildObservations(reading)
	inserted, err := r.observations.InsertBatch(ctx, obs)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConstraintUnknownStation && r.cfg.AutoRegister {
			inserted, err = r.registerAndRetry(ctx, st, reading, obs)
		}
		if err != nil {
			r.logger.Warn("failed to store observations",
				slog.String("station_id", st.ID),
				slog.Any("error", err),
			)
			return 0, err
		}
	}

	r.refreshIdentity(ctx, st, reading)

	if err := r.stations.UpdateLatest(ctx, st.ID, buildSnapshot(reading), reading.TS); err != nil {
		r.logger.Warn("failed to update station snapshot",
			slog.String("station_id", st.ID),
			slog.Any("error", err),
		)
		return 0, err
	}

	r.logger.Debug("station ingested",
		slog.String("station_id", st.ID),
		slog.Int64("inserted", inserted),
		slog.Time("reading_ts", reading.TS),
	)
	return inserted, nil
}

// refreshIdentity writes the feed-reported station name and city back to the
// registry when they drift from the stored values. A failed refresh is
// logged and ignored: the cycle's observations have already landed.
func (r *Runner) refreshIdentity(ctx context.Context, st *types.Station, reading *types.RawReading) {
	if reading.Name == "" || (reading.Name == st.Name && reading.City == st.City) {
		return
	}
	updated := *st
	updated.Name = reading.Name
	updated.City = reading.City
	if err := r.stations.Upsert(ctx, &updated); err != nil {
		r.logger.Warn("failed to refresh station identity",
			slog.String("station_id", st.ID),
			slog.Any("error", err),
		)
		return
	}
	r.logger.Debug("station identity refreshed",
		slog.String("station_id", st.ID),
		slog.String("name", reading.Name),
	)
}

// registerAndRetry creates a placeholder registry entry from the reading and
// replays the observation batch once.
func (r *Runner) registerAndRetry(ctx context.Context, st *types.Station, reading *types.RawReading, obs []*types.Observation) (int64, error) {
	placeholder := &types.Station{
		ID:       st.ID,
		FeedUID:  reading.FeedUID,
		Name:     reading.Name,
		City:     reading.City,
		Location: st.Location,
	}
	if placeholder.Name == "" {
		placeholder.Name = st.Name
	}
	if placeholder.Name == "" {
		placeholder.Name = st.ID
	}
	if err := r.stations.Upsert(ctx, placeholder); err != nil {
		return 0, err
	}
	r.logger.Info("auto-registered station", slog.String("station_id", st.ID))
	return r.observations.InsertBatch(ctx, obs)
}

// buildObservations converts a transformed reading into the observation rows
// for this cycle: one row per pollutant the reading carried (value null when
// sanitization rejected it), one synthetic row for the overall index, and
// one marker row for the dominant pollutant.
func buildObservations(reading *types.RawReading) []*types.Observation {
	var obs []*types.Observation

	params := make([]string, 0, len(reading.Params))
	for param := range reading.Params {
		params = append(params, param)
	}
	sort.Strings(params)

	for _, param := range params {
		pv := reading.Params[param]
		obs = append(obs, &types.Observation{
			StationID: reading.StationID,
			TS:        reading.TS,
			Param:     param,
			Value:     pv.Value,
			Unit:      pv.Unit,
			Raw:       reading.Raw,
		})
	}

	if reading.AQI != nil {
		obs = append(obs, &types.Observation{
			StationID: reading.StationID,
			TS:        reading.TS,
			Param:     types.ParamAQI,
			Value:     reading.AQI,
			Raw:       reading.Raw,
		})
	}

	if reading.DominantParam != "" {
		marker, _ := json.Marshal(map[string]string{"dominentpol": reading.DominantParam})
		obs = append(obs, &types.Observation{
			StationID: reading.StationID,
			TS:        reading.TS,
			Param:     types.ParamDominant,
			Raw:       marker,
		})
	}

	return obs
}

// buildSnapshot assembles the denormalized latest-state map written onto the
// station row: every pollutant the reading carried plus the overall index.
func buildSnapshot(reading *types.RawReading) types.Snapshot {
	snapshot := make(types.Snapshot, len(reading.Params)+1)
	for param, pv := range reading.Params {
		snapshot[param] = pv
	}
	if reading.AQI != nil {
		snapshot[types.ParamAQI] = types.PollutantValue{Value: reading.AQI}
	}
	return snapshot
}
