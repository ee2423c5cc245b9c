package serving

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airsense/internal/cache"
	"airsense/internal/config"
	"airsense/internal/db"
	"airsense/internal/types"
)

func fp(v float64) *float64 { return &v }

// --- Fakes ---

type fakeStationReader struct {
	stations []*types.Station
	err      error
	calls    atomic.Int32
}

func (f *fakeStationReader) List(ctx context.Context, bbox *types.BBox) ([]*types.Station, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.stations, nil
}

type fakeObservationReader struct {
	points        []types.TimeSeriesPoint
	latest        []types.StationValue
	stationLatest map[string]types.LatestValue
	err           error
}

func (f *fakeObservationReader) TimeSeries(ctx context.Context, stationID, param string, q db.TimeSeriesQuery) ([]types.TimeSeriesPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.points, nil
}

func (f *fakeObservationReader) LatestByParam(ctx context.Context, param string, bbox *types.BBox) ([]types.StationValue, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.latest, nil
}

func (f *fakeObservationReader) LatestByStation(ctx context.Context, stationID string) (map[string]types.LatestValue, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stationLatest, nil
}

func newTestService(stations *fakeStationReader, obs *fakeObservationReader) *Service {
	return NewService(stations, obs, cache.New(nil), config.CacheConfig{
		StationsTTL: 30 * time.Second,
		HeatmapTTL:  30 * time.Second,
	})
}

func snapshotStation(id string, lat, lon float64, pm25 *float64) *types.Station {
	st := &types.Station{
		ID:       id,
		Name:     id,
		Location: types.Location{Lat: lat, Lon: lon},
	}
	if pm25 != nil {
		now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		st.LatestParams = types.Snapshot{"pm25": {Value: pm25}}
		st.LastUpdate = &now
	}
	return st
}

// ============================================================
// GeoJSON
// ============================================================

func TestBuildFeatureCollection(t *testing.T) {
	stations := []*types.Station{
		snapshotStation("st-good", 60.1, 24.9, fp(10)),
		snapshotStation("st-moderate", 60.2, 25.0, fp(60)),
		snapshotStation("st-hazard", 60.3, 25.1, fp(200)),
		snapshotStation("st-empty", 60.4, 25.2, nil), // never ingested
	}

	fc := BuildFeatureCollection(stations)
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 3, "stations without a snapshot are omitted")

	byID := make(map[string]Feature)
	for _, f := range fc.Features {
		assert.Equal(t, "Feature", f.Type)
		assert.Equal(t, "Point", f.Geometry.Type)
		byID[f.Properties.StationID] = f
	}

	// Health-risk tiers follow the PM2.5 thresholds.
	assert.Equal(t, types.RiskGood, byID["st-good"].Properties.Risk)
	assert.Equal(t, types.RiskModerate, byID["st-moderate"].Properties.Risk)
	assert.Equal(t, types.RiskHazardous, byID["st-hazard"].Properties.Risk)

	// GeoJSON coordinate order is [lon, lat].
	assert.Equal(t, [2]float64{24.9, 60.1}, byID["st-good"].Geometry.Coordinates)
}

func TestBuildFeatureCollection_EmptyInput(t *testing.T) {
	fc := BuildFeatureCollection(nil)
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.NotNil(t, fc.Features)
	assert.Empty(t, fc.Features)
}

// ============================================================
// Interpolation
// ============================================================

func TestLinspace(t *testing.T) {
	axis := linspace(24.0, 26.0, 5)
	require.Len(t, axis, 5)
	assert.Equal(t, 24.0, axis[0])
	assert.Equal(t, 26.0, axis[4])
	assert.InDelta(t, 24.5, axis[1], 1e-12)
	assert.InDelta(t, 25.0, axis[2], 1e-12)

	single := linspace(7, 9, 1)
	assert.Equal(t, []float64{7}, single)

	flat := linspace(5, 5, 3)
	assert.Equal(t, []float64{5, 5, 5}, flat)
}

func TestInterpolate_BoundedByInputRange(t *testing.T) {
	points := []types.StationValue{
		{StationID: "st-a", Lon: 24.9, Lat: 60.1, Value: 10},
		{StationID: "st-b", Lon: 25.0, Lat: 60.2, Value: 60},
		{StationID: "st-c", Lon: 25.1, Lat: 60.3, Value: 200},
	}

	hm := interpolate("pm25", points, 5)
	require.Len(t, hm.LonAxis, 5)
	require.Len(t, hm.LatAxis, 5)
	require.Len(t, hm.Values, 5)

	// Axes span the exact station envelope inclusive.
	assert.Equal(t, 24.9, hm.LonAxis[0])
	assert.Equal(t, 25.1, hm.LonAxis[4])
	assert.Equal(t, 60.1, hm.LatAxis[0])
	assert.Equal(t, 60.3, hm.LatAxis[4])

	for _, row := range hm.Values {
		require.Len(t, row, 5)
		for _, v := range row {
			assert.GreaterOrEqual(t, v, 10.0)
			assert.LessOrEqual(t, v, 200.0)
		}
	}
}

func TestInterpolate_ExactHitAtStation(t *testing.T) {
	points := []types.StationValue{
		{StationID: "st-a", Lon: 24.0, Lat: 60.0, Value: 10},
		{StationID: "st-b", Lon: 26.0, Lat: 62.0, Value: 200},
	}

	// The envelope corners coincide with the two stations, so the corner
	// grid nodes take their values exactly.
	hm := interpolate("pm25", points, 3)
	assert.Equal(t, 10.0, hm.Values[0][0])
	assert.Equal(t, 200.0, hm.Values[2][2])
}

func TestInterpolate_NearerStationDominates(t *testing.T) {
	points := []types.StationValue{
		{StationID: "st-low", Lon: 24.0, Lat: 60.0, Value: 10},
		{StationID: "st-high", Lon: 26.0, Lat: 60.0, Value: 200},
	}

	hm := interpolate("pm25", points, 5)
	// Same latitude row: values grow monotonically toward the high station.
	row := hm.Values[0]
	assert.Less(t, row[1], row[3])
}

// ============================================================
// Service: stations feed
// ============================================================

func TestStationsFeed_CachesResult(t *testing.T) {
	reader := &fakeStationReader{stations: []*types.Station{
		snapshotStation("st-a", 60.1, 24.9, fp(12)),
	}}
	svc := newTestService(reader, &fakeObservationReader{})
	ctx := context.Background()

	fc1, err := svc.StationsFeed(ctx, nil, false)
	require.NoError(t, err)
	fc2, err := svc.StationsFeed(ctx, nil, false)
	require.NoError(t, err)

	assert.Same(t, fc1, fc2)
	assert.Equal(t, int32(1), reader.calls.Load())
}

func TestStationsFeed_ForceRefreshRecomputes(t *testing.T) {
	reader := &fakeStationReader{stations: []*types.Station{
		snapshotStation("st-a", 60.1, 24.9, fp(12)),
	}}
	svc := newTestService(reader, &fakeObservationReader{})
	ctx := context.Background()

	_, err := svc.StationsFeed(ctx, nil, false)
	require.NoError(t, err)
	_, err = svc.StationsFeed(ctx, nil, true)
	require.NoError(t, err)

	assert.Equal(t, int32(2), reader.calls.Load())
}

func TestStationsFeed_BBoxGetsOwnCacheEntry(t *testing.T) {
	reader := &fakeStationReader{}
	svc := newTestService(reader, &fakeObservationReader{})
	ctx := context.Background()

	_, err := svc.StationsFeed(ctx, nil, false)
	require.NoError(t, err)
	_, err = svc.StationsFeed(ctx, &types.BBox{LatMin: 60, LonMin: 24, LatMax: 61, LonMax: 26}, false)
	require.NoError(t, err)

	assert.Equal(t, int32(2), reader.calls.Load())
}

// ============================================================
// Service: time series
// ============================================================

func TestTimeSeries_RejectsMalformedParam(t *testing.T) {
	svc := newTestService(&fakeStationReader{}, &fakeObservationReader{})

	for _, param := range []string{"", "PM2.5", "no2;drop", "pm25 "} {
		_, err := svc.TimeSeries(context.Background(), "st-a", param, db.TimeSeriesQuery{})
		require.Error(t, err, "param %q", param)
		appErr, ok := err.(*types.AppError)
		require.True(t, ok)
		assert.Equal(t, types.ErrCodeValidationInvalidParam, appErr.Code)
	}
}

func TestTimeSeries_ServesAnyRecordedParam(t *testing.T) {
	// Parameters outside the enrichable set (no2, temperature...) are still
	// recorded by ingestion and must stay queryable.
	want := []types.TimeSeriesPoint{{TS: time.Now(), Value: fp(8)}}
	svc := newTestService(&fakeStationReader{}, &fakeObservationReader{points: want})

	got, err := svc.TimeSeries(context.Background(), "st-a", "no2", db.TimeSeriesQuery{})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTimeSeries_PassesThrough(t *testing.T) {
	want := []types.TimeSeriesPoint{{TS: time.Now(), Value: fp(14)}}
	svc := newTestService(&fakeStationReader{}, &fakeObservationReader{points: want})

	got, err := svc.TimeSeries(context.Background(), "st-a", types.ParamPM25, db.TimeSeriesQuery{})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// ============================================================
// Service: station latest
// ============================================================

func TestStationLatest_GroupsPerParam(t *testing.T) {
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(&fakeStationReader{}, &fakeObservationReader{
		stationLatest: map[string]types.LatestValue{
			"pm25":        {Value: fp(42), TS: ts},
			"dominentpol": {Value: nil, TS: ts},
		},
	})

	got, err := svc.StationLatest(context.Background(), "st-a")
	require.NoError(t, err)
	assert.Equal(t, "st-a", got.StationID)
	require.Len(t, got.Latest, 2)
	assert.Equal(t, 42.0, *got.Latest["pm25"].Value)
	assert.Nil(t, got.Latest["dominentpol"].Value)
}

func TestStationLatest_EmptyIsNotFound(t *testing.T) {
	svc := newTestService(&fakeStationReader{}, &fakeObservationReader{})

	_, err := svc.StationLatest(context.Background(), "st-empty")
	require.Error(t, err)
	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeNotFoundObservations, appErr.Code)
	assert.Equal(t, 404, appErr.HTTPStatus())
}

// ============================================================
// Service: heatmap
// ============================================================

func TestHeatmap_InsufficientData(t *testing.T) {
	svc := newTestService(&fakeStationReader{}, &fakeObservationReader{
		latest: []types.StationValue{{StationID: "st-only", Lon: 24.9, Lat: 60.1, Value: 12}},
	})

	_, err := svc.Heatmap(context.Background(), types.ParamPM25, 5)
	require.Error(t, err)
	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeInsufficientData, appErr.Code)
	assert.Equal(t, 422, appErr.HTTPStatus())
}

func TestHeatmap_ValidatesInput(t *testing.T) {
	svc := newTestService(&fakeStationReader{}, &fakeObservationReader{})

	_, err := svc.Heatmap(context.Background(), "PM2.5", 50)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeValidationInvalidParam, err.(*types.AppError).Code)

	_, err = svc.Heatmap(context.Background(), types.ParamPM25, 1)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeValidationInvalidGridSize, err.(*types.AppError).Code)

	_, err = svc.Heatmap(context.Background(), types.ParamPM25, 5000)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeValidationInvalidGridSize, err.(*types.AppError).Code)
}

func TestHeatmap_Success(t *testing.T) {
	svc := newTestService(&fakeStationReader{}, &fakeObservationReader{
		latest: []types.StationValue{
			{StationID: "st-a", Lon: 24.9, Lat: 60.1, Value: 10},
			{StationID: "st-b", Lon: 25.0, Lat: 60.2, Value: 60},
			{StationID: "st-c", Lon: 25.1, Lat: 60.3, Value: 200},
		},
	})

	hm, err := svc.Heatmap(context.Background(), types.ParamPM25, 5)
	require.NoError(t, err)
	assert.Equal(t, types.ParamPM25, hm.Param)
	assert.Len(t, hm.Values, 5)
}

// ============================================================
// Service: health risk
// ============================================================

func TestClassifyHealthRisk(t *testing.T) {
	svc := newTestService(&fakeStationReader{}, &fakeObservationReader{})

	risk := svc.ClassifyHealthRisk(10)
	assert.Equal(t, types.RiskGood, risk.Category)
	assert.Equal(t, 10.0, risk.PM25)
	assert.NotEmpty(t, risk.Recommendation)

	assert.Equal(t, types.RiskModerate, svc.ClassifyHealthRisk(60).Category)
	assert.Equal(t, types.RiskHazardous, svc.ClassifyHealthRisk(200).Category)
}
