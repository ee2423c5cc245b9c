package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"airsense/internal/core"
	"airsense/internal/db"
	"airsense/internal/serving"
	"airsense/internal/transform"
	"airsense/internal/types"
)

func fp(v float64) *float64 { return &v }

// --- Mock Service ---

type mockServingService struct {
	feedResult *serving.FeatureCollection
	feedErr    error
	feedBBox   *types.BBox
	feedForce  bool

	latestResult    *serving.StationLatest
	latestErr       error
	latestStationID string

	seriesResult []types.TimeSeriesPoint
	seriesErr    error
	seriesQuery  db.TimeSeriesQuery

	heatmapResult   *serving.Heatmap
	heatmapErr      error
	heatmapParam    string
	heatmapGridSize int
}

func (m *mockServingService) StationsFeed(_ context.Context, bbox *types.BBox, force bool) (*serving.FeatureCollection, error) {
	m.feedBBox = bbox
	m.feedForce = force
	return m.feedResult, m.feedErr
}

func (m *mockServingService) StationLatest(_ context.Context, stationID string) (*serving.StationLatest, error) {
	m.latestStationID = stationID
	return m.latestResult, m.latestErr
}

func (m *mockServingService) TimeSeries(_ context.Context, stationID, param string, q db.TimeSeriesQuery) ([]types.TimeSeriesPoint, error) {
	m.seriesQuery = q
	return m.seriesResult, m.seriesErr
}

func (m *mockServingService) Heatmap(_ context.Context, param string, gridSize int) (*serving.Heatmap, error) {
	m.heatmapParam = param
	m.heatmapGridSize = gridSize
	return m.heatmapResult, m.heatmapErr
}

func (m *mockServingService) ClassifyHealthRisk(pm25 float64) serving.HealthRisk {
	category := transform.ClassifyPM25(pm25)
	return serving.HealthRisk{PM25: pm25, Category: category, Recommendation: transform.Recommendation(category)}
}

// --- Helpers ---

func makeRouter(svc ServingService) http.Handler {
	h := NewAirHandler(svc, slog.Default())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) core.APIErrorResponse {
	t.Helper()
	var resp core.APIErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

// --- Stations feed ---

func TestHandleStations_Success(t *testing.T) {
	svc := &mockServingService{
		feedResult: &serving.FeatureCollection{Type: "FeatureCollection", Features: []serving.Feature{}},
	}
	router := makeRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/stations.geojson", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != serving.ContentTypeGeoJSON {
		t.Errorf("expected %s content type, got %q", serving.ContentTypeGeoJSON, ct)
	}
	if svc.feedBBox != nil {
		t.Errorf("expected nil bbox, got %+v", svc.feedBBox)
	}
	if svc.feedForce {
		t.Error("expected force_refresh to default to false")
	}

	var fc serving.FeatureCollection
	if err := json.NewDecoder(rec.Body).Decode(&fc); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("unexpected type %q", fc.Type)
	}
}

func TestHandleStations_BBoxAndForceRefresh(t *testing.T) {
	svc := &mockServingService{feedResult: &serving.FeatureCollection{Type: "FeatureCollection"}}
	router := makeRouter(svc)

	req := httptest.NewRequest(http.MethodGet,
		"/stations.geojson?lat_min=60&lon_min=24&lat_max=61&lon_max=26&force_refresh=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.feedBBox == nil {
		t.Fatal("expected bbox to be passed to service")
	}
	if svc.feedBBox.LatMin != 60 || svc.feedBBox.LonMax != 26 {
		t.Errorf("unexpected bbox %+v", svc.feedBBox)
	}
	if !svc.feedForce {
		t.Error("expected force_refresh=true")
	}
}

func TestHandleStations_PartialBBoxRejected(t *testing.T) {
	router := makeRouter(&mockServingService{})

	req := httptest.NewRequest(http.MethodGet, "/stations.geojson?lat_min=60&lon_min=24", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Error.Code != string(types.ErrCodeValidationInvalidBBox) {
		t.Errorf("unexpected error code %q", resp.Error.Code)
	}
}

func TestHandleStations_InvertedBBoxRejected(t *testing.T) {
	router := makeRouter(&mockServingService{})

	req := httptest.NewRequest(http.MethodGet,
		"/stations.geojson?lat_min=61&lon_min=24&lat_max=60&lon_max=26", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleStations_NonNumericCoordinateRejected(t *testing.T) {
	router := makeRouter(&mockServingService{})

	req := httptest.NewRequest(http.MethodGet,
		"/stations.geojson?lat_min=abc&lon_min=24&lat_max=61&lon_max=26", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Error.Code != string(types.ErrCodeValidationInvalidLat) {
		t.Errorf("unexpected error code %q", resp.Error.Code)
	}
}

// --- Time series ---

func TestHandleTimeSeries_Success(t *testing.T) {
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := &mockServingService{
		seriesResult: []types.TimeSeriesPoint{{TS: ts, Value: fp(17.5), Unit: "ug/m3"}},
	}
	router := makeRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/timeseries/st-helsinki-kallio/pm25?limit=100&order=asc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.seriesQuery.Limit != 100 || svc.seriesQuery.Order != "asc" {
		t.Errorf("query not propagated: %+v", svc.seriesQuery)
	}

	var resp timeSeriesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.StationID != "st-helsinki-kallio" || resp.Param != "pm25" {
		t.Errorf("unexpected identity fields: %+v", resp)
	}
	if len(resp.Points) != 1 || *resp.Points[0].Value != 17.5 {
		t.Errorf("unexpected points: %+v", resp.Points)
	}
}

func TestHandleTimeSeries_EmptyIsNotNull(t *testing.T) {
	router := makeRouter(&mockServingService{seriesResult: nil})

	req := httptest.NewRequest(http.MethodGet, "/timeseries/st-a/pm25", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if string(raw["points"]) != "[]" {
		t.Errorf("expected empty array, got %s", raw["points"])
	}
}

func TestHandleTimeSeries_InvalidTimeRange(t *testing.T) {
	router := makeRouter(&mockServingService{})

	cases := []string{
		"/timeseries/st-a/pm25?start=not-a-time",
		"/timeseries/st-a/pm25?end=2026-13-99",
		"/timeseries/st-a/pm25?start=2026-08-02T00:00:00Z&end=2026-08-01T00:00:00Z",
	}
	for _, url := range cases {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", url, rec.Code)
			continue
		}
		resp := decodeError(t, rec)
		if resp.Error.Code != string(types.ErrCodeValidationInvalidTime) {
			t.Errorf("%s: unexpected error code %q", url, resp.Error.Code)
		}
	}
}

func TestHandleTimeSeries_InvalidLimit(t *testing.T) {
	router := makeRouter(&mockServingService{})

	for _, url := range []string{
		"/timeseries/st-a/pm25?limit=0",
		"/timeseries/st-a/pm25?limit=-5",
		"/timeseries/st-a/pm25?limit=abc",
	} {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", url, rec.Code)
		}
	}
}

func TestHandleTimeSeries_UnknownStation(t *testing.T) {
	svc := &mockServingService{
		seriesErr: types.NewAppError(types.ErrCodeNotFoundStation, "station not found", nil),
	}
	router := makeRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/timeseries/st-missing/pm25", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Error.Code != string(types.ErrCodeNotFoundStation) {
		t.Errorf("unexpected error code %q", resp.Error.Code)
	}
}

// --- Latest ---

func TestHandleLatest_Success(t *testing.T) {
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := &mockServingService{
		latestResult: &serving.StationLatest{
			StationID: "st-a",
			Latest: map[string]types.LatestValue{
				"pm25": {Value: fp(42), TS: ts},
				"aqi":  {Value: fp(42), TS: ts},
			},
		},
	}
	router := makeRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/latest/st-a", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.latestStationID != "st-a" {
		t.Errorf("expected station st-a to be requested, got %q", svc.latestStationID)
	}

	var body serving.StationLatest
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.StationID != "st-a" {
		t.Errorf("unexpected station id %q", body.StationID)
	}
	if got := body.Latest["pm25"]; got.Value == nil || *got.Value != 42 {
		t.Errorf("unexpected pm25 entry %+v", got)
	}
}

func TestHandleLatest_NoObservations(t *testing.T) {
	svc := &mockServingService{
		latestErr: types.NewAppError(types.ErrCodeNotFoundObservations, "no observations found for station", nil),
	}
	router := makeRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/latest/st-empty", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Error.Code != string(types.ErrCodeNotFoundObservations) {
		t.Errorf("unexpected error code %q", resp.Error.Code)
	}
}

// --- Heatmap ---

func TestHandleHeatmap_Defaults(t *testing.T) {
	svc := &mockServingService{
		heatmapResult: &serving.Heatmap{Param: "pm25"},
	}
	router := makeRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/heatmap", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.heatmapParam != types.ParamPM25 {
		t.Errorf("expected default param pm25, got %q", svc.heatmapParam)
	}
	if svc.heatmapGridSize != serving.DefaultGridSize {
		t.Errorf("expected default grid size %d, got %d", serving.DefaultGridSize, svc.heatmapGridSize)
	}
}

func TestHandleHeatmap_InsufficientData(t *testing.T) {
	svc := &mockServingService{
		heatmapErr: types.NewAppError(types.ErrCodeInsufficientData, "not enough stations", nil),
	}
	router := makeRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/heatmap?param=pm25&grid_size=50", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestHandleHeatmap_NonIntegerGridSize(t *testing.T) {
	router := makeRouter(&mockServingService{})

	req := httptest.NewRequest(http.MethodGet, "/heatmap?grid_size=huge", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Error.Code != string(types.ErrCodeValidationInvalidGridSize) {
		t.Errorf("unexpected error code %q", resp.Error.Code)
	}
}

// --- Health risk ---

func TestHandleHealthRisk_Tiers(t *testing.T) {
	router := makeRouter(&mockServingService{})

	cases := []struct {
		pm25 string
		want types.RiskCategory
	}{
		{"10", types.RiskGood},
		{"15.4", types.RiskGood},
		{"60", types.RiskModerate},
		{"150.4", types.RiskUnhealthy},
		{"200", types.RiskHazardous},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/health-risk/"+tc.pm25, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("pm25=%s: expected 200, got %d", tc.pm25, rec.Code)
			continue
		}
		var risk serving.HealthRisk
		if err := json.NewDecoder(rec.Body).Decode(&risk); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if risk.Category != tc.want {
			t.Errorf("pm25=%s: expected %s, got %s", tc.pm25, tc.want, risk.Category)
		}
		if risk.Recommendation == "" {
			t.Errorf("pm25=%s: empty recommendation", tc.pm25)
		}
	}
}

func TestHandleHealthRisk_InvalidValue(t *testing.T) {
	router := makeRouter(&mockServingService{})

	for _, pm25 := range []string{"banana", "-1", "NaN", "Inf"} {
		req := httptest.NewRequest(http.MethodGet, "/health-risk/"+pm25, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("pm25=%s: expected 400, got %d", pm25, rec.Code)
		}
	}
}
