// Package handlers contains the HTTP handler implementations for the
// AirSense API: the GeoJSON station feed, per-station latest observations,
// observation time series, the interpolated heatmap, and the health-risk
// classifier.
package handlers

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"airsense/internal/core"
	"airsense/internal/db"
	"airsense/internal/serving"
	"airsense/internal/types"
)

// ServingService defines the service contract for the air-quality handler.
// Matches the serving.Service surface but is defined locally to avoid tight
// coupling per the handler injection pattern.
type ServingService interface {
	StationsFeed(ctx context.Context, bbox *types.BBox, forceRefresh bool) (*serving.FeatureCollection, error)
	StationLatest(ctx context.Context, stationID string) (*serving.StationLatest, error)
	TimeSeries(ctx context.Context, stationID, param string, q db.TimeSeriesQuery) ([]types.TimeSeriesPoint, error)
	Heatmap(ctx context.Context, param string, gridSize int) (*serving.Heatmap, error)
	ClassifyHealthRisk(pm25 float64) serving.HealthRisk
}

// AirHandler maps HTTP requests to serving service methods.
type AirHandler struct {
	service ServingService
	logger  *slog.Logger
}

// NewAirHandler creates a new AirHandler with the provided dependencies.
func NewAirHandler(svc ServingService, logger *slog.Logger) *AirHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AirHandler{service: svc, logger: logger}
}

// RegisterRoutes mounts the air-quality endpoints onto the mux.
func (h *AirHandler) RegisterRoutes(r chi.Router) {
	r.Get("/stations.geojson", h.HandleStations)
	r.Get("/latest/{stationID}", h.HandleLatest)
	r.Get("/timeseries/{stationID}/{param}", h.HandleTimeSeries)
	r.Get("/heatmap", h.HandleHeatmap)
	r.Get("/health-risk/{pm25}", h.HandleHealthRisk)
}

// timeSeriesResponse is the JSON body for the time series endpoint.
type timeSeriesResponse struct {
	StationID string                  `json:"station_id"`
	Param     string                  `json:"param"`
	Points    []types.TimeSeriesPoint `json:"points"`
}

// HandleStations handles GET /stations.geojson.
//
// Query parameters:
//   - lat_min, lon_min, lat_max, lon_max: optional bounding box. Either all
//     four are present or none.
//   - force_refresh: optional bool; bypasses the cache read path.
func (h *AirHandler) HandleStations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	bbox, err := parseBBox(q.Get("lat_min"), q.Get("lon_min"), q.Get("lat_max"), q.Get("lon_max"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	forceRefresh := false
	if v := q.Get("force_refresh"); v != "" {
		forceRefresh, err = strconv.ParseBool(v)
		if err != nil {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"force_refresh must be a boolean",
				nil,
			))
			return
		}
	}

	fc, err := h.service.StationsFeed(r.Context(), bbox, forceRefresh)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.GeoJSON(w, r, http.StatusOK, fc)
}

// HandleLatest handles GET /latest/{stationID}. Returns the freshest
// observation per parameter, 404 when the station has none.
func (h *AirHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := h.service.StationLatest(r.Context(), chi.URLParam(r, "stationID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, latest)
}

// HandleTimeSeries handles GET /timeseries/{stationID}/{param}.
//
// Query parameters:
//   - start, end: optional RFC3339 bounds; start must not exceed end.
//   - limit: optional positive integer, clamped server-side.
//   - order: "asc" or "desc" (default).
func (h *AirHandler) HandleTimeSeries(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "stationID")
	param := chi.URLParam(r, "param")
	q := r.URL.Query()

	var query db.TimeSeriesQuery

	if startStr := q.Get("start"); startStr != "" {
		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidTime,
				"start must be an RFC3339 timestamp",
				err,
			))
			return
		}
		query.Start = &start
	}
	if endStr := q.Get("end"); endStr != "" {
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidTime,
				"end must be an RFC3339 timestamp",
				err,
			))
			return
		}
		query.End = &end
	}
	if query.Start != nil && query.End != nil && query.Start.After(*query.End) {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidTime,
			"start must not be after end",
			nil,
		))
		return
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidLimit,
				"limit must be a positive integer",
				nil,
			))
			return
		}
		query.Limit = limit
	}

	switch order := q.Get("order"); order {
	case "", "asc", "desc":
		query.Order = order
	default:
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"order must be asc or desc",
			nil,
		))
		return
	}

	points, err := h.service.TimeSeries(r.Context(), stationID, param, query)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if points == nil {
		points = []types.TimeSeriesPoint{}
	}
	core.JSON(w, r, http.StatusOK, timeSeriesResponse{
		StationID: stationID,
		Param:     param,
		Points:    points,
	})
}

// HandleHeatmap handles GET /heatmap.
//
// Query parameters:
//   - param: pollutant to interpolate (default pm25).
//   - grid_size: grid resolution per axis (default 50).
func (h *AirHandler) HandleHeatmap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	param := q.Get("param")
	if param == "" {
		param = types.ParamPM25
	}

	gridSize := serving.DefaultGridSize
	if gsStr := q.Get("grid_size"); gsStr != "" {
		gs, err := strconv.Atoi(gsStr)
		if err != nil {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidGridSize,
				"grid_size must be an integer",
				nil,
			))
			return
		}
		gridSize = gs
	}

	hm, err := h.service.Heatmap(r.Context(), param, gridSize)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, hm)
}

// HandleHealthRisk handles GET /health-risk/{pm25}.
func (h *AirHandler) HandleHealthRisk(w http.ResponseWriter, r *http.Request) {
	pm25Str := chi.URLParam(r, "pm25")
	pm25, err := strconv.ParseFloat(pm25Str, 64)
	if err != nil || math.IsNaN(pm25) || math.IsInf(pm25, 0) || pm25 < 0 {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidParam,
			"pm25 must be a non-negative number",
			nil,
		))
		return
	}
	core.JSON(w, r, http.StatusOK, h.service.ClassifyHealthRisk(pm25))
}

// parseBBox validates the all-or-nothing bounding box query parameters.
func parseBBox(latMin, lonMin, latMax, lonMax string) (*types.BBox, error) {
	provided := 0
	for _, v := range []string{latMin, lonMin, latMax, lonMax} {
		if v != "" {
			provided++
		}
	}
	if provided == 0 {
		return nil, nil
	}
	if provided != 4 {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidBBox,
			"bounding box requires all of lat_min, lon_min, lat_max, lon_max",
			nil,
		)
	}

	parse := func(s string, code types.ErrorCode, name string) (float64, error) {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, types.NewAppError(code, name+" must be a valid number", nil)
		}
		return v, nil
	}

	var bbox types.BBox
	var err error
	if bbox.LatMin, err = parse(latMin, types.ErrCodeValidationInvalidLat, "lat_min"); err != nil {
		return nil, err
	}
	if bbox.LonMin, err = parse(lonMin, types.ErrCodeValidationInvalidLon, "lon_min"); err != nil {
		return nil, err
	}
	if bbox.LatMax, err = parse(latMax, types.ErrCodeValidationInvalidLat, "lat_max"); err != nil {
		return nil, err
	}
	if bbox.LonMax, err = parse(lonMax, types.ErrCodeValidationInvalidLon, "lon_max"); err != nil {
		return nil, err
	}

	if !bbox.Valid() {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidBBox,
			"bounding box is malformed: min must not exceed max and coordinates must be within WGS84 bounds",
			nil,
		)
	}
	return &bbox, nil
}
