// Package serving implements the read side of the platform: the cached
// station feed, per-station latest observations, observation time series,
// interpolated heatmaps, and the health-risk classifier.
package serving

import (
	"context"
	"fmt"
	"regexp"

	"airsense/internal/cache"
	"airsense/internal/config"
	"airsense/internal/db"
	"airsense/internal/transform"
	"airsense/internal/types"
)

// StationReader is the registry surface the serving layer reads from.
type StationReader interface {
	List(ctx context.Context, bbox *types.BBox) ([]*types.Station, error)
}

// ObservationReader is the observation-log surface the serving layer reads
// from.
type ObservationReader interface {
	TimeSeries(ctx context.Context, stationID, param string, q db.TimeSeriesQuery) ([]types.TimeSeriesPoint, error)
	LatestByParam(ctx context.Context, param string, bbox *types.BBox) ([]types.StationValue, error)
	LatestByStation(ctx context.Context, stationID string) (map[string]types.LatestValue, error)
}

// paramNamePattern bounds the parameter names accepted by the time-series
// and heatmap endpoints. Any pollutant the ingestion path records is
// servable; the pattern only rejects strings that cannot be a feed
// parameter name.
var paramNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// ValidParam reports whether p is a well-formed parameter name.
func ValidParam(p string) bool {
	return paramNamePattern.MatchString(p)
}

// HealthRisk is the classification response for a PM2.5 concentration.
type HealthRisk struct {
	PM25           float64            `json:"pm25"`
	Category       types.RiskCategory `json:"category"`
	Recommendation string             `json:"recommendation"`
}

// Service exposes the read-side operations. All cacheable reads flow through
// the TTL cache; force-refresh bypasses the read path but still refreshes
// the stored entry.
type Service struct {
	stations     StationReader
	observations ObservationReader
	cache        *cache.Cache
	cfg          config.CacheConfig
}

// NewService wires a serving Service from its dependencies.
func NewService(stations StationReader, observations ObservationReader, c *cache.Cache, cfg config.CacheConfig) *Service {
	return &Service{
		stations:     stations,
		observations: observations,
		cache:        c,
		cfg:          cfg,
	}
}

// StationsFeed returns the GeoJSON station collection, optionally restricted
// to a bounding box. Responses are cached per bbox; forceRefresh recomputes
// and replaces the cached entry.
func (s *Service) StationsFeed(ctx context.Context, bbox *types.BBox, forceRefresh bool) (*FeatureCollection, error) {
	key := stationsKey(bbox)
	compute := func(ctx context.Context) (any, error) {
		stations, err := s.stations.List(ctx, bbox)
		if err != nil {
			return nil, err
		}
		return BuildFeatureCollection(stations), nil
	}

	var (
		v   any
		err error
	)
	if forceRefresh {
		v, err = s.cache.GetOrComputeBypass(ctx, key, s.cfg.StationsTTL, compute)
	} else {
		v, err = s.cache.GetOrCompute(ctx, key, s.cfg.StationsTTL, compute)
	}
	if err != nil {
		return nil, err
	}
	return v.(*FeatureCollection), nil
}

// TimeSeries returns the observation history for one station and parameter.
func (s *Service) TimeSeries(ctx context.Context, stationID, param string, q db.TimeSeriesQuery) ([]types.TimeSeriesPoint, error) {
	if !ValidParam(param) {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidParam,
			fmt.Sprintf("malformed parameter name %q", param), nil)
	}
	return s.observations.TimeSeries(ctx, stationID, param, q)
}

// StationLatest groups the freshest observation of every parameter recorded
// for one station.
type StationLatest struct {
	StationID string                       `json:"station_id"`
	Latest    map[string]types.LatestValue `json:"latest"`
}

// StationLatest returns the most recent observation per parameter for one
// station. A station with no recorded observations is reported as not found.
func (s *Service) StationLatest(ctx context.Context, stationID string) (*StationLatest, error) {
	latest, err := s.observations.LatestByStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if len(latest) == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundObservations,
			"no observations found for station", nil)
	}
	return &StationLatest{StationID: stationID, Latest: latest}, nil
}

// Heatmap interpolates the latest per-station values of param over a
// gridSize x gridSize grid spanning the stations' envelope. Fewer than two
// stations with a current value is reported as insufficient data, not as an
// infrastructure failure.
func (s *Service) Heatmap(ctx context.Context, param string, gridSize int) (*Heatmap, error) {
	if !ValidParam(param) {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidParam,
			fmt.Sprintf("malformed parameter name %q", param), nil)
	}
	if gridSize < MinGridSize || gridSize > MaxGridSize {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidGridSize,
			fmt.Sprintf("grid_size must be between %d and %d", MinGridSize, MaxGridSize), nil)
	}

	key := fmt.Sprintf("heatmap:%s:%d", param, gridSize)
	v, err := s.cache.GetOrCompute(ctx, key, s.cfg.HeatmapTTL, func(ctx context.Context) (any, error) {
		points, err := s.observations.LatestByParam(ctx, param, nil)
		if err != nil {
			return nil, err
		}
		if len(points) < 2 {
			return nil, types.NewAppError(types.ErrCodeInsufficientData,
				"not enough stations with current values to interpolate", nil)
		}
		return interpolate(param, points, gridSize), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Heatmap), nil
}

// ClassifyHealthRisk maps a PM2.5 concentration to its risk tier and
// advisory text.
func (s *Service) ClassifyHealthRisk(pm25 float64) HealthRisk {
	category := transform.ClassifyPM25(pm25)
	return HealthRisk{
		PM25:           pm25,
		Category:       category,
		Recommendation: transform.Recommendation(category),
	}
}

func stationsKey(bbox *types.BBox) string {
	if bbox == nil {
		return "stations:all"
	}
	return fmt.Sprintf("stations:%g:%g:%g:%g", bbox.LatMin, bbox.LonMin, bbox.LatMax, bbox.LonMax)
}
