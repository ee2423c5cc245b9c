// Package types defines the shared domain model for the air-quality platform:
// stations, observations, pollutant snapshots, and the error taxonomy used
// across the ingestion and serving paths.
package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Pollutant parameter names as used by the external feed and the observation
// log. The overall air-quality index is recorded as the synthetic parameter
// ParamAQI; the dominant pollutant marker as ParamDominant.
const (
	ParamPM25 = "pm25"
	ParamPM10 = "pm10"
	ParamO3   = "o3"
	ParamUVI  = "uvi"

	ParamAQI      = "aqi"
	ParamDominant = "dominentpol"
)

// EnrichableParams lists the pollutants that may be backfilled from the
// feed's daily forecast series when absent from the current-period reading.
var EnrichableParams = []string{ParamPM25, ParamPM10, ParamO3, ParamUVI}

// Location is a geographic point in WGS84.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BBox is a geographic bounding box used to filter station queries.
type BBox struct {
	LatMin float64
	LonMin float64
	LatMax float64
	LonMax float64
}

// Valid reports whether the box is well-formed (min <= max on both axes and
// coordinates within WGS84 bounds).
func (b BBox) Valid() bool {
	if b.LatMin > b.LatMax || b.LonMin > b.LonMax {
		return false
	}
	return b.LatMin >= -90 && b.LatMax <= 90 && b.LonMin >= -180 && b.LonMax <= 180
}

// PollutantValue is a single pollutant entry in a station's latest-state
// snapshot. Value is nil when the source reported a non-finite or missing
// number. Derived marks values backfilled from the forecast series.
type PollutantValue struct {
	Value   *float64 `json:"v"`
	Unit    string   `json:"u,omitempty"`
	Derived bool     `json:"derived,omitempty"`
}

// Snapshot is the denormalized latest-state mapping pollutant -> value stored
// on the station row. It is rewritten by the ingestion write path after every
// successful cycle; it is never computed at read time.
type Snapshot map[string]PollutantValue

// Scan implements sql.Scanner for reading the JSONB snapshot column.
func (s *Snapshot) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	return scanJSONB(s, value)
}

// Value implements driver.Valuer for writing the snapshot as JSONB.
func (s Snapshot) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Compile-time interface assertions for JSONB round-tripping.
var (
	_ sql.Scanner   = (*Snapshot)(nil)
	_ driver.Valuer = Snapshot(nil)
)

// Station is a fixed monitoring location. Identity is the externally assigned
// StationID; FeedUID is the numeric key the external feed uses for per-station
// lookups. LatestParams/LastUpdate form the denormalized latest-state
// projection maintained by the write path.
type Station struct {
	ID           string     `json:"station_id"`
	FeedUID      int64      `json:"feed_uid,omitempty"`
	Name         string     `json:"name"`
	City         string     `json:"city"`
	Location     Location   `json:"location"`
	LatestParams Snapshot   `json:"latest_params,omitempty"`
	LastUpdate   *time.Time `json:"last_update,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Observation is one immutable (station, timestamp, pollutant) measurement.
// The triple is globally unique; conflicting inserts are dropped, never
// overwritten. Raw retains the source payload for audit.
type Observation struct {
	StationID string          `json:"station_id"`
	TS        time.Time       `json:"ts"`
	Param     string          `json:"param"`
	Value     *float64        `json:"value"`
	Unit      string          `json:"unit,omitempty"`
	Raw       json.RawMessage `json:"-"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

// TimeSeriesPoint is one element of a historical series for a station+param.
type TimeSeriesPoint struct {
	TS    time.Time `json:"ts"`
	Value *float64  `json:"value"`
	Unit  string    `json:"unit,omitempty"`
}

// LatestValue is the freshest observation of one parameter at a station.
// Value is null when the recorded observation carried no usable number.
type LatestValue struct {
	Value *float64  `json:"value"`
	TS    time.Time `json:"ts"`
}

// StationValue is a station's most recent non-null value for one pollutant,
// with its coordinates. It is the input shape for spatial interpolation.
type StationValue struct {
	StationID string  `json:"station_id"`
	Lon       float64 `json:"lon"`
	Lat       float64 `json:"lat"`
	Value     float64 `json:"value"`
}

// ForecastDay is one per-day entry of the feed's forecast series for a
// pollutant. Day is a calendar-day string (YYYY-MM-DD); matching against the
// reading's own date is by exact string equality.
type ForecastDay struct {
	Day string  `json:"day"`
	Avg float64 `json:"avg"`
	Min float64 `json:"min,omitempty"`
	Max float64 `json:"max,omitempty"`
}

// RawReading is a normalized current reading for one station as returned by
// the feed client, before enrichment. Params carries the per-pollutant values;
// Forecast the optional daily series keyed by pollutant; Raw the opaque source
// payload retained for audit.
type RawReading struct {
	StationID string
	FeedUID   int64
	// Name is the station's display name as reported by the feed; City is
	// the locality extracted from it. Both may be empty.
	Name          string
	City          string
	TS            time.Time
	AQI           *float64
	DominantParam string
	Params        map[string]PollutantValue
	Forecast      map[string][]ForecastDay
	Raw           json.RawMessage
}

// RiskCategory is a discrete health-risk tier derived from PM2.5
// concentration via fixed thresholds.
type RiskCategory string

const (
	RiskGood      RiskCategory = "Good"
	RiskModerate  RiskCategory = "Moderate"
	RiskUnhealthy RiskCategory = "Unhealthy"
	RiskHazardous RiskCategory = "Hazardous"
)

// scanJSONB scans a JSONB database value into a Go pointer. It handles nil
// values, []byte, and string representations from different drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}
