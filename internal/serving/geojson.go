package serving

import (
	"time"

	"airsense/internal/transform"
	"airsense/internal/types"
)

// GeoJSON media type for station feed responses.
const ContentTypeGeoJSON = "application/geo+json"

// FeatureCollection is a GeoJSON FeatureCollection of station features.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is one station rendered as a GeoJSON point feature.
type Feature struct {
	Type       string            `json:"type"`
	Geometry   PointGeometry     `json:"geometry"`
	Properties FeatureProperties `json:"properties"`
}

// PointGeometry is a GeoJSON point in [lon, lat] order.
type PointGeometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// FeatureProperties carries the station identity, its latest pollutant
// snapshot, and the risk tier derived from the snapshot's PM2.5 value.
type FeatureProperties struct {
	StationID  string             `json:"station_id"`
	Name       string             `json:"name"`
	City       string             `json:"city,omitempty"`
	Params     types.Snapshot     `json:"params"`
	LastUpdate *time.Time         `json:"last_update,omitempty"`
	Risk       types.RiskCategory `json:"risk,omitempty"`
}

// BuildFeatureCollection renders stations as GeoJSON. Stations that have
// never completed an ingestion cycle carry no snapshot and are omitted
// rather than rendered empty.
func BuildFeatureCollection(stations []*types.Station) *FeatureCollection {
	fc := &FeatureCollection{
		Type:     "FeatureCollection",
		Features: []Feature{},
	}
	for _, st := range stations {
		if len(st.LatestParams) == 0 {
			continue
		}
		props := FeatureProperties{
			StationID:  st.ID,
			Name:       st.Name,
			City:       st.City,
			Params:     st.LatestParams,
			LastUpdate: st.LastUpdate,
		}
		if pm25 := st.LatestParams[types.ParamPM25]; pm25.Value != nil {
			props.Risk = transform.ClassifyPM25(*pm25.Value)
		}
		fc.Features = append(fc.Features, Feature{
			Type: "Feature",
			Geometry: PointGeometry{
				Type:        "Point",
				Coordinates: [2]float64{st.Location.Lon, st.Location.Lat},
			},
			Properties: props,
		})
	}
	return fc
}
