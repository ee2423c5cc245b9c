package serving

import (
	"airsense/internal/types"
)

// Heatmap is an interpolated grid of pollutant values over the envelope of
// the sampled stations. Values is indexed [lat][lon], matching LatAxis and
// LonAxis element for element.
type Heatmap struct {
	Param   string      `json:"param"`
	LonAxis []float64   `json:"lon_axis"`
	LatAxis []float64   `json:"lat_axis"`
	Values  [][]float64 `json:"values"`
}

// Grid size bounds for heatmap requests.
const (
	MinGridSize     = 2
	MaxGridSize     = 300
	DefaultGridSize = 50
)

// exactHitEps is the squared-degree distance under which a grid node is
// considered coincident with a station and takes its value directly.
const exactHitEps = 1e-12

// linspace returns n evenly spaced values spanning [min, max] inclusive.
// With collocated endpoints every element is min.
func linspace(min, max float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = min
		return out
	}
	step := (max - min) / float64(n-1)
	for i := range out {
		out[i] = min + float64(i)*step
	}
	out[n-1] = max
	return out
}

// interpolate builds a gridSize x gridSize heatmap over the exact bounding
// envelope of the sample points using inverse-distance weighting (power 2).
// Every interpolated value is a convex combination of the samples, so the
// output is bounded by the sample minimum and maximum. The caller guarantees
// at least two points.
func interpolate(param string, points []types.StationValue, gridSize int) *Heatmap {
	lonMin, lonMax := points[0].Lon, points[0].Lon
	latMin, latMax := points[0].Lat, points[0].Lat
	for _, p := range points[1:] {
		if p.Lon < lonMin {
			lonMin = p.Lon
		}
		if p.Lon > lonMax {
			lonMax = p.Lon
		}
		if p.Lat < latMin {
			latMin = p.Lat
		}
		if p.Lat > latMax {
			latMax = p.Lat
		}
	}

	lonAxis := linspace(lonMin, lonMax, gridSize)
	latAxis := linspace(latMin, latMax, gridSize)

	values := make([][]float64, gridSize)
	for i, lat := range latAxis {
		row := make([]float64, gridSize)
		for j, lon := range lonAxis {
			row[j] = idw(points, lon, lat)
		}
		values[i] = row
	}

	return &Heatmap{
		Param:   param,
		LonAxis: lonAxis,
		LatAxis: latAxis,
		Values:  values,
	}
}

// idw computes the inverse-distance-weighted (power 2) value at one node.
func idw(points []types.StationValue, lon, lat float64) float64 {
	var weightSum, valueSum float64
	for _, p := range points {
		dx := lon - p.Lon
		dy := lat - p.Lat
		d2 := dx*dx + dy*dy
		if d2 < exactHitEps {
			return p.Value
		}
		w := 1.0 / d2
		weightSum += w
		valueSum += w * p.Value
	}
	return valueSum / weightSum
}
