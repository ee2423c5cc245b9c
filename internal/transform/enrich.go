package transform

import (
	"math"

	"airsense/internal/types"
)

// Enrich fills absent enrichable pollutant values from the reading's daily
// forecast block. A value is filled only when the pollutant is missing or
// nil in the current params and the forecast carries an entry whose day
// string exactly matches the reading's calendar day. Filled values are
// marked as derived; measured values are never overwritten.
func Enrich(r *types.RawReading) {
	if r == nil || len(r.Forecast) == 0 {
		return
	}
	day := r.TS.Format("2006-01-02")
	if r.Params == nil {
		r.Params = make(map[string]types.PollutantValue)
	}
	for _, param := range types.EnrichableParams {
		if existing, ok := r.Params[param]; ok && existing.Value != nil {
			continue
		}
		days, ok := r.Forecast[param]
		if !ok {
			continue
		}
		for _, fd := range days {
			if fd.Day != day {
				continue
			}
			if math.IsNaN(fd.Avg) || math.IsInf(fd.Avg, 0) {
				break
			}
			avg := fd.Avg
			r.Params[param] = types.PollutantValue{Value: &avg, Derived: true}
			break
		}
	}
}
