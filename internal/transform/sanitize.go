// Package transform provides the pure, stateless stages applied to raw feed
// readings before storage: value sanitization, forecast-based enrichment, and
// risk-category classification. None of the stages touch I/O or shared state.
package transform

import (
	"math"

	"airsense/internal/types"
)

// Sanitize recursively walks a decoded JSON value structure and replaces
// every non-finite floating-point number (NaN, +Inf, -Inf) with nil. All
// other values pass through unchanged. Maps and slices are rewritten in
// place-equivalent copies; the input is not mutated.
func Sanitize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = Sanitize(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Sanitize(elem)
		}
		return out
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	case float32:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return val
	default:
		return v
	}
}

// SanitizeValue nils out a non-finite float pointer. Finite values and nil
// pass through unchanged.
func SanitizeValue(v *float64) *float64 {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}

// SanitizeReading applies the non-finite rule to every pollutant value and
// the overall index of a reading. Non-finite values become absent (nil),
// never propagated downstream as numerics.
func SanitizeReading(r *types.RawReading) {
	if r == nil {
		return
	}
	for param, pv := range r.Params {
		pv.Value = SanitizeValue(pv.Value)
		r.Params[param] = pv
	}
	r.AQI = SanitizeValue(r.AQI)
}
