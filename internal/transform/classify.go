package transform

import "airsense/internal/types"

// ClassifyPM25 maps a PM2.5 concentration (µg/m³) to a risk category.
// Boundaries are inclusive on the upper edge of each tier.
func ClassifyPM25(v float64) types.RiskCategory {
	switch {
	case v <= 15.4:
		return types.RiskGood
	case v <= 55.4:
		return types.RiskModerate
	case v <= 150.4:
		return types.RiskUnhealthy
	default:
		return types.RiskHazardous
	}
}

// Recommendation returns the advisory text for a risk category.
func Recommendation(c types.RiskCategory) string {
	switch c {
	case types.RiskGood:
		return "Air quality is satisfactory. Enjoy your usual outdoor activities."
	case types.RiskModerate:
		return "Unusually sensitive people should consider reducing prolonged or heavy outdoor exertion."
	case types.RiskUnhealthy:
		return "Sensitive groups should avoid prolonged outdoor exertion; everyone else should reduce it."
	default:
		return "Everyone should avoid outdoor exertion and stay indoors with filtered air if possible."
	}
}
