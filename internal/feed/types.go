package feed

import (
	"encoding/json"

	"airsense/internal/types"
)

// envelope is the feed's top-level response shape. Status is "ok" on
// success; anything else means the payload carries no usable reading.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// feedData is the per-station payload under a successful envelope. AQI is a
// RawMessage because the feed emits either a number or the placeholder "-".
type feedData struct {
	AQI         json.RawMessage         `json:"aqi"`
	IDx         int64                   `json:"idx"`
	Dominentpol string                  `json:"dominentpol"`
	IAQI        map[string]pollutantRef `json:"iaqi"`
	Time        feedTime                `json:"time"`
	City        feedCity                `json:"city"`
	Forecast    feedForecast            `json:"forecast"`
}

type pollutantRef struct {
	V *float64 `json:"v"`
}

type feedTime struct {
	ISO string `json:"iso"`
	S   string `json:"s"`
}

type feedCity struct {
	Name string    `json:"name"`
	Geo  []float64 `json:"geo"`
}

type feedForecast struct {
	Daily map[string][]types.ForecastDay `json:"daily"`
}

// FailureReason classifies why a station fetch produced no reading.
type FailureReason string

const (
	ReasonTimeout     FailureReason = "timeout"
	ReasonNotFound    FailureReason = "not_found"
	ReasonMalformed   FailureReason = "malformed_response"
	ReasonUnavailable FailureReason = "unavailable"
	ReasonRateLimited FailureReason = "rate_limited"
)

// Failure carries the classified reason and the underlying error for a
// failed fetch.
type Failure struct {
	Reason FailureReason
	Err    error
}

// FetchResult is the outcome of one station fetch: exactly one of Reading
// or Failure is set.
type FetchResult struct {
	Reading *types.RawReading
	Failure *Failure
}

// Ok reports whether the fetch produced a usable reading.
func (r FetchResult) Ok() bool {
	return r.Reading != nil
}

func failed(reason FailureReason, err error) FetchResult {
	return FetchResult{Failure: &Failure{Reason: reason, Err: err}}
}
