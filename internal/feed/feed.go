package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"airsense/internal/config"
	"airsense/internal/types"
)

// maxResponseBytes caps the feed response body read. Station payloads are a
// few KB; anything past this is a broken upstream.
const maxResponseBytes = 1 << 20

// Fetcher is the interface the ingestion runner depends on.
type Fetcher interface {
	FetchStation(ctx context.Context, st *types.Station) FetchResult
}

// Client speaks the external feed's wire protocol on top of BaseClient.
type Client struct {
	base         *BaseClient
	baseURL      string
	token        types.SecretString
	fetchTimeout time.Duration
}

// NewClient builds a feed client from configuration.
func NewClient(cfg config.FeedConfig, opts ...BaseClientOption) *Client {
	policy := RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		MinWait:    cfg.RetryMinWait,
		MaxWait:    10 * time.Second,
	}
	if policy.MaxRetries <= 0 {
		policy = DefaultRetryPolicy()
	}
	base := NewBaseClient(
		&http.Client{Timeout: cfg.FetchTimeout},
		"feed",
		policy,
		cfg.UserAgent,
		opts...,
	)
	return &Client{
		base:         base,
		baseURL:      cfg.BaseURL,
		token:        cfg.Token,
		fetchTimeout: cfg.FetchTimeout,
	}
}

// FetchStation retrieves the current reading for one station. The primary
// lookup is by feed UID; when the station has no UID, or the UID lookup
// fails for any reason once its retry budget is spent, a single
// coordinate-based fallback lookup is issued before the station is reported
// as failed. The reported failure reflects the fallback attempt.
func (c *Client) FetchStation(ctx context.Context, st *types.Station) FetchResult {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	if st.FeedUID != 0 {
		reading, err := c.fetch(ctx, fmt.Sprintf("%s/feed/@%d/", c.baseURL, st.FeedUID), st)
		if err == nil {
			return FetchResult{Reading: reading}
		}
	}

	geoURL := fmt.Sprintf("%s/feed/geo:%s;%s/", c.baseURL,
		strconv.FormatFloat(st.Location.Lat, 'f', -1, 64),
		strconv.FormatFloat(st.Location.Lon, 'f', -1, 64),
	)
	reading, err := c.fetch(ctx, geoURL, st)
	if err != nil {
		return failed(classify(err), err)
	}
	return FetchResult{Reading: reading}
}

// feedStatusError marks a well-formed response whose envelope status was not
// "ok", which classifies as not_found rather than an outage.
type feedStatusError struct {
	status string
}

func (e *feedStatusError) Error() string {
	return fmt.Sprintf("feed answered with status %q", e.status)
}

func (c *Client) fetch(ctx context.Context, url string, st *types.Station) (*types.RawReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"?token="+c.token.Unmask(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build feed request", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(types.ErrCodeUpstreamFeedUnavailable,
			fmt.Sprintf("feed returned %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamFeedUnavailable, "failed to read feed response", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamFeedMalformed, "feed response is not valid JSON", err)
	}
	if env.Status != "ok" {
		return nil, &feedStatusError{status: env.Status}
	}

	var data feedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamFeedMalformed, "feed data block is malformed", err)
	}

	ts, err := time.Parse(time.RFC3339, data.Time.ISO)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamFeedMalformed,
			"feed reading carries no parseable timestamp", err)
	}

	reading := &types.RawReading{
		StationID:     st.ID,
		FeedUID:       data.IDx,
		Name:          data.City.Name,
		City:          extractCity(data.City.Name),
		TS:            ts,
		AQI:           parseAQI(data.AQI),
		DominantParam: data.Dominentpol,
		Params:        make(map[string]types.PollutantValue, len(data.IAQI)),
		Forecast:      data.Forecast.Daily,
		Raw:           env.Data,
	}
	for param, ref := range data.IAQI {
		reading.Params[param] = types.PollutantValue{Value: ref.V}
	}
	return reading, nil
}

// extractCity pulls the locality out of a feed station name such as
// "Kelapa Gading, Jakarta, Indonesia": the second-to-last comma-separated
// segment, or the whole name when there is only one.
func extractCity(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return parts[0]
}

// parseAQI decodes the overall index field, which the feed emits as either a
// number or a placeholder string such as "-". Anything non-numeric is absent.
func parseAQI(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return &v
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	}
	return nil
}

// classify maps a fetch error onto the failure taxonomy used in run reports.
func classify(err error) FailureReason {
	var statusErr *feedStatusError
	if errors.As(err, &statusErr) {
		return ReasonNotFound
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeUpstreamFeedTimeout:
			return ReasonTimeout
		case types.ErrCodeUpstreamFeedMalformed:
			return ReasonMalformed
		case types.ErrCodeUpstreamRateLimited:
			return ReasonRateLimited
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonUnavailable
}
