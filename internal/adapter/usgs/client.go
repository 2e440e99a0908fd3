// Package usgs fetches the USGS GeoJSON summary feeds and maps features
// into the domain's raw record shape. Transient upstream failures are
// retried; a run of consecutive failures opens a circuit breaker so
// scheduled ticks fail fast until the feed recovers.
package usgs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/observability"
)

// Source identifies this provider on every record it produces.
const Source = "USGS"

// feedResponse mirrors the subset of the GeoJSON summary format we consume.
// Magnitude and time are pointers: USGS omits them for unreviewed events.
type feedResponse struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID         string `json:"id"`
	Properties struct {
		Mag     *float64 `json:"mag"`
		Time    *int64   `json:"time"` // epoch milliseconds
		Place   string   `json:"place"`
		Title   string   `json:"title"`
		MagType string   `json:"magType"`
	} `json:"properties"`
	Geometry struct {
		Coordinates []float64 `json:"coordinates"` // [lon, lat, depth]
	} `json:"geometry"`
}

type Client struct {
	httpClient *retryablehttp.Client
	breaker    *gobreaker.CircuitBreaker
	baseURL    string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient builds a feed client. baseURL points at the summary feed root,
// without a trailing slash.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "usgs-feed",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("feed circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		httpClient: rc,
		breaker:    breaker,
		baseURL:    baseURL,
		logger:     logger,
		metrics:    metrics,
	}
}

// Fetch retrieves one feed window, e.g. period "hour" with minMagnitude
// "2.5" resolves to <base>/2.5_hour.geojson. Features without an id or with
// malformed geometry are quarantined and counted, not fatal; semantic
// validation of the surviving records is the ingestion use case's job.
func (c *Client) Fetch(ctx context.Context, period, minMagnitude string) ([]domain.RawRecord, error) {
	url := fmt.Sprintf("%s/%s_%s.geojson", c.baseURL, minMagnitude, period)
	start := time.Now()

	body, err := c.breaker.Execute(func() (any, error) {
		return c.get(ctx, url)
	})
	c.metrics.FeedRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.FeedRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	c.metrics.FeedRequests.WithLabelValues("success").Inc()

	var feed feedResponse
	if err := json.Unmarshal(body.([]byte), &feed); err != nil {
		return nil, fmt.Errorf("decode feed %s: %w", url, err)
	}

	records := make([]domain.RawRecord, 0, len(feed.Features))
	for _, f := range feed.Features {
		if f.ID == "" || len(f.Geometry.Coordinates) < 3 {
			c.metrics.FeedParseErrors.Inc()
			c.logger.Warn("quarantining malformed feed feature", "id", f.ID, "url", url)
			continue
		}
		records = append(records, mapFeature(f))
	}

	c.logger.Info("feed fetched", "url", url, "features", len(feed.Features), "records", len(records))
	return records, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}
	return body, nil
}

func mapFeature(f feature) domain.RawRecord {
	r := domain.RawRecord{
		ExternalID: f.ID,
		Magnitude:  f.Properties.Mag,
		Scale:      f.Properties.MagType,
		Longitude:  f.Geometry.Coordinates[0],
		Latitude:   f.Geometry.Coordinates[1],
		Depth:      f.Geometry.Coordinates[2],
		Source:     Source,
		Title:      f.Properties.Title,
	}
	if r.Title == "" {
		r.Title = f.Properties.Place
	}
	if f.Properties.Time != nil {
		r.OccurredAt = time.UnixMilli(*f.Properties.Time).UTC()
	}
	return r
}
