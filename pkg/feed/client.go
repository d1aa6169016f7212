package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Fetcher retrieves a raw document from the upstream feed
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// UpstreamFetchError is returned for network errors, timeouts and non-200
// responses
type UpstreamFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *UpstreamFetchError) Unwrap() error {
	return e.Err
}

// RestyFetcher is the HTTP Fetcher
type RestyFetcher struct {
	client *resty.Client
}

// NewRestyFetcher creates a fetcher whose requests are bounded by timeout
func NewRestyFetcher(timeout time.Duration, userAgent string) *RestyFetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)

	return &RestyFetcher{client: client}
}

// Fetch performs a GET and returns the body of a 200 response
func (f *RestyFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, &UpstreamFetchError{URL: url, Err: err}
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, &UpstreamFetchError{URL: url, StatusCode: resp.StatusCode()}
	}

	return resp.Body(), nil
}

// Client reads the snapshot and per-sensor endpoints of the feed
type Client struct {
	fetcher     Fetcher
	snapshotURL string
	sensorURL   string
	logger      *zap.Logger
}

// NewClient creates a feed client. sensorURL is a format string taking the
// external sensor id.
func NewClient(fetcher Fetcher, snapshotURL, sensorURL string, logger *zap.Logger) *Client {
	return &Client{
		fetcher:     fetcher,
		snapshotURL: snapshotURL,
		sensorURL:   sensorURL,
		logger:      logger,
	}
}

// Snapshot fetches the full feed and filters it down to noise candidates
func (c *Client) Snapshot(ctx context.Context) (*Result, error) {
	body, err := c.fetcher.Fetch(ctx, c.snapshotURL)
	if err != nil {
		return nil, err
	}

	result, err := Filter(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Feed snapshot filtered",
		zap.Int("reports", result.Total),
		zap.Int("candidates", len(result.Candidates)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

// SensorHistory fetches the recent reports of one upstream sensor
func (c *Client) SensorHistory(ctx context.Context, externalID int64) ([]byte, error) {
	return c.fetcher.Fetch(ctx, fmt.Sprintf(c.sensorURL, externalID))
}

// Latest returns the newest noise value of one upstream sensor, or nil when
// the sensor reported nothing recently
func (c *Client) Latest(ctx context.Context, externalID int64) (*models.NoiseValue, error) {
	body, err := c.SensorHistory(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return ParseLatest(body)
}
