// Package purpleair pulls current readings for privately registered
// PurpleAir sensors.
package purpleair

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/etlerr"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/metrics"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/models"
)

const (
	// DefaultBaseURL is the multiple-sensors endpoint.
	DefaultBaseURL = "https://api.purpleair.com/v1/sensors"

	// MaxRetries is the number of rate-limit aware attempts before the final call.
	MaxRetries = 5
	// InitialDelay is the wait before the first attempt. It doubles after every 429.
	InitialDelay = 500 * time.Millisecond

	maxErrorBody = 4 << 10
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// StatusError is an HTTP response the extractor gave up on.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %s", e.Status)
	}
	return fmt.Sprintf("unexpected status %s: %s", e.Status, e.Body)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *metrics.Recorder
}

// Client calls the PurpleAir sensors API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.Recorder

	// Sleep is called before every retried attempt. Tests replace it.
	Sleep SleepFunc
}

// NewClient creates a Client. Zero options fall back to the public endpoint,
// a 30s HTTP client and a no-op logger.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		http:    opts.HTTPClient,
		log:     opts.Logger,
		metrics: opts.Metrics,
		Sleep:   sleep,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// Extract fetches fields for every sensor in one request.
//
// Each of the MaxRetries attempts is preceded by a wait that starts at
// InitialDelay and doubles only after a 429. Any other 4xx/5xx fails
// immediately. Transport errors are retried without growing the delay. When
// the budget is spent a final request is made without waiting and its
// result is returned as-is, including a 429.
func (c *Client) Extract(ctx context.Context, sensors map[string]string, fields []string) (models.RawPayload, error) {
	if len(sensors) == 0 {
		return models.RawPayload{}, etlerr.New(etlerr.KindConfig, "no PurpleAir sensors configured")
	}

	endpoint, err := c.requestURL(sensors, fields)
	if err != nil {
		return models.RawPayload{}, etlerr.Wrap(err, etlerr.KindConfig, "build PurpleAir request")
	}

	c.log.Info("fetching PurpleAir data", zap.Int("sensors", len(sensors)), zap.Int("fields", len(fields)))

	delay := InitialDelay
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		if err := c.Sleep(ctx, delay); err != nil {
			return models.RawPayload{}, etlerr.Wrap(err, etlerr.KindExtraction, "wait before PurpleAir request")
		}

		status, body, err := c.get(ctx, endpoint)
		switch {
		case err != nil:
			c.log.Warn("PurpleAir request failed, retrying",
				zap.Int("attempt", attempt), zap.Error(err))
			continue
		case status == http.StatusTooManyRequests:
			c.log.Warn("PurpleAir rate limit hit, backing off",
				zap.Int("attempt", attempt), zap.Duration("delay", delay))
			delay *= 2
			continue
		case status >= 400:
			return models.RawPayload{}, c.statusError(status, body)
		}
		return c.parse(body)
	}

	c.log.Warn("PurpleAir retries exhausted, making final attempt", zap.Int("retries", MaxRetries))
	status, body, err := c.get(ctx, endpoint)
	if err != nil {
		return models.RawPayload{}, etlerr.Wrap(err, etlerr.KindExtraction, "PurpleAir request")
	}
	if status >= 400 {
		return models.RawPayload{}, c.statusError(status, body)
	}
	return c.parse(body)
}

// requestURL builds the query with sensor ids sorted so show_only and
// read_keys stay positionally aligned.
func (c *Client) requestURL(sensors map[string]string, fields []string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	ids := make([]string, 0, len(sensors))
	for id := range sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, sensors[id])
	}

	q := u.Query()
	q.Set("show_only", strings.Join(ids, ","))
	q.Set("read_keys", strings.Join(keys, ","))
	q.Set("fields", strings.Join(fields, ","))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, endpoint string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.APIRequest(0)
		return 0, nil, fmt.Errorf("request sensors: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.APIRequest(resp.StatusCode)

	var reader io.Reader = resp.Body
	if resp.StatusCode >= 400 {
		reader = io.LimitReader(resp.Body, maxErrorBody)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) statusError(status int, body []byte) error {
	serr := &StatusError{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:       strings.TrimSpace(string(body)),
	}
	return etlerr.Wrap(serr, etlerr.KindExtraction, "PurpleAir request")
}

func (c *Client) parse(body []byte) (models.RawPayload, error) {
	payload, err := models.ParsePayload(body)
	if err != nil {
		return models.RawPayload{}, etlerr.Wrap(err, etlerr.KindExtraction, "decode PurpleAir response")
	}
	c.log.Info("fetched PurpleAir data", zap.Int("rows", payload.Len()))
	return payload, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
