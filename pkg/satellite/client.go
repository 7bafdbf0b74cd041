// Package satellite provides a client for the gridded covariate field
// service used as an external-drift predictor. The provider is a black
// box: given a bbox and a date it returns a field of {lat, lon, value}
// samples. Every failure mode degrades estimation instead of failing it.
package satellite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/plume-labs/plume/internal/model"
	"github.com/plume-labs/plume/internal/resilience"
)

// Client fetches covariate fields. It satisfies interp.CovariateProvider.
type Client interface {
	FieldForBBox(ctx context.Context, bbox model.BBox, date string) (*model.CovariateField, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default request rate limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry overrides the default retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// New creates a covariate field client.
func New(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	return c
}

type fieldResponse struct {
	Samples []model.CovariateSample `json:"samples"`
}

// FieldForBBox fetches the covariate field for a bbox and ISO date.
// Transient upstream failures are retried; persistent ones are wrapped as
// UpstreamError so callers degrade to covariate-free estimation.
func (c *httpClient) FieldForBBox(ctx context.Context, bbox model.BBox, date string) (*model.CovariateField, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "satellite: rate limit wait")
	}

	// The client is shared across concurrent requests; the retry config is
	// copied so the per-call logger never touches shared state.
	retry := c.retry
	retry.OnRetry = resilience.RetryLogger("satellite", "field")
	field, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*model.CovariateField, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*model.CovariateField, error) {
			return c.fetch(ctx, bbox, date)
		})
	})
	if err != nil {
		return nil, &model.UpstreamError{Upstream: "satellite", Err: err}
	}
	return field, nil
}

func (c *httpClient) fetch(ctx context.Context, bbox model.BBox, date string) (*model.CovariateField, error) {
	url := fmt.Sprintf("%s/v1/field?west=%.4f&south=%.4f&east=%.4f&north=%.4f&date=%s",
		c.baseURL, bbox.West, bbox.South, bbox.East, bbox.North, date)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "satellite: build request")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "satellite: request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := eris.Errorf("satellite: status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var fr fieldResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, eris.Wrap(err, "satellite: decode response")
	}
	return &model.CovariateField{Samples: fr.Samples}, nil
}
