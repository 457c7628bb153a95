package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/drone/internal/observability"
)

// DefaultAPIURL is the weather.com batched data-access endpoint.
const DefaultAPIURL = "https://weather.com/api/v1/p/redux-dal"

// WeatherClient sends a batch of named queries to the weather backend in one request.
type WeatherClient interface {
	Query(ctx context.Context, queries ...Query) (*Batch, error)
}

var (
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrRejected        = errors.New("request rejected")
	ErrCircuitOpen     = errors.New("circuit open")
)

// Query is one named, parameterized request inside a batch.
type Query struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// The backend rejects requests that do not look like they came from its own site.
var defaultHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/109.0",
	"Accept":          "*/*",
	"Accept-Language": "en-US,en;q=0.5",
	"Content-Type":    "application/json",
	"Origin":          "https://weather.com",
	"Referer":         "https://weather.com/",
}

type DALClient struct {
	apiURL         string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *gobreaker.CircuitBreaker
	logger         *zap.Logger
}

func NewDALClient(apiURL string, timeout time.Duration) (*DALClient, error) {
	return NewDALClientWithRetry(apiURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

func NewDALClientWithRetry(apiURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*DALClient, error) {
	if strings.TrimSpace(apiURL) == "" {
		apiURL = DefaultAPIURL
	}
	if !strings.HasPrefix(apiURL, "http://") && !strings.HasPrefix(apiURL, "https://") {
		return nil, fmt.Errorf("invalid weather API URL %q", apiURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &DALClient{
		apiURL:         apiURL,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		logger:         zap.NewNop(),
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker guards every backend call with cb. Nil disables the breaker.
func (c *DALClient) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	c.breaker = cb
}

// SetLogger sets the logger used for source-absent reports on returned batches.
func (c *DALClient) SetLogger(logger *zap.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// NewCircuitBreaker builds the breaker used in front of the weather backend. It opens
// after failureThreshold consecutive failures and lets a trial request through after openTimeout.
func NewCircuitBreaker(name string, failureThreshold int, openTimeout time.Duration, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		IsSuccessful: func(err error) bool {
			// A rejected request says nothing about backend health.
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.RecordCircuitBreakerTransition(name, from.String(), to.String())
			if logger != nil {
				logger.Warn("circuit breaker state change",
					zap.String("component", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			}
		},
	})
}

type dalResponse struct {
	DAL map[string]map[string]dalResult `json:"dal"`
}

type dalResult struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// Query posts all queries in a single request and returns the per-query results.
// Transport failures and non-2xx HTTP statuses are errors; per-query failures are not.
func (c *DALClient) Query(ctx context.Context, queries ...Query) (*Batch, error) {
	if len(queries) == 0 {
		return nil, errors.New("query: no queries")
	}
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherBackendRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.execute(ctx, queries)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			observability.WeatherBackendErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
			return nil, err
		}
	}

	observability.WeatherBackendErrorsTotal.WithLabelValues(string(CategorizeError(lastErr))).Inc()
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *DALClient) execute(ctx context.Context, queries []Query) (*Batch, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, queries)
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.callAPI(ctx, queries)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*Batch), nil
}

func (c *DALClient) callAPI(ctx context.Context, queries []Query) (*Batch, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, queries)
	if err != nil {
		observability.WeatherBackendCallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	corrID := extractCorrelationID(ctx)
	if corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherBackendCallsTotal.WithLabelValues("error").Inc()
		observability.WeatherBackendDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherBackendCallsTotal.WithLabelValues(status).Inc()
	observability.WeatherBackendDuration.WithLabelValues(status).Observe(duration)

	if err := c.handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return ParseBatch(queries, body, c.logger)
}

// ParseBatch decodes a backend response body for the given queries.
func ParseBatch(queries []Query, body []byte, logger *zap.Logger) (*Batch, error) {
	var parsed dalResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batch{queries: queries, results: parsed.DAL, logger: logger}, nil
}

func (c *DALClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRejected) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *DALClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *DALClient) buildRequest(ctx context.Context, queries []Query) (*http.Request, error) {
	payload, err := json.Marshal(queries)
	if err != nil {
		return nil, fmt.Errorf("encode queries: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range defaultHeaders {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *DALClient) handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrRejected, resp.StatusCode)
	}
}

// Batch holds the per-query results of one backend call.
type Batch struct {
	queries []Query
	results map[string]map[string]dalResult
	logger  *zap.Logger
}

// Decode unmarshals the data for the named query into v. It returns false when the query
// was not part of the batch or its source is absent: a missing key, a non-2xx embedded
// status or undecodable data. Absence is logged, never returned as an error.
func (b *Batch) Decode(name string, v any) bool {
	var query *Query
	for i := range b.queries {
		if b.queries[i].Name == name {
			query = &b.queries[i]
			break
		}
	}
	if query == nil {
		return false
	}

	entries, ok := b.results[name]
	if !ok || len(entries) == 0 {
		observability.WeatherSourcesAbsentTotal.WithLabelValues(name, "missing").Inc()
		b.logger.Error("weather backend response missing query",
			zap.String("query", name),
			zap.Strings("response_keys", b.keys()))
		return false
	}

	// Results are keyed by an opaque parameter hash; a single-query request has one entry.
	inner := make([]string, 0, len(entries))
	for k := range entries {
		inner = append(inner, k)
	}
	sort.Strings(inner)
	result := entries[inner[0]]

	if result.Status/100 != 2 {
		observability.WeatherSourcesAbsentTotal.WithLabelValues(name, "status").Inc()
		b.logger.Error("weather backend query failed",
			zap.String("query", name),
			zap.Any("params", query.Params),
			zap.Int("status", result.Status))
		return false
	}

	if err := json.Unmarshal(result.Data, v); err != nil {
		observability.WeatherSourcesAbsentTotal.WithLabelValues(name, "malformed").Inc()
		b.logger.Error("weather backend query data malformed",
			zap.String("query", name),
			zap.Error(err))
		return false
	}
	return true
}

func (b *Batch) keys() []string {
	out := make([]string, 0, len(b.results))
	for k := range b.results {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func extractCorrelationID(ctx context.Context) string {
	if corrID, ok := ctx.Value(observability.CorrelationIDKey).(string); ok {
		return corrID
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
