package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/nerrad567/hub-companion/internal/infrastructure/config"
	"github.com/nerrad567/hub-companion/internal/infrastructure/metrics"
)

// maxResponseBytes caps REST response bodies.
const maxResponseBytes = 16 << 20

// Endpoint resolves the REST base URL and bearer token at call time.
type Endpoint func(ctx context.Context) (baseURL, token string, err error)

// HistoryState is one entry of a history series.
type HistoryState struct {
	EntityID    string    `json:"entity_id"`
	State       string    `json:"state"`
	LastChanged time.Time `json:"last_changed"`
}

// RESTClient calls the hub's REST surface. Requests pass through a circuit
// breaker; idempotent GETs are retried with exponential backoff and 4xx
// answers are never retried.
//
// Thread Safety: Safe for concurrent use.
type RESTClient struct {
	http     *http.Client
	endpoint Endpoint
	breaker  *gobreaker.CircuitBreaker
	retries  int
	logger   Logger
}

// NewRESTClient creates a REST client.
//
// Parameters:
//   - httpClient: Transport; http.DefaultClient when nil
//   - cfg: Retry and breaker settings
//   - endpoint: Resolves base URL and token per call
//   - logger: Optional; nil disables logging
func NewRESTClient(httpClient *http.Client, cfg config.HubRESTConfig, endpoint Endpoint, logger Logger) *RESTClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = noopLogger{}
	}

	failures := cfg.BreakerFailures
	if failures <= 0 {
		failures = 5
	}

	return &RESTClient{
		http:     httpClient,
		endpoint: endpoint,
		retries:  cfg.Retries,
		logger:   logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "hub-rest",
			Timeout: time.Duration(cfg.BreakerOpenSeconds) * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(failures) //nolint:gosec // failures is positive
			},
			IsSuccessful: func(err error) bool {
				// Client errors and calls made while offline say nothing
				// about the hub's health.
				if err == nil || errors.Is(err, ErrNotConnected) || errors.Is(err, context.Canceled) {
					return true
				}
				var se *StatusError
				return errors.As(err, &se) && se.Code < http.StatusInternalServerError
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// StatusError is a non-2xx REST answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrRequestFailed, e.Code, e.Body)
}

// Unwrap makes errors.Is(err, ErrRequestFailed) hold, and maps 401/403 to
// ErrInvalidAuth.
func (e *StatusError) Unwrap() []error {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return []error{ErrRequestFailed, ErrInvalidAuth}
	}
	return []error{ErrRequestFailed}
}

// Get fetches path and decodes the JSON answer into out (if non-nil).
func (c *RESTClient) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out, true)
}

// Post sends body as JSON and decodes the answer into out (if non-nil).
func (c *RESTClient) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out, false)
}

// Delete issues a DELETE request.
func (c *RESTClient) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, false)
}

// History returns the state history of entityID between start and end.
//
// Returns:
//   - [][]HistoryState: One series per entity, oldest first
//   - error: If the hub is unreachable or answers non-2xx
func (c *RESTClient) History(ctx context.Context, entityID string, start, end time.Time) ([][]HistoryState, error) {
	q := url.Values{}
	q.Set("filter_entity_id", entityID)
	q.Set("end_time", end.UTC().Format(time.RFC3339))
	q.Set("minimal_response", "")
	q.Set("no_attributes", "")

	path := "/history/period/" + url.PathEscape(start.UTC().Format(time.RFC3339)) + "?" + q.Encode()

	var series [][]HistoryState
	if err := c.Get(ctx, path, &series); err != nil {
		return nil, err
	}
	return series, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out any, idempotent bool) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	attempt := func() error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.send(ctx, method, path, payload, out)
		})
		if err == nil {
			return nil
		}

		var se *StatusError
		if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if errors.Is(err, ErrNotConnected) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	retries := 0
	if idempotent && c.retries > 0 {
		retries = c.retries
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx)) //nolint:gosec // retries is non-negative

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		c.logger.Debug("hub REST call failed", "method", method, "path", redactQuery(path), "error", err)
	}
	metrics.IncHubREST(result)
	return err
}

func (c *RESTClient) send(ctx context.Context, method, path string, payload []byte, out any) error {
	base, token, err := c.endpoint(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(base, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, redactQuery(path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func redactQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
