package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/fetcharr/fetcharr/internal/logging"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/version"
)

var (
	// ErrRateLimitTimeout means the token bucket could not grant a slot
	// before the acquisition deadline.
	ErrRateLimitTimeout = errors.New("rate limit acquisition timed out")
	// ErrAuth covers 401 and 403; retrying cannot help until keys change.
	ErrAuth = errors.New("provider authentication failed")
	// ErrNotFound is a definitive 404 for the requested entity.
	ErrNotFound = errors.New("not found")
	// ErrBreakerOpen means the provider is failing fast after repeated errors.
	ErrBreakerOpen = errors.New("provider circuit open")
)

const (
	defaultRequestTimeout = 10 * time.Second
	rateAcquireTimeout    = 30 * time.Second
	maxRetries            = 3
	retryBase             = time.Second
	retryCap              = 30 * time.Second
	breakerTrip           = 5
)

// Client is the shared outbound HTTP stack: token bucket, retry with backoff,
// and a circuit breaker, instrumented per provider.
type Client struct {
	provider string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[[]byte]
	log      zerolog.Logger
}

// NewClient builds the client for one provider. rps/burst come from the
// provider capabilities unless overridden in config.
func NewClient(provider string, rps float64, burst int, timeout time.Duration) *Client {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	c := &Client{
		provider: provider,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		log:      logging.WithComponent("provider." + provider),
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name: provider,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrip
		},
		Timeout: 60 * time.Second,
		OnStateChange: func(_ string, from, to gobreaker.State) {
			metrics.ProviderBreakerState.WithLabelValues(provider).Set(breakerStateValue(to))
			c.log.Warn().Stringer("from", from).Stringer("to", to).Msg("provider breaker state change")
		},
	})
	return c
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Get fetches a URL and returns the response body. Transient failures
// (network, 5xx, 429) are retried with exponential backoff, honouring
// Retry-After; auth and not-found errors fail immediately.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.getWithRetry(ctx, url, headers)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrBreakerOpen, c.provider)
	}
	return body, err
}

// GetJSON fetches a URL and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	body, err := c.Get(ctx, url, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.provider, err)
	}
	return nil
}

// PostJSON sends a JSON payload and decodes the response. Used by the TVDB
// token login; POSTs are not retried.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, payload, out any) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	body, err := c.breaker.Execute(func() ([]byte, error) {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.setHeaders(req, headers)
		resp, err := c.http.Do(req)
		if err != nil {
			metrics.ProviderRequests.WithLabelValues(c.provider, "error").Inc()
			return nil, err
		}
		defer resp.Body.Close()
		return c.consume(resp)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrBreakerOpen, c.provider)
	}
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *Client) acquire(ctx context.Context) error {
	if !c.limiter.Allow() {
		metrics.RateLimitWaits.WithLabelValues(c.provider).Inc()
		waitCtx, cancel := context.WithTimeout(ctx, rateAcquireTimeout)
		defer cancel()
		if err := c.limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s", ErrRateLimitTimeout, c.provider)
		}
	}
	return nil
}

func (c *Client) getWithRetry(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			metrics.ProviderRetries.WithLabelValues(c.provider).Inc()
		}
		body, retryAfter, err := c.getOnce(ctx, url, headers)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
		if attempt == maxRetries {
			break
		}
		delay := backoff(attempt)
		if retryAfter > delay {
			delay = retryAfter
		}
		c.log.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Str("url", url).Msg("retrying provider request")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (c *Client) getOnce(ctx context.Context, url string, headers map[string]string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	c.setHeaders(req, headers)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(c.provider, "error").Inc()
		return nil, 0, &transientError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.ProviderRequests.WithLabelValues(c.provider, "throttled").Inc()
		return nil, parseRetryAfter(resp), &transientError{fmt.Errorf("%s responded 429", c.provider)}
	}
	body, err := c.consume(resp)
	return body, 0, err
}

func (c *Client) consume(resp *http.Response) ([]byte, error) {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		metrics.ProviderRequests.WithLabelValues(c.provider, "auth").Inc()
		return nil, fmt.Errorf("%w: %s responded %d", ErrAuth, c.provider, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		metrics.ProviderRequests.WithLabelValues(c.provider, "not_found").Inc()
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		metrics.ProviderRequests.WithLabelValues(c.provider, "server_error").Inc()
		return nil, &transientError{fmt.Errorf("%s responded %d", c.provider, resp.StatusCode)}
	case resp.StatusCode >= 400:
		metrics.ProviderRequests.WithLabelValues(c.provider, "client_error").Inc()
		return nil, fmt.Errorf("%s responded %d", c.provider, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(c.provider, "error").Inc()
		return nil, &transientError{err}
	}
	metrics.ProviderRequests.WithLabelValues(c.provider, "ok").Inc()
	return body, nil
}

func (c *Client) setHeaders(req *http.Request, headers map[string]string) {
	req.Header.Set("User-Agent", "Fetcharr/"+version.Version)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// transientError marks failures worth retrying.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

func backoff(attempt int) time.Duration {
	d := retryBase << uint(attempt)
	if d > retryCap {
		return retryCap
	}
	return d
}

func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
