package llmbroker

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// retryConfig controls doWithRetry's backoff. Grounded directly on
// lowkaihon-cli-coding-agent's llm/retry.go.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func defaultRetryConfig() retryConfig {
	return retryConfig{maxRetries: 3, baseDelay: 500 * time.Millisecond, maxDelay: 10 * time.Second}
}

type retryableError struct {
	StatusCode int
	Body       string
}

func (e *retryableError) Error() string {
	return "llm provider returned status " + strconv.Itoa(e.StatusCode) + ": " + e.Body
}

// doWithRetry executes doReq, retrying on 429/5xx with exponential backoff
// plus jitter, honoring a Retry-After header when present.
func doWithRetry(ctx context.Context, cfg retryConfig, doReq func() (*http.Response, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := doReq()
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp, nil
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			_ = resp.Body.Close()
			if retryAfter > 0 {
				select {
				case <-time.After(retryAfter):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			lastErr = &retryableError{StatusCode: resp.StatusCode}
			continue
		default:
			// Non-retryable (401, 403, 400, ...): return as-is for the
			// caller to translate into a typed error.
			return resp, nil
		}
	}
	return nil, lastErr
}

func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
