package llmbroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
)

// ErrNoProvider is returned when a request names a provider the broker has
// no client registered for.
var ErrNoProvider = errors.New("llmbroker: unknown provider")

// ErrUnauthorized and ErrRateLimited are the two provider error kinds the
// error-handling design calls out as terminal for the whole session: they
// must bubble straight out of the broker rather than trigger the retry/
// fallback loop below, since retrying a bad API key or a 429 against the
// same (or fallback) provider wastes the session's remaining budget on a
// failure that will not self-resolve within one search run. Provider
// clients wrap the status-derived error with fmt.Errorf("%w: ...", ...) so
// errors.Is still matches through Stream's wrapping.
var (
	ErrUnauthorized = errors.New("llmbroker: unauthorized")
	ErrRateLimited  = errors.New("llmbroker: rate limited")
)

// isTerminal reports whether err should skip the retry loop entirely.
func isTerminal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRateLimited)
}

// wrapStatusErr maps a provider's HTTP status code onto the broker's error
// taxonomy so Stream's retry loop and callers further up (the CLI's exit
// code, the session executor's terminal-failure handling) can distinguish
// "bad key, give up" from "transient, worth retrying" without parsing
// per-provider status text.
func wrapStatusErr(provider string, status int) error {
	switch status {
	case 401, 403:
		return fmt.Errorf("%s: status %d: %w", provider, status, ErrUnauthorized)
	case 429:
		return fmt.Errorf("%s: status %d: %w", provider, status, ErrRateLimited)
	default:
		return fmt.Errorf("%s: status %d", provider, status)
	}
}

// ProviderEntry is one registered provider: its client plus a rate limiter
// guarding outbound requests ahead of the per-client retry loop.
type ProviderEntry struct {
	Client  ProviderClient
	Limiter *rate.Limiter
}

// Broker fans ChatRequests out to the right ProviderClient, retrying on
// transient failures with a deterministic retry/fallback policy: even
// retries reuse the caller's requested provider, odd retries use the
// configured fallback provider. The alternation (rather than immediately
// giving up on the primary) keeps one fallback provider warm without
// abandoning a provider that may only be transiently failing.
type Broker struct {
	providers  map[string]ProviderEntry
	fallback   string
	maxRetries int
}

func NewBroker(fallbackProvider string, maxRetries int) *Broker {
	return &Broker{
		providers:  make(map[string]ProviderEntry),
		fallback:   fallbackProvider,
		maxRetries: maxRetries,
	}
}

func (b *Broker) Register(name string, client ProviderClient, limiter *rate.Limiter) {
	b.providers[name] = ProviderEntry{Client: client, Limiter: limiter}
}

// Fallback returns the configured fallback provider name ("" if none), so
// callers implementing their own retry-on-parse-failure loops can alternate
// providers the same way Stream's transport retries do.
func (b *Broker) Fallback() string { return b.fallback }

// Stream drives req against the requested provider, retrying up to
// maxRetries times on an ErrorChunk. Cooperative cancellation is via ctx:
// callers cancel ctx to stop a retry loop between attempts or mid-stream.
// The returned channel receives only TextChunk/ToolCallDeltaChunk/
// UsageChunk values, terminated by exactly one of DoneChunk or
// ErrorChunk; chunks are delivered attempt-atomically (a failed attempt
// contributes nothing), so consumers never see text from two attempts
// interleaved.
func (b *Broker) Stream(ctx context.Context, req ChatRequest) <-chan Chunk {
	out := make(chan Chunk, 16)
	go func() {
		defer close(out)

		var lastErr error
		for attempt := 0; attempt <= b.maxRetries; attempt++ {
			providerName := req.Provider
			// Deterministic retry/fallback: odd attempts use the fallback
			// provider (if one is configured and differs), even attempts
			// (including the first) use the caller's chosen provider.
			if attempt%2 == 1 && b.fallback != "" && b.fallback != req.Provider {
				providerName = b.fallback
			}

			entry, ok := b.providers[providerName]
			if !ok {
				out <- ErrorChunk{Err: fmt.Errorf("%w: %s", ErrNoProvider, providerName)}
				return
			}

			if entry.Limiter != nil {
				if err := entry.Limiter.Wait(ctx); err != nil {
					out <- ErrorChunk{Err: err}
					return
				}
			}

			attemptReq := req
			attemptReq.Provider = providerName

			failed, done, err := b.pump(ctx, entry.Client, attemptReq, out)
			if done {
				return
			}
			if !failed {
				return
			}
			if isTerminal(err) {
				out <- ErrorChunk{Err: err}
				return
			}
			lastErr = err
			slog.Warn("llmbroker: retrying after provider failure", "provider", providerName, "attempt", attempt, "error", err)

			select {
			case <-ctx.Done():
				out <- ErrorChunk{Err: ctx.Err()}
				return
			default:
			}
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("llmbroker: exhausted %d retries", b.maxRetries)
		}
		out <- ErrorChunk{Err: fmt.Errorf("llmbroker: all attempts failed: %w", lastErr)}
	}()
	return out
}

// pump runs one provider attempt, relaying its chunks to out.
// Returns (failed, terminated): failed means the attempt ended in an
// ErrorChunk which should trigger a retry; terminated means a DoneChunk
// was already forwarded and Stream should stop entirely.
//
// Chunks are held back until the attempt completes. A retried attempt
// restarts the completion from scratch, so flushing a partial first
// attempt would make accumulating consumers (the tool-use agent, the
// reward generator) concatenate two answers into one unparseable block.
func (b *Broker) pump(ctx context.Context, client ProviderClient, req ChatRequest, out chan<- Chunk) (failed, terminated bool, err error) {
	var buffered []Chunk
	flush := func() {
		for _, c := range buffered {
			out <- c
		}
	}
	for chunk := range client.Stream(ctx, req) {
		switch c := chunk.(type) {
		case ErrorChunk:
			return true, false, c.Err
		case DoneChunk:
			flush()
			out <- c
			return false, true, nil
		default:
			buffered = append(buffered, chunk)
		}
	}
	// Stream closed without a terminal chunk; treat the attempt as
	// complete rather than dropping what it produced.
	flush()
	return false, true, nil
}
