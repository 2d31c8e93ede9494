// Package retryable decorates an HTTP transport with retries. The
// Corpora client never retries on its own; wrapping its transport
// opts in:
//
//	client, err := corpora.NewClient(cfg,
//		corpora.WithHTTPClient(retryable.Wrap(&http.Client{Timeout: 30 * time.Second})),
//	)
//
// Transport failures, 408, 429 and 5xx responses are retried with
// exponential backoff; a Retry-After header on a 429 overrides the
// next delay within the policy caps. Every other status, 4xx included,
// passes through untouched on the first attempt. When attempts run out
// the last server response is returned as-is, so the client still
// classifies it and applies its side effects.
package retryable

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/corpora-ai/corpora-go/apierror"
)

// maxSnapshot bounds how much of a retryable response body is kept
// for the final return.
const maxSnapshot = 64 * 1024

var errTransientStatus = errors.New("retryable status")

// Doer executes a single HTTP request, mirroring the client's
// transport contract.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type transport struct {
	next Doer

	maxAttempts     uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsed      time.Duration
}

// Option adjusts the retry policy.
type Option func(*transport)

// WithMaxAttempts caps the total number of attempts. Default 3.
func WithMaxAttempts(n int) Option {
	return func(t *transport) {
		if n > 0 {
			t.maxAttempts = uint64(n)
		}
	}
}

// WithInitialInterval sets the first backoff delay. Default 500ms.
func WithInitialInterval(d time.Duration) Option {
	return func(t *transport) {
		if d > 0 {
			t.initialInterval = d
		}
	}
}

// WithMaxInterval caps a single retry delay, server hints included.
// Default 30s.
func WithMaxInterval(d time.Duration) Option {
	return func(t *transport) {
		if d > 0 {
			t.maxInterval = d
		}
	}
}

// WithMaxElapsed bounds the total time spent retrying. Default 2m.
func WithMaxElapsed(d time.Duration) Option {
	return func(t *transport) {
		if d > 0 {
			t.maxElapsed = d
		}
	}
}

// Wrap returns a Doer that retries transient failures from next.
func Wrap(next Doer, opts ...Option) Doer {
	t := &transport{
		next:            next,
		maxAttempts:     3,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     30 * time.Second,
		maxElapsed:      2 * time.Minute,
	}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Do implements Doer. A request whose body cannot be replayed is
// passed through without retries.
func (t *transport) Do(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.GetBody == nil {
		return t.next.Do(req)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = t.initialInterval
	expo.MaxInterval = t.maxInterval
	expo.MaxElapsedTime = t.maxElapsed

	hinted := &serverHinted{ExponentialBackOff: expo}
	policy := backoff.WithContext(backoff.WithMaxRetries(hinted, t.maxAttempts-1), req.Context())

	var (
		resp  *http.Response
		saved *http.Response
	)

	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 && req.Body != nil {
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(fmt.Errorf("replay request body: %w", err))
			}
			req.Body = body
		}

		r, err := t.next.Do(req)
		if err != nil {
			saved = nil
			return err
		}

		switch {
		case r.StatusCode == http.StatusTooManyRequests:
			if wait, ok := apierror.ParseRetryAfter(r.Header.Get("Retry-After"), time.Now()); ok && wait > 0 {
				hinted.hint = wait
			}
			saved = snapshot(r)
			return errTransientStatus
		case r.StatusCode == http.StatusRequestTimeout, r.StatusCode >= http.StatusInternalServerError:
			saved = snapshot(r)
			return errTransientStatus
		}

		resp = r
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// The last server answer beats the retry bookkeeping; the
		// caller classifies it like any direct response.
		if saved != nil {
			return saved, nil
		}
		return nil, err
	}

	return resp, nil
}

// snapshot buffers a response so it survives being drained between
// attempts. Headers and status are kept; the body is capped.
func snapshot(r *http.Response) *http.Response {
	body, _ := io.ReadAll(io.LimitReader(r.Body, maxSnapshot))
	_ = r.Body.Close()

	clone := *r
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))

	return &clone
}

// serverHinted lets a Retry-After header override the next computed
// delay, once. The hint stays subject to the policy caps: it is
// clamped to MaxInterval, and one that would overrun MaxElapsedTime
// stops the retries instead.
type serverHinted struct {
	*backoff.ExponentialBackOff
	hint time.Duration
}

func (b *serverHinted) NextBackOff() time.Duration {
	hint := b.hint
	b.hint = 0

	if hint <= 0 {
		return b.ExponentialBackOff.NextBackOff()
	}
	if hint > b.MaxInterval {
		hint = b.MaxInterval
	}
	if b.MaxElapsedTime > 0 && b.GetElapsedTime()+hint > b.MaxElapsedTime {
		return backoff.Stop
	}

	return hint
}
