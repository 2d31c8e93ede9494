package corpora

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/corpora-ai/corpora-go/apierror"
	"github.com/corpora-ai/corpora-go/config"
	"github.com/corpora-ai/corpora-go/credential"
	"github.com/corpora-ai/corpora-go/internal/i18n"
	"github.com/corpora-ai/corpora-go/internal/log"
	"github.com/corpora-ai/corpora-go/notify"
	"github.com/corpora-ai/corpora-go/ratelimit"
)

const (
	headerAPIKey    = "X-API-Key"
	headerRequestID = "X-Request-ID"
)

// Doer executes a single HTTP request. *http.Client satisfies it; tests
// and instrumentation wrappers substitute their own.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestHook runs before a request hits the transport. Returning an
// error aborts the call; the error surfaces to the caller classified.
// Hooks run in registration order and may mutate the request.
type RequestHook func(ctx context.Context, req *http.Request) error

// ResponseHook runs after the transport returns, before status handling.
// It receives the response and transport error and may replace either,
// which makes retry decorators and response rewriting possible. Hooks
// run in registration order.
type ResponseHook func(ctx context.Context, resp *http.Response, err error) (*http.Response, error)

// Client talks to the Corpora API. It is safe for concurrent use.
type Client struct {
	cfg     *config.Config
	baseURL *url.URL

	httpc   Doer
	streamc Doer

	creds    *credential.Store
	limiter  *ratelimit.Controller
	notifier notify.Notifier
	logger   *slog.Logger
	pacer    *rate.Limiter
	metrics  *clientMetrics
	tracer   trace.Tracer

	requestHooks  []RequestHook
	responseHooks []ResponseHook

	// seedKey mirrors config.APIKey. It lives only in memory, is
	// consulted after the persistent store, and is wiped on 401.
	mu      sync.Mutex
	seedKey string
}

// Option customises a Client at construction time.
type Option func(*Client)

// WithHTTPClient replaces the transport used for unary calls. The
// default is an *http.Client bounded by the configured timeout.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.httpc = d }
}

// WithStreamClient replaces the transport used for streaming calls.
// The default has no overall deadline; only the response headers are
// subject to the configured timeout.
func WithStreamClient(d Doer) Option {
	return func(c *Client) { c.streamc = d }
}

// WithLogger sets the structured logger. The default is built from the
// configured LogLevel and LogJSON and writes to stderr.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNotifier sets the sink for user-facing notifications (rate-limit
// countdowns, session expiry). Defaults to logging through the client
// logger.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Client) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithRequestHook appends a hook run before each request.
func WithRequestHook(h RequestHook) Option {
	return func(c *Client) {
		if h != nil {
			c.requestHooks = append(c.requestHooks, h)
		}
	}
}

// WithResponseHook appends a hook run after each response.
func WithResponseHook(h ResponseHook) Option {
	return func(c *Client) {
		if h != nil {
			c.responseHooks = append(c.responseHooks, h)
		}
	}
}

// NewClient builds a Client from cfg. A nil cfg uses config.Default().
// The configuration is validated up front; construction is the only
// place the client can fail before a request is made.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	i18n.Init(cfg.Language)

	c := &Client{
		cfg:     cfg,
		baseURL: base,
		seedKey: cfg.APIKey,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = log.New(log.Config{Level: cfg.SlogLevel(), JSON: cfg.LogJSON})
	}
	if c.notifier == nil {
		c.notifier = notify.Slog(c.logger)
	}
	if c.httpc == nil {
		c.httpc = &http.Client{Timeout: cfg.Timeout()}
	}
	if c.streamc == nil {
		c.streamc = &http.Client{Transport: newStreamTransport(cfg.Timeout())}
	}

	creds, err := credential.NewStore(cfg.CredentialFile, c.logger.With("component", "credential"))
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	c.creds = creds
	c.limiter = ratelimit.New(c.notifier, c.logger.With("component", "ratelimit"))

	if cfg.RequestRate > 0 {
		burst := cfg.RequestBurst
		if burst < 1 {
			burst = 1
		}
		c.pacer = rate.NewLimiter(rate.Limit(cfg.RequestRate), burst)
	}

	if c.metrics == nil && cfg.MetricsEnabled {
		c.metrics = newClientMetrics(prometheus.DefaultRegisterer)
	}
	if c.tracer == nil && cfg.Tracing.Enabled {
		c.tracer = otel.Tracer(tracerName)
	}

	c.logger.Debug("client initialised",
		"base_url", cfg.BaseURL,
		"language", cfg.Language,
		"timeout", cfg.Timeout(),
	)

	return c, nil
}

// Close releases background resources, idle connections included. The
// client must not be used after Close.
func (c *Client) Close() {
	c.limiter.Close()
	closeIdle(c.httpc)
	closeIdle(c.streamc)
}

func closeIdle(d Doer) {
	if c, ok := d.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

// SetCredential stores the API key in memory and on disk. The value is
// opaque to the client; no validation happens before the next request.
func (c *Client) SetCredential(token string) error {
	return c.creds.Set(token)
}

// Credential reports the API key the next request would send.
func (c *Client) Credential() (string, bool) {
	return c.activeCredential()
}

// HasCredential reports whether a non-empty API key is available.
func (c *Client) HasCredential() bool {
	_, ok := c.activeCredential()
	return ok
}

// ClearCredential removes the API key from memory and from disk. It is
// idempotent.
func (c *Client) ClearCredential() error {
	c.mu.Lock()
	c.seedKey = ""
	c.mu.Unlock()

	return c.creds.Clear()
}

// RateLimit reports the current cool-down state.
func (c *Client) RateLimit() ratelimit.State {
	return c.limiter.Snapshot()
}

func (c *Client) activeCredential() (string, bool) {
	if token, ok := c.creds.Get(); ok {
		return token, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seedKey != "" {
		return c.seedKey, true
	}

	return "", false
}

// apiURL joins parts under the versioned API prefix.
func (c *Client) apiURL(parts ...string) *url.URL {
	return c.baseURL.JoinPath(append([]string{"api", "v1"}, parts...)...)
}

// rootURL joins parts at the origin, outside the API prefix.
func (c *Client) rootURL(parts ...string) *url.URL {
	return c.baseURL.JoinPath(parts...)
}

func (c *Client) newRequest(ctx context.Context, method string, u *url.URL, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(headerRequestID, uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token, ok := c.activeCredential(); ok {
		req.Header.Set(headerAPIKey, token)
	}

	return req, nil
}

// doJSON performs a JSON round trip through the full pipeline. A nil
// out discards the response body.
func (c *Client) doJSON(ctx context.Context, method string, u *url.URL, in, out any) error {
	var (
		body        io.Reader
		contentType string
	)
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req, err := c.newRequest(ctx, method, u, contentType, body)
	if err != nil {
		return err
	}

	resp, err := c.send(req, c.httpc)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierror.Classify(fmt.Errorf("decode response: %w", err))
	}

	return nil
}

// send is the single entry point to the wire. Every request, unary or
// streaming, goes through it.
func (c *Client) send(req *http.Request, transport Doer) (*http.Response, error) {
	if c.tracer == nil {
		return c.dispatch(req, transport)
	}

	return c.sendTraced(req, transport)
}

func (c *Client) dispatch(req *http.Request, transport Doer) (*http.Response, error) {
	if err := c.preflight(); err != nil {
		return nil, err
	}
	if c.pacer != nil {
		if err := c.pacer.Wait(req.Context()); err != nil {
			return nil, apierror.Classify(err)
		}
		// A 429 can land on another goroutine while the pacer holds
		// this call; the state read happens at send time.
		if err := c.preflight(); err != nil {
			return nil, err
		}
	}

	ctx := req.Context()
	for _, hook := range c.requestHooks {
		if err := hook(ctx, req); err != nil {
			return nil, apierror.Classify(fmt.Errorf("request hook: %w", err))
		}
	}

	start := time.Now()
	resp, err := transport.Do(req)
	for _, hook := range c.responseHooks {
		resp, err = hook(ctx, resp, err)
	}
	c.observe(req, resp, err, time.Since(start))

	if err != nil {
		return nil, apierror.Classify(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()

	apiErr := apierror.FromResponse(resp)
	c.react(apiErr, req)

	return nil, apiErr
}

// preflight rejects the call while a cool-down window is open, with
// the same error shape a live 429 produces.
func (c *Client) preflight() error {
	remaining := c.limiter.Remaining()
	if remaining <= 0 {
		return nil
	}

	if c.metrics != nil {
		c.metrics.rateLimited.WithLabelValues(rejectionCooldown).Inc()
	}

	apiErr := apierror.New(http.StatusTooManyRequests, "")
	apiErr.RetryAfter = remaining

	return apiErr
}

// react applies the side effects certain statuses demand: 429 opens
// the cool-down window, 401 expires the credential. A nil req means
// the fault arrived in-band on a request that carried the managed
// credential.
func (c *Client) react(apiErr *apierror.APIError, req *http.Request) {
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		wait := apiErr.RetryAfter
		if wait <= 0 {
			wait = c.cfg.DefaultRetryAfter()
		}
		apiErr.RetryAfter = wait
		if c.metrics != nil {
			c.metrics.rateLimited.WithLabelValues(rejectionLive).Inc()
		}
		c.limiter.Activate(wait)
	case http.StatusUnauthorized:
		if req != nil {
			sent := req.Header.Get(headerAPIKey)
			if active, ok := c.activeCredential(); ok && sent != active {
				// A candidate key failed, not the managed one.
				return
			}
		}
		c.expireCredential()
	}
}

// expireCredential wipes the key everywhere and tells the user once.
// When no credential was present the 401 passes through silently.
func (c *Client) expireCredential() {
	c.mu.Lock()
	had := c.seedKey != ""
	c.seedKey = ""
	c.mu.Unlock()

	if c.creds.Present() {
		had = true
	}
	if err := c.creds.Clear(); err != nil {
		c.logger.Warn("credential clear failed", "error", err)
	}
	if !had {
		return
	}

	c.logger.Info("credential cleared after 401")
	c.notifier.Notify(notify.Notification{
		Kind:    notify.KindSessionExpired,
		Level:   notify.LevelError,
		Message: i18n.T("credential.expired"),
		Action:  notify.ActionOpenSettings,
	})
}

func (c *Client) observe(req *http.Request, resp *http.Response, err error, elapsed time.Duration) {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	attrs := []any{
		"method", req.Method,
		"path", req.URL.Path,
		"status", status,
		"duration", elapsed,
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	c.logger.Debug("request completed", attrs...)

	if c.metrics != nil {
		c.metrics.observe(req.Method, req.URL.Path, status, elapsed)
	}
}
