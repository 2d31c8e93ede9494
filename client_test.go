package corpora

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-ai/corpora-go/apierror"
	"github.com/corpora-ai/corpora-go/config"
	"github.com/corpora-ai/corpora-go/internal/log"
	"github.com/corpora-ai/corpora-go/notify"
)

// notifyRecorder captures notifications for assertions.
type notifyRecorder struct {
	mu      sync.Mutex
	notices []notify.Notification
}

func (r *notifyRecorder) Notify(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *notifyRecorder) byKind(kind notify.Kind) []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []notify.Notification
	for _, n := range r.notices {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.CredentialFile = filepath.Join(t.TempDir(), "credentials")
	return cfg
}

// newTestClient builds a client against an httptest server. Server and
// client teardown are registered on t.
func newTestClient(t *testing.T, handler http.Handler, opts ...Option) (*Client, *notifyRecorder) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	recorder := &notifyRecorder{}
	opts = append([]Option{WithNotifier(recorder), WithLogger(log.NewNop())}, opts...)

	client, err := NewClient(testConfig(t, server.URL), opts...)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client, recorder
}

func jsonHandler(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func TestNewClient_NilConfigUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	client, err := NewClient(nil, WithLogger(log.NewNop()))
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, config.DefaultBaseURL, client.cfg.BaseURL)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.BaseURL = "not a url"

	_, err := NewClient(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNewClient_LoggerFollowsConfig(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t, "https://corpora.test")
	cfg.LogLevel = "warn"

	client, err := NewClient(cfg)
	require.NoError(t, err)
	defer client.Close()

	assert.False(t, client.logger.Enabled(ctx, slog.LevelDebug),
		"log_level=warn must drop the client's debug request traces")
	assert.True(t, client.logger.Enabled(ctx, slog.LevelWarn))

	cfg2 := testConfig(t, "https://corpora.test")
	cfg2.LogLevel = "debug"
	cfg2.LogJSON = true

	client2, err := NewClient(cfg2)
	require.NoError(t, err)
	defer client2.Close()

	assert.True(t, client2.logger.Enabled(ctx, slog.LevelDebug))
	_, isJSON := client2.logger.Handler().(*slog.JSONHandler)
	assert.True(t, isJSON, "log_json must select the JSON handler")
}

func TestQuery_Success(t *testing.T) {
	var gotReq *http.Request
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(r.Context())
		body, _ := io.ReadAll(r.Body)

		var q QueryRequest
		require.NoError(t, json.Unmarshal(body, &q))
		assert.Equal(t, "Comment indexer un PDF ?", q.Question)
		assert.Equal(t, 3, q.TopK)
		assert.Equal(t, []string{"manuals"}, q.Sources)
		assert.Equal(t, map[string]string{"lang": "fr"}, q.Filters)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"answer":"Utilisez l'ingestion de fichiers.","sources":[{"document_id":"d1","title":"Guide","snippet":"...","score":0.92}],"query_id":"q-123"}`)
	})

	client, _ := newTestClient(t, handler)
	require.NoError(t, client.SetCredential("sk-test"))

	resp, err := client.Query(context.Background(), "Comment indexer un PDF ?",
		WithTopK(3),
		WithSourceFilter("manuals"),
		WithFilter("lang", "fr"),
	)
	require.NoError(t, err)

	assert.Equal(t, "Utilisez l'ingestion de fichiers.", resp.Answer)
	assert.Equal(t, "q-123", resp.QueryID)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "d1", resp.Sources[0].DocumentID)

	require.NotNil(t, gotReq)
	assert.Equal(t, http.MethodPost, gotReq.Method)
	assert.Equal(t, "/api/v1/query", gotReq.URL.Path)
	assert.Equal(t, "sk-test", gotReq.Header.Get("X-API-Key"))
	assert.Equal(t, "application/json", gotReq.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", gotReq.Header.Get("Accept"))
	assert.NotEmpty(t, gotReq.Header.Get("X-Request-ID"))
	assert.Equal(t, "corpora-go/"+Version, gotReq.Header.Get("User-Agent"))
}

func TestQuery_NoCredentialOmitsHeader(t *testing.T) {
	var sawHeader atomic.Bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "" {
			sawHeader.Store(true)
		}
		_, _ = io.WriteString(w, `{"answer":"","sources":[],"query_id":"q"}`)
	})

	client, _ := newTestClient(t, handler)

	_, err := client.Query(context.Background(), "q")
	require.NoError(t, err)
	assert.False(t, sawHeader.Load(), "request must not carry an empty X-API-Key")
}

func TestQuery_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewClient(testConfig(t, url), WithLogger(log.NewNop()))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Query(context.Background(), "q")
	require.Error(t, err)

	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 0, apiErr.StatusCode)
	assert.ErrorIs(t, err, apierror.ErrNetwork)
	assert.Equal(t, "Erreur réseau. Vérifiez votre connexion et réessayez.", apiErr.Message)
}

func TestQuery_ValidationDetailPassesThrough(t *testing.T) {
	client, _ := newTestClient(t, jsonHandler(http.StatusBadRequest, `{"detail":"La question est vide."}`))

	_, err := client.Query(context.Background(), "")
	require.Error(t, err)

	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.ErrorIs(t, err, apierror.ErrValidation)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "La question est vide.", apiErr.Message)
}

func TestRateLimit_LiveResponseOpensWindow(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	client, recorder := newTestClient(t, handler)

	_, err := client.Query(context.Background(), "q")
	require.Error(t, err)

	var liveErr *apierror.APIError
	require.ErrorAs(t, err, &liveErr)
	assert.ErrorIs(t, err, apierror.ErrRateLimited)
	assert.Equal(t, 2*time.Second, liveErr.RetryAfter)

	state := client.RateLimit()
	assert.True(t, state.Active)
	assert.Equal(t, 2*time.Second, state.Window)
	assert.Greater(t, state.Remaining, time.Duration(0))

	// Second call must be rejected locally, with the same error shape.
	_, err = client.Query(context.Background(), "q")
	require.Error(t, err)

	var coolErr *apierror.APIError
	require.ErrorAs(t, err, &coolErr)
	assert.ErrorIs(t, err, apierror.ErrRateLimited)
	assert.Equal(t, liveErr.Message, coolErr.Message)
	assert.Greater(t, coolErr.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, coolErr.RetryAfter, 2*time.Second)

	assert.Equal(t, int32(1), hits.Load(), "cool-down rejection must not reach the network")
	assert.NotEmpty(t, recorder.byKind(notify.KindRateLimit))
}

func TestRateLimit_DefaultWindowWithoutHeader(t *testing.T) {
	client, _ := newTestClient(t, jsonHandler(http.StatusTooManyRequests, `{}`))

	_, err := client.Query(context.Background(), "q")
	require.Error(t, err)

	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 60*time.Second, apiErr.RetryAfter)
	assert.Equal(t, 60*time.Second, client.RateLimit().Window)
}

func TestRateLimit_StreamAndUnaryShareWindow(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	client, _ := newTestClient(t, handler)

	_, err := client.Query(context.Background(), "q")
	require.Error(t, err)

	_, err = client.QueryStream(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, apierror.ErrRateLimited)
	assert.Equal(t, int32(1), hits.Load(), "stream call during cool-down must not dial")
}

func TestUnauthorized_ExpiresCredentialOnce(t *testing.T) {
	var lastKey atomic.Value
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastKey.Store(r.Header.Get("X-API-Key"))
		w.WriteHeader(http.StatusUnauthorized)
	})

	client, recorder := newTestClient(t, handler)
	require.NoError(t, client.SetCredential("sk-stale"))

	_, err := client.Query(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, apierror.ErrUnauthorized)

	assert.False(t, client.HasCredential())
	_, statErr := os.Stat(client.creds.Path())
	assert.True(t, os.IsNotExist(statErr), "credential file must be removed")

	expired := recorder.byKind(notify.KindSessionExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, notify.ActionOpenSettings, expired[0].Action)
	assert.Equal(t, notify.LevelError, expired[0].Level)

	// A later 401 without any credential stays silent.
	_, err = client.Query(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, "", lastKey.Load().(string), "second request must not carry a key")
	assert.Len(t, recorder.byKind(notify.KindSessionExpired), 1)
}

func TestSeedCredentialFromConfig(t *testing.T) {
	server := httptest.NewServer(jsonHandler(http.StatusOK, `{}`))
	t.Cleanup(server.Close)

	cfg := testConfig(t, server.URL)
	cfg.APIKey = "sk-seeded"

	client, err := NewClient(cfg, WithLogger(log.NewNop()))
	require.NoError(t, err)
	defer client.Close()

	token, ok := client.Credential()
	require.True(t, ok)
	assert.Equal(t, "sk-seeded", token)

	// The seed never reaches disk.
	_, statErr := os.Stat(client.creds.Path())
	assert.True(t, os.IsNotExist(statErr))

	// A stored credential shadows the seed.
	require.NoError(t, client.SetCredential("sk-stored"))
	token, _ = client.Credential()
	assert.Equal(t, "sk-stored", token)

	require.NoError(t, client.ClearCredential())
	assert.False(t, client.HasCredential(), "clear must wipe the seed too")
}

func TestHooks_RunInOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	mark := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Traced"))
		_, _ = io.WriteString(w, `{}`)
	})

	client, _ := newTestClient(t, handler,
		WithRequestHook(func(_ context.Context, req *http.Request) error {
			mark("req1")
			req.Header.Set("X-Traced", "yes")
			return nil
		}),
		WithRequestHook(func(_ context.Context, _ *http.Request) error {
			mark("req2")
			return nil
		}),
		WithResponseHook(func(_ context.Context, resp *http.Response, err error) (*http.Response, error) {
			mark("resp1")
			return resp, err
		}),
		WithResponseHook(func(_ context.Context, resp *http.Response, err error) (*http.Response, error) {
			mark("resp2")
			return resp, err
		}),
	)

	_, err := client.Query(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"req1", "req2", "resp1", "resp2"}, order)
}

func TestRequestHook_ErrorAbortsBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{}`)
	})

	client, _ := newTestClient(t, handler,
		WithRequestHook(func(_ context.Context, _ *http.Request) error {
			return errors.New("audit rejected the request")
		}),
	)

	_, err := client.Query(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit rejected the request")
	assert.Equal(t, int32(0), hits.Load())
}

func TestResponseHook_CanReplaceResponse(t *testing.T) {
	client, _ := newTestClient(t, jsonHandler(http.StatusBadGateway, `{}`),
		WithResponseHook(func(_ context.Context, resp *http.Response, err error) (*http.Response, error) {
			if resp != nil && resp.StatusCode == http.StatusBadGateway {
				_ = resp.Body.Close()
				return &http.Response{
					StatusCode: http.StatusOK,
					Header:     http.Header{"Content-Type": []string{"application/json"}},
					Body:       io.NopCloser(strings.NewReader(`{"answer":"patched","sources":[],"query_id":"q"}`)),
				}, nil
			}
			return resp, err
		}),
	)

	resp, err := client.Query(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "patched", resp.Answer)
}

func TestPacerConfigured(t *testing.T) {
	server := httptest.NewServer(jsonHandler(http.StatusOK, `{}`))
	t.Cleanup(server.Close)

	cfg := testConfig(t, server.URL)
	cfg.RequestRate = 10
	cfg.RequestBurst = 2

	client, err := NewClient(cfg, WithLogger(log.NewNop()))
	require.NoError(t, err)
	defer client.Close()

	require.NotNil(t, client.pacer)
	assert.Equal(t, 2, client.pacer.Burst())
}

func TestPreflightRetryAfterTracksRemaining(t *testing.T) {
	client, _ := newTestClient(t, jsonHandler(http.StatusOK, `{}`))

	client.limiter.Activate(2 * time.Second)

	_, err := client.Query(context.Background(), "q")
	require.Error(t, err)

	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.ErrorIs(t, err, apierror.ErrRateLimited)
	assert.Greater(t, apiErr.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, apiErr.RetryAfter, 2*time.Second)
}
