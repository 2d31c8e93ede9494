// Package corporatest provides an in-process fake of the Corpora backend
// for tests.
//
// The fake speaks the same wire protocol as the real service: JSON
// endpoints under /api/v1, an SSE stream for incremental answers, the
// {"detail": ...} error envelope and X-API-Key authentication. Tests
// configure canned answers and inject failures, then point a client at
// URL():
//
//	srv := corporatest.New(corporatest.WithAPIKey("sk-test"))
//	defer srv.Close()
//
//	cfg := config.Default()
//	cfg.BaseURL = srv.URL()
//	cfg.APIKey = "sk-test"
package corporatest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Server is a fake Corpora backend running on a local listener.
// All methods are safe for concurrent use.
type Server struct {
	hs *httptest.Server

	mu       sync.Mutex
	apiKey   string
	answer   string
	sources  []source
	jobPolls int
	failures []failure
	jobs     map[string]*job
	keys     []apiKey
	queries  int
	feedback int
}

type failure struct {
	status     int
	detail     string
	retryAfter string
}

type source struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

type job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	DocumentID string    `json:"document_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	polls int
}

type apiKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Prefix    string     `json:"prefix"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used_at"`
	Revoked   bool       `json:"revoked"`
}

// Option configures the fake server.
type Option func(*Server)

// WithAPIKey makes the server reject requests whose X-API-Key header
// does not match key. Without this option any key, including none, is
// accepted.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithAnswer sets the canned answer returned by query endpoints.
func WithAnswer(answer string) Option {
	return func(s *Server) { s.answer = answer }
}

// WithSource adds a canned source cited by query answers.
func WithSource(documentID, title, snippet string, score float64) Option {
	return func(s *Server) {
		s.sources = append(s.sources, source{DocumentID: documentID, Title: title, Snippet: snippet, Score: score})
	}
}

// WithJobPolls sets how many status polls an ingestion job spends in
// the processing state before completing. The default is 1.
func WithJobPolls(n int) Option {
	return func(s *Server) { s.jobPolls = n }
}

// New starts a fake backend on a random local port.
func New(opts ...Option) *Server {
	s := &Server{
		answer:   "Ceci est une réponse de test.",
		jobPolls: 1,
		jobs:     make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /api/v1/query", s.query)
	mux.HandleFunc("POST /api/v1/query/stream", s.queryStream)
	mux.HandleFunc("POST /api/v1/ingest/file", s.ingestFile)
	mux.HandleFunc("POST /api/v1/ingest/text", s.ingestText)
	mux.HandleFunc("POST /api/v1/ingest/url", s.ingestURL)
	mux.HandleFunc("GET /api/v1/ingest/jobs/{id}", s.jobStatus)
	mux.HandleFunc("POST /api/v1/keys", s.createKey)
	mux.HandleFunc("GET /api/v1/keys", s.listKeys)
	mux.HandleFunc("DELETE /api/v1/keys/{id}", s.revokeKey)
	mux.HandleFunc("POST /api/v1/feedback", s.submitFeedback)
	mux.HandleFunc("GET /api/v1/analytics", s.analytics)

	s.hs = httptest.NewServer(chain(mux, s.withAuth, s.withFailures))
	return s
}

// URL returns the base URL of the fake backend.
func (s *Server) URL() string { return s.hs.URL }

// Close shuts the fake backend down.
func (s *Server) Close() { s.hs.Close() }

// FailNext queues one injected failure. The next API request is
// answered with status and a {"detail": detail} body instead of
// reaching its handler. Queued failures apply in order.
func (s *Server) FailNext(status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{status: status, detail: detail})
}

// RateLimitNext queues one 429 rejection carrying a Retry-After header.
func (s *Server) RateLimitNext(retryAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{
		status:     http.StatusTooManyRequests,
		retryAfter: fmt.Sprintf("%d", int(retryAfter.Seconds())),
	})
}

// QueryCount reports how many query requests reached their handler.
func (s *Server) QueryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

// FeedbackCount reports how many feedback submissions were accepted.
func (s *Server) FeedbackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedback
}

// chain wraps h in middleware; the last entry ends up outermost and
// sees requests first. Failure injection sits in front of
// authentication so an injected response consumes the next request no
// matter what key it carries.
func chain(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for _, m := range middleware {
		h = m(h)
	}
	return h
}

// withAuth guards /api/ routes. /health stays public for liveness
// probes but still rejects an explicit wrong key, so key validation
// probes behave like the real service.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			key := r.Header.Get("X-API-Key")
			protected := strings.HasPrefix(r.URL.Path, "/api/")
			if (protected && key != s.apiKey) || (!protected && key != "" && key != s.apiKey) {
				writeError(w, http.StatusUnauthorized, "Clé API invalide.")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		if len(s.failures) == 0 {
			s.mu.Unlock()
			next.ServeHTTP(w, r)
			return
		}
		f := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()

		if f.retryAfter != "" {
			w.Header().Set("Retry-After", f.retryAfter)
		}
		writeError(w, f.status, f.detail)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": "test"})
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeError(w, http.StatusBadRequest, "La question est vide.")
		return
	}

	s.mu.Lock()
	s.queries++
	answer, sources := s.answer, s.sources
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"answer":   answer,
		"sources":  sources,
		"query_id": uuid.NewString(),
	})
}

func (s *Server) queryStream(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeError(w, http.StatusBadRequest, "La question est vide.")
		return
	}

	s.mu.Lock()
	s.queries++
	answer, sources := s.answer, s.sources
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	for _, chunk := range strings.SplitAfter(answer, " ") {
		writeEvent(w, flusher, "chunk", map[string]string{"text": chunk})
	}
	if len(sources) > 0 {
		writeEvent(w, flusher, "sources", map[string]any{"sources": sources})
	}
	writeEvent(w, flusher, "done", map[string]string{"query_id": uuid.NewString()})
}

func (s *Server) ingestFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "Le fichier est invalide.")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Le fichier est manquant.")
		return
	}
	file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "Le fichier est invalide.")
		return
	}
	s.acceptJob(w, "file")
}

func (s *Server) ingestText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "Le contenu est vide.")
		return
	}
	s.acceptJob(w, "text")
}

func (s *Server) ingestURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "L'URL est vide.")
		return
	}
	s.acceptJob(w, "url")
}

func (s *Server) acceptJob(w http.ResponseWriter, kind string) {
	now := time.Now().UTC()
	j := &job{
		ID:        "job-" + uuid.NewString()[:8],
		Kind:      kind,
		Status:    "pending",
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	j, ok := s.jobs[r.PathValue("id")]
	if ok {
		j.polls++
		switch {
		case j.polls >= s.jobPolls:
			j.Status = "completed"
			j.DocumentID = "doc-" + j.ID
		default:
			j.Status = "processing"
		}
		j.UpdatedAt = time.Now().UTC()
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Tâche introuvable.")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) createKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Le nom est vide.")
		return
	}

	plaintext := "crp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	k := apiKey{
		ID:        "key-" + uuid.NewString()[:8],
		Name:      req.Name,
		Prefix:    plaintext[:8],
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.keys = append(s.keys, k)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"id": k.ID, "name": k.Name, "prefix": k.Prefix,
		"created_at": k.CreatedAt, "revoked": false,
		"key": plaintext,
	})
}

func (s *Server) listKeys(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	keys := make([]apiKey, len(s.keys))
	copy(keys, s.keys)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) revokeKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.keys {
		if s.keys[i].ID == id {
			s.keys[i].Revoked = true
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Clé introuvable.")
}

func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueryID string `json:"query_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QueryID == "" {
		writeError(w, http.StatusBadRequest, "L'identifiant de requête est vide.")
		return
	}

	s.mu.Lock()
	s.feedback++
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) analytics(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	queries := s.queries
	documents := len(s.jobs)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"period":          "month",
		"total_queries":   queries,
		"total_documents": documents,
		"tokens_used":     int64(queries) * 120,
		"quota_limit":     int64(100000),
		"by_day":          []any{},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
