package corpora

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-ai/corpora-go/apierror"
)

func jobJSON(id string, status JobStatus) string {
	return fmt.Sprintf(`{"id":%q,"kind":"file","status":%q,"created_at":"2026-08-22T10:00:00Z","updated_at":"2026-08-22T10:00:01Z"}`, id, status)
}

func TestIngestFile_MultipartUpload(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/ingest/file", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		assert.Contains(t, r.Header.Get("Content-Type"), "multipart/form-data")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "notes.txt", header.Filename)
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "contenu du document", string(content))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, jobJSON("job-1", JobPending))
	})

	client, _ := newTestClient(t, handler)

	job, err := client.IngestFile(context.Background(), "/tmp/some/dir/notes.txt", strings.NewReader("contenu du document"))
	require.NoError(t, err)

	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, JobPending, job.Status)
	assert.False(t, job.Status.Terminal())
}

func TestIngestText(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ingest/text", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

		var in struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "Procédure", in.Title)
		assert.Equal(t, "Étape 1...", in.Content)

		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, jobJSON("job-2", JobPending))
	})

	client, _ := newTestClient(t, handler)

	job, err := client.IngestText(context.Background(), "Procédure", "Étape 1...")
	require.NoError(t, err)
	assert.Equal(t, "job-2", job.ID)
}

func TestIngestURL(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ingest/url", r.URL.Path)

		var in struct {
			URL string `json:"url"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "https://exemple.fr/doc", in.URL)

		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, jobJSON("job-3", JobPending))
	})

	client, _ := newTestClient(t, handler)

	job, err := client.IngestURL(context.Background(), "https://exemple.fr/doc")
	require.NoError(t, err)
	assert.Equal(t, "job-3", job.ID)
}

func TestIngestionJob(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/ingest/jobs/job-9", r.URL.Path)
		_, _ = io.WriteString(w, jobJSON("job-9", JobProcessing))
	})

	client, _ := newTestClient(t, handler)

	job, err := client.IngestionJob(context.Background(), "job-9")
	require.NoError(t, err)
	assert.Equal(t, JobProcessing, job.Status)
}

func TestIngestionJob_EmptyID(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler())

	_, err := client.IngestionJob(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job id required")
}

func TestWaitIngestion_PollsUntilCompleted(t *testing.T) {
	var polls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch polls.Add(1) {
		case 1:
			_, _ = io.WriteString(w, jobJSON("job-4", JobPending))
		case 2:
			_, _ = io.WriteString(w, jobJSON("job-4", JobProcessing))
		default:
			_, _ = io.WriteString(w, jobJSON("job-4", JobCompleted))
		}
	})

	client, _ := newTestClient(t, handler)

	job, err := client.WaitIngestion(context.Background(), "job-4", WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, JobCompleted, job.Status)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestWaitIngestion_FailedJob(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"id":"job-5","kind":"url","status":"failed","error":"page inaccessible"}`)
	})

	client, _ := newTestClient(t, handler)

	job, err := client.WaitIngestion(context.Background(), "job-5", WithPollInterval(5*time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIngestionFailed)
	assert.Contains(t, err.Error(), "page inaccessible")

	require.NotNil(t, job)
	assert.Equal(t, JobFailed, job.Status)
}

func TestWaitIngestion_NotFoundAborts(t *testing.T) {
	var polls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		polls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	client, _ := newTestClient(t, handler)

	_, err := client.WaitIngestion(context.Background(), "missing", WithPollInterval(5*time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, apierror.ErrNotFound)
	assert.Equal(t, int32(1), polls.Load(), "a 404 must not be retried")
}

func TestWaitIngestion_RetriesServerError(t *testing.T) {
	var polls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if polls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, jobJSON("job-6", JobCompleted))
	})

	client, _ := newTestClient(t, handler)

	job, err := client.WaitIngestion(context.Background(), "job-6", WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, job.Status)
	assert.Equal(t, int32(2), polls.Load())
}

func TestWaitIngestion_TimeoutSurfaces(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, jobJSON("job-7", JobProcessing))
	})

	client, _ := newTestClient(t, handler)

	_, err := client.WaitIngestion(context.Background(), "job-7",
		WithPollInterval(5*time.Millisecond), WithWaitTimeout(50*time.Millisecond))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait for ingestion job-7")
}

func TestIngestFiles_OrderedResults(t *testing.T) {
	dir := t.TempDir()
	paths := make([]string, 3)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("doc-%d.txt", i))
		require.NoError(t, os.WriteFile(paths[i], []byte(fmt.Sprintf("contenu %d", i)), 0o600))
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)

		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, jobJSON("job-"+header.Filename, JobPending))
	})

	client, _ := newTestClient(t, handler)

	jobs, err := client.IngestFiles(context.Background(), paths, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	for i, job := range jobs {
		assert.Equal(t, fmt.Sprintf("job-doc-%d.txt", i), job.ID)
	}
}

func TestIngestFiles_MissingFileFailsFast(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, jobJSON("job-x", JobPending))
	})

	client, _ := newTestClient(t, handler)

	_, err := client.IngestFiles(context.Background(), []string{filepath.Join(t.TempDir(), "absent.txt")}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.txt")
	assert.Equal(t, int32(0), hits.Load())
}

func TestJobStatus_Terminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{JobPending, false},
		{JobProcessing, false},
		{JobCompleted, true},
		{JobFailed, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.Terminal(), "status %s", tt.status)
	}
}
