package corpora

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/corpora-ai/corpora-go/apierror"
)

// ErrIngestionFailed marks a job that reached the failed state. The
// backend's reason is appended to the message.
var ErrIngestionFailed = errors.New("corpora: ingestion failed")

var errJobRunning = errors.New("ingestion still running")

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the job reached a final state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// IngestJob tracks one document through the ingestion pipeline.
type IngestJob struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Status     JobStatus `json:"status"`
	DocumentID string    `json:"document_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IngestFile uploads one document for indexing. The content is sent as
// a multipart form under the "file" field; filename only informs the
// backend's type detection.
func (c *Client) IngestFile(ctx context.Context, filename string, content io.Reader) (*IngestJob, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build multipart form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.apiURL("ingest", "file"), mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.send(req, c.httpc)
	if err != nil {
		return nil, err
	}

	return decodeJob(resp)
}

// IngestText indexes a raw text snippet under the given title.
func (c *Client) IngestText(ctx context.Context, title, content string) (*IngestJob, error) {
	in := struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}{Title: title, Content: content}

	return c.postIngest(ctx, c.apiURL("ingest", "text"), in)
}

// IngestURL asks the backend to fetch and index the page at rawURL.
func (c *Client) IngestURL(ctx context.Context, rawURL string) (*IngestJob, error) {
	in := struct {
		URL string `json:"url"`
	}{URL: rawURL}

	return c.postIngest(ctx, c.apiURL("ingest", "url"), in)
}

// IngestionJob fetches the current state of a job.
func (c *Client) IngestionJob(ctx context.Context, id string) (*IngestJob, error) {
	if id == "" {
		return nil, errors.New("corpora: job id required")
	}

	var job IngestJob
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL("ingest", "jobs", id), nil, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

// WaitOption tunes how WaitIngestion polls.
type WaitOption func(*backoff.ExponentialBackOff)

// WithPollInterval sets the first polling delay. Default 1s.
func WithPollInterval(d time.Duration) WaitOption {
	return func(b *backoff.ExponentialBackOff) {
		if d > 0 {
			b.InitialInterval = d
		}
	}
}

// WithWaitTimeout bounds the total wait. Default 10m.
func WithWaitTimeout(d time.Duration) WaitOption {
	return func(b *backoff.ExponentialBackOff) {
		if d > 0 {
			b.MaxElapsedTime = d
		}
	}
}

// WaitIngestion polls a job until it reaches a terminal state. Polling
// backs off exponentially; transient failures (network, 5xx, and
// rate-limit cool-downs, which expire on their own) keep the wait
// alive while any other API error aborts it.
func (c *Client) WaitIngestion(ctx context.Context, id string, opts ...WaitOption) (*IngestJob, error) {
	var job *IngestJob

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Second
	expo.MaxInterval = 10 * time.Second
	expo.MaxElapsedTime = 10 * time.Minute
	for _, opt := range opts {
		opt(expo)
	}

	op := func() error {
		j, err := c.IngestionJob(ctx, id)
		if err != nil {
			switch {
			case errors.Is(err, apierror.ErrNetwork),
				errors.Is(err, apierror.ErrServer),
				errors.Is(err, apierror.ErrRateLimited):
				return err
			}
			return backoff.Permanent(err)
		}

		job = j
		if !j.Status.Terminal() {
			return errJobRunning
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return nil, fmt.Errorf("wait for ingestion %s: %w", id, err)
	}

	if job.Status == JobFailed {
		return job, fmt.Errorf("%w: %s", ErrIngestionFailed, job.Error)
	}

	return job, nil
}

// IngestFiles uploads several files concurrently, at most concurrency
// at a time. The returned jobs are ordered like paths. The first
// failure cancels the remaining uploads.
func (c *Client) IngestFiles(ctx context.Context, paths []string, concurrency int) ([]*IngestJob, error) {
	if concurrency <= 0 {
		concurrency = 4
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	jobs := make([]*IngestJob, len(paths))
	for i, path := range paths {
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()

			job, err := c.IngestFile(ctx, filepath.Base(path), f)
			if err != nil {
				return fmt.Errorf("ingest %s: %w", path, err)
			}
			jobs[i] = job

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return jobs, nil
}

func (c *Client) postIngest(ctx context.Context, u *url.URL, in any) (*IngestJob, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, u, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.send(req, c.httpc)
	if err != nil {
		return nil, err
	}

	return decodeJob(resp)
}

func decodeJob(resp *http.Response) (*IngestJob, error) {
	defer resp.Body.Close()

	var job IngestJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, apierror.Classify(fmt.Errorf("decode response: %w", err))
	}

	return &job, nil
}
