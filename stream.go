package corpora

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/corpora-ai/corpora-go/apierror"
)

// Server-sent event types emitted by the streaming query endpoint.
const (
	StreamEventChunk   = "chunk"
	StreamEventSources = "sources"
	StreamEventDone    = "done"
	StreamEventError   = "error"
)

// maxStreamLine bounds a single SSE line. Chunks are small; sources
// payloads carry snippets and can grow.
const maxStreamLine = 1 << 20

// StreamEvent is one event of a streaming query. Type selects which
// of the remaining fields carry data.
type StreamEvent struct {
	Type    string
	Text    string   // chunk
	Sources []Source // sources
	QueryID string   // done
}

// StreamReader iterates over the events of one streaming query. It is
// not safe for concurrent use. Close must be called unless Collect
// drained the stream.
type StreamReader struct {
	client  *Client
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
	closed  bool
	err     error
}

// QueryStream starts a streaming query. The connection stays open
// until the server finishes or ctx is cancelled; only the wait for
// response headers is bounded by the configured timeout.
func (c *Client) QueryStream(ctx context.Context, question string, opts ...QueryOption) (*StreamReader, error) {
	reqBody := QueryRequest{Question: question}
	for _, opt := range opts {
		opt(&reqBody)
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.apiURL("query", "stream"), "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.send(req, c.streamc)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	return &StreamReader{client: c, body: resp.Body, scanner: scanner}, nil
}

// Recv returns the next event. After the done event every further call
// returns io.EOF. A stream that ends without a done event surfaces as
// a network-class error.
func (r *StreamReader) Recv() (*StreamEvent, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.done {
		return nil, io.EOF
	}

	var (
		eventType string
		data      []string
	)
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if eventType == "" && len(data) == 0 {
				continue
			}
			event, err := r.dispatch(eventType, strings.Join(data, "\n"))
			if err != nil {
				r.err = err
				return nil, err
			}
			if event == nil {
				// Unknown event types are skipped.
				eventType = ""
				data = nil
				continue
			}
			return event, nil
		case strings.HasPrefix(line, ":"):
			// Keep-alive comment.
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := r.scanner.Err(); err != nil {
		r.err = apierror.Classify(err)
		return nil, r.err
	}

	r.err = apierror.Classify(fmt.Errorf("stream truncated: %w", io.ErrUnexpectedEOF))

	return nil, r.err
}

func (r *StreamReader) dispatch(eventType, payload string) (*StreamEvent, error) {
	switch eventType {
	case StreamEventChunk:
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, apierror.Classify(fmt.Errorf("decode chunk event: %w", err))
		}
		return &StreamEvent{Type: StreamEventChunk, Text: p.Text}, nil

	case StreamEventSources:
		var p struct {
			Sources []Source `json:"sources"`
		}
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, apierror.Classify(fmt.Errorf("decode sources event: %w", err))
		}
		return &StreamEvent{Type: StreamEventSources, Sources: p.Sources}, nil

	case StreamEventDone:
		var p struct {
			QueryID string `json:"query_id"`
		}
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, apierror.Classify(fmt.Errorf("decode done event: %w", err))
		}
		r.done = true
		return &StreamEvent{Type: StreamEventDone, QueryID: p.QueryID}, nil

	case StreamEventError:
		var p struct {
			Status  int    `json:"status"`
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, apierror.Classify(fmt.Errorf("decode error event: %w", err))
		}
		if p.Status == 0 {
			p.Status = http.StatusInternalServerError
		}
		apiErr := apierror.New(p.Status, p.Message)
		// In-band faults carry the same side effects as HTTP ones:
		// a 429 opens the cool-down, a 401 expires the credential.
		r.client.react(apiErr, nil)
		return nil, apiErr

	default:
		return nil, nil
	}
}

// Collect drains the stream and assembles the complete response. The
// reader is closed on return.
func (r *StreamReader) Collect() (*QueryResponse, error) {
	defer r.Close()

	var (
		answer strings.Builder
		out    QueryResponse
	)
	for {
		event, err := r.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch event.Type {
		case StreamEventChunk:
			answer.WriteString(event.Text)
		case StreamEventSources:
			out.Sources = event.Sources
		case StreamEventDone:
			out.QueryID = event.QueryID
		}
	}
	out.Answer = answer.String()

	return &out, nil
}

// Close releases the underlying connection. It is idempotent.
func (r *StreamReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	return r.body.Close()
}

// newStreamTransport bounds only the wait for response headers, so a
// healthy stream can run for as long as the server keeps talking.
func newStreamTransport(headerTimeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = headerTimeout

	return t
}
