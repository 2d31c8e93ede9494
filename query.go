package corpora

import (
	"context"
	"net/http"
)

// QueryRequest is the payload of a retrieval query.
type QueryRequest struct {
	Question string            `json:"question"`
	TopK     int               `json:"top_k,omitempty"`
	Sources  []string          `json:"sources,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
}

// Source is a document passage that grounded an answer.
type Source struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// QueryResponse is the synchronous answer to a query.
type QueryResponse struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	QueryID string   `json:"query_id"`
}

// QueryOption customises a query request.
type QueryOption func(*QueryRequest)

// WithTopK limits how many source passages the backend retrieves.
func WithTopK(k int) QueryOption {
	return func(r *QueryRequest) {
		r.TopK = k
	}
}

// WithSourceFilter restricts retrieval to the named document sources.
func WithSourceFilter(sources ...string) QueryOption {
	return func(r *QueryRequest) {
		r.Sources = append(r.Sources, sources...)
	}
}

// WithFilter adds a metadata filter applied during retrieval.
func WithFilter(key, value string) QueryOption {
	return func(r *QueryRequest) {
		if r.Filters == nil {
			r.Filters = make(map[string]string)
		}
		r.Filters[key] = value
	}
}

// Query runs a retrieval query and waits for the full answer.
func (c *Client) Query(ctx context.Context, question string, opts ...QueryOption) (*QueryResponse, error) {
	reqBody := QueryRequest{Question: question}
	for _, opt := range opts {
		opt(&reqBody)
	}

	var out QueryResponse
	if err := c.doJSON(ctx, http.MethodPost, c.apiURL("query"), reqBody, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
