package corpora

import (
	"context"
	"errors"
	"net/http"
)

// Feedback rates the answer of an earlier query.
type Feedback struct {
	QueryID string `json:"query_id"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

// SubmitFeedback records user feedback for a query. Rating semantics
// belong to the backend; the client only requires the query reference.
func (c *Client) SubmitFeedback(ctx context.Context, fb Feedback) error {
	if fb.QueryID == "" {
		return errors.New("corpora: query id required")
	}

	return c.doJSON(ctx, http.MethodPost, c.apiURL("feedback"), fb, nil)
}
