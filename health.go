package corpora

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/corpora-ai/corpora-go/apierror"
)

// HealthStatus is the backend's self-report. The endpoint lives at the
// origin root, outside the versioned API prefix.
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health pings the backend. The stored credential rides along when
// present but the endpoint answers without one.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.doJSON(ctx, http.MethodGet, c.rootURL("health"), nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// HealthWithKey pings the backend with an explicit key instead of the
// stored credential, which makes it the cheapest way to validate a key
// before storing it. An invalid candidate surfaces as Unauthorized
// without expiring the stored credential.
func (c *Client) HealthWithKey(ctx context.Context, key string) (*HealthStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.rootURL("health"), "", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerAPIKey, key)

	resp, err := c.send(req, c.httpc)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apierror.Classify(fmt.Errorf("decode response: %w", err))
	}

	return &out, nil
}
