package corpora

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// APIKey describes a key as the management endpoints expose it. The
// secret itself never appears here; only the display prefix does.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// CreatedAPIKey carries the plaintext key. The backend returns it
// exactly once, at creation; store it or lose it.
type CreatedAPIKey struct {
	APIKey
	Key string `json:"key"`
}

// CreateAPIKey provisions a new key under the given display name.
func (c *Client) CreateAPIKey(ctx context.Context, name string) (*CreatedAPIKey, error) {
	in := struct {
		Name string `json:"name"`
	}{Name: name}

	var out CreatedAPIKey
	if err := c.doJSON(ctx, http.MethodPost, c.apiURL("keys"), in, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// ListAPIKeys returns every key of the account, revoked ones included.
func (c *Client) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	var out []APIKey
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL("keys"), nil, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// RevokeAPIKey permanently disables a key. Requests carrying it fail
// with 401 from that point on.
func (c *Client) RevokeAPIKey(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("corpora: key id required")
	}

	return c.doJSON(ctx, http.MethodDelete, c.apiURL("keys", id), nil, nil)
}
