package corpora

import (
	"context"
	"net/http"
)

// UsageReport summarises account activity over the reporting period.
type UsageReport struct {
	Period         string       `json:"period"`
	TotalQueries   int          `json:"total_queries"`
	TotalDocuments int          `json:"total_documents"`
	TokensUsed     int64        `json:"tokens_used"`
	QuotaLimit     int64        `json:"quota_limit"`
	ByDay          []DailyUsage `json:"by_day"`
}

// DailyUsage is one day of the usage report.
type DailyUsage struct {
	Date    string `json:"date"`
	Queries int    `json:"queries"`
	Tokens  int64  `json:"tokens"`
}

// Analytics fetches the account usage report.
func (c *Client) Analytics(ctx context.Context) (*UsageReport, error) {
	var out UsageReport
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL("analytics"), nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
