// Package apierror normalizes every failure the client can encounter,
// whether an HTTP error response, a transport failure, or a plain
// error, into a single APIError shape with a localized user-facing
// message. Classification is pure: side effects such as credential
// clearing or rate-limit activation belong to the client.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/corpora-ai/corpora-go/internal/i18n"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, apierror.ErrRateLimited) to check.
var (
	ErrNetwork      = errors.New("corpora: network failure")
	ErrUnauthorized = errors.New("corpora: unauthorized")
	ErrForbidden    = errors.New("corpora: forbidden")
	ErrNotFound     = errors.New("corpora: not found")
	ErrRateLimited  = errors.New("corpora: rate limited")
	ErrValidation   = errors.New("corpora: validation failed")
	ErrServer       = errors.New("corpora: server error")
	ErrUnknown      = errors.New("corpora: unknown error")
)

// maxErrorBody bounds how much of an error response body is read when
// looking for a server-supplied detail message.
const maxErrorBody = 1 << 20

// APIError wraps a sentinel error with the HTTP status code, a
// localized message, and whatever detail the server sent.
type APIError struct {
	// StatusCode is 0 for network-level failures, including timeouts.
	StatusCode int
	// Message is localized and safe to show to the user.
	Message string
	// RetryAfter is the wait the server requested. Set only for
	// rate-limited errors; 0 means the server sent no usable value.
	RetryAfter time.Duration
	// Details holds the decoded error payload when the server sent
	// JSON, nil otherwise.
	Details map[string]any

	// Err is the sentinel, for errors.Is().
	Err error
	// cause is the underlying transport error, when any.
	cause error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("corpora: %s", e.Message)
	}

	return fmt.Sprintf("corpora: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Err, e.cause}
	}

	return []error{e.Err}
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case 0:
		return ErrNetwork
	case http.StatusBadRequest:
		return ErrValidation
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		if code >= http.StatusInternalServerError {
			return ErrServer
		}
		if code >= 200 && code < 300 {
			return nil
		}

		return ErrUnknown
	}
}

// New builds an APIError for a failure the client produced itself,
// such as a cool-down rejection that never reached the network or an
// in-stream error event. An empty message falls back to the fixed
// table for the code.
func New(statusCode int, message string) *APIError {
	if message == "" {
		message = MessageFor(statusCode)
	}

	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		Err:        classifyStatus(statusCode),
	}
}

// FromResponse builds an APIError from a non-2xx response. It reads
// resp.Body (closing remains the caller's responsibility) and prefers
// a server-supplied detail message over the fixed message table. The
// Retry-After header, when present and parseable, is recorded.
func FromResponse(resp *http.Response) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Err:        classifyStatus(resp.StatusCode),
	}

	if body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)); err == nil && len(body) > 0 {
		var details map[string]any
		if json.Unmarshal(body, &details) == nil {
			apiErr.Details = details
			apiErr.Message = detailMessage(details)
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = MessageFor(resp.StatusCode)
	}

	if v := resp.Header.Get("Retry-After"); v != "" {
		if d, ok := ParseRetryAfter(v, time.Now()); ok {
			apiErr.RetryAfter = d
		}
	}

	return apiErr
}

// detailMessage extracts a human-readable message from a decoded error
// payload. The backend uses "detail"; "message" and "error" cover
// proxies and gateways in front of it.
func detailMessage(details map[string]any) string {
	for _, key := range []string{"detail", "message", "error"} {
		if s, ok := details[key].(string); ok && s != "" {
			return s
		}
	}

	return ""
}

// Classify normalizes an arbitrary error into an APIError. An error
// that already is (or wraps) an APIError is returned unchanged.
// Transport-level failures, timeouts included, classify as ErrNetwork
// with status 0; the original error stays reachable through errors.Is.
func Classify(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	message := ""
	var urlErr *url.Error
	switch {
	case errors.As(err, &urlErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		message = i18n.T("error.network")
	default:
		message = err.Error()
	}
	if message == "" {
		message = i18n.T("error.network")
	}

	return &APIError{
		StatusCode: 0,
		Message:    message,
		Err:        ErrNetwork,
		cause:      err,
	}
}
