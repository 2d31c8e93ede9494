package apierror

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter parses a Retry-After header value. Both forms from
// RFC 9110 are accepted: a non-negative integer number of seconds, or
// an HTTP-date, converted to the wait from now rounded up to the next
// whole second and floored at zero. The second return value is false
// when the value is absent or malformed.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}

		return time.Duration(secs) * time.Second, true
	}

	date, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}

	wait := date.Sub(now)
	if wait <= 0 {
		return 0, true
	}

	secs := math.Ceil(wait.Seconds())

	return time.Duration(secs) * time.Second, true
}
