package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Sentinel errors carried in [presence.Snapshot.FetchError]. Use errors.Is;
// a [*StatusError] matches ErrRateLimited and ErrNotFound by status code.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrNotFound    = errors.New("not found")
	ErrMalformed   = errors.New("malformed response")
	ErrUpstream    = errors.New("upstream reported failure")
)

// StatusError is returned for any non-success HTTP status.
type StatusError struct {
	Code int
	URL  string
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// Is maps 429 to [ErrRateLimited] and 404 to [ErrNotFound].
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Code == http.StatusTooManyRequests
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	}
	return false
}

// RetryAfter returns the server's Retry-After hint carried by err, if any.
func RetryAfter(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// parseRetryAfter reads a Retry-After header in either delta-seconds or
// HTTP-date form.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// Poll outcomes used for metrics and log levels.
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeNotFound    = "not_found"
	OutcomeTimeout     = "timeout"
	OutcomeMalformed   = "malformed"
	OutcomeStatus      = "status"
	OutcomeUpstream    = "upstream"
	OutcomeNetwork     = "network"
)

// Outcome classifies a fetch error. A nil error is [OutcomeOK].
func Outcome(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, ErrMalformed):
		return OutcomeMalformed
	case errors.Is(err, ErrUpstream):
		return OutcomeUpstream
	case errors.As(err, &se):
		return OutcomeStatus
	default:
		return OutcomeNetwork
	}
}

// Expected reports whether err is a routine failure that should be logged
// quietly: rate limits, 404s and timeouts.
func Expected(err error) bool {
	switch Outcome(err) {
	case OutcomeRateLimited, OutcomeNotFound, OutcomeTimeout:
		return true
	}
	return false
}
