package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// maxResponseBytes caps every response body read by a source.
const maxResponseBytes = 1 << 20 // 1 MiB

// DefaultTimeout bounds one poll, retries included, when a source sets none.
const DefaultTimeout = 8 * time.Second

// NewHTTPClient returns the retrying client shared by all sources. Rate
// limits are never retried in place; the poller backs off instead.
func NewHTTPClient(retryMax int) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.RetryWaitMin = 250 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 10 * time.Second
	c.Logger = nil // suppress retryablehttp's default logging
	c.CheckRetry = checkRetry
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

// checkRetry is the default policy minus 429s.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// ///////////////////////////////////////////////
// Auth
// ///////////////////////////////////////////////

// Auth modes.
const (
	AuthNone   = "none"
	AuthBasic  = "basic"
	AuthBearer = "bearer"
)

// Auth describes how requests are authenticated. Token is the resolved
// secret, never the name of the variable holding it.
type Auth struct {
	Mode  string
	Token string
}

// validate checks that a mode needing a token has one.
func (a Auth) validate() error {
	switch a.Mode {
	case "", AuthNone:
		return nil
	case AuthBasic, AuthBearer:
		if a.Token == "" {
			return fmt.Errorf("auth %q requires a token", a.Mode)
		}
		return nil
	default:
		return fmt.Errorf("unknown auth mode %q", a.Mode)
	}
}

// apply sets the Authorization header. Basic auth sends the token alone,
// base64-encoded, the way WakaTime expects an API key.
func (a Auth) apply(req *retryablehttp.Request) {
	switch a.Mode {
	case AuthBasic:
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(a.Token)))
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
}

// ///////////////////////////////////////////////
// Requests
// ///////////////////////////////////////////////

// getJSON performs one GET under timeout and decodes a 200 body into v. It
// returns the status code; a 204 is a success with nothing decoded.
func getJSON(ctx context.Context, client *retryablehttp.Client, url string, auth Auth, timeout time.Duration, v any) (int, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")
	auth.apply(req)

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return resp.StatusCode, nil
	default:
		return resp.StatusCode, &StatusError{
			Code:       resp.StatusCode,
			URL:        url,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response from %s: %w", url, err)
	}
	if len(body) > maxResponseBytes {
		return resp.StatusCode, fmt.Errorf("%w: response from %s exceeds %d bytes", ErrMalformed, url, maxResponseBytes)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %s: %v", ErrMalformed, url, err)
	}
	return resp.StatusCode, nil
}
