package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"tools.zach/dev/livestatus/internal/atomicfile"
)

// DailyConfig describes the coding-durations endpoint used for today's total.
// The literal "{date}" in URL is replaced by the local date (YYYY-MM-DD).
type DailyConfig struct {
	URL       string
	Auth      Auth
	Timeout   time.Duration
	CachePath string
	Now       func() time.Time
}

// DailyResult is today's aggregate coding time.
type DailyResult struct {
	Date   string        `json:"date"`
	Total  time.Duration `json:"total"`
	Cached bool          `json:"-"`
}

// DailyTotal sums a day's coding durations, falling back to the last value
// cached for the same day when the fetch fails.
type DailyTotal struct {
	cfg    DailyConfig
	client *retryablehttp.Client
}

// NewDailyTotal validates cfg and returns a DailyTotal.
func NewDailyTotal(cfg DailyConfig, client *retryablehttp.Client) (*DailyTotal, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("daily total has no url")
	}
	if err := cfg.Auth.validate(); err != nil {
		return nil, fmt.Errorf("daily total: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &DailyTotal{cfg: cfg, client: client}, nil
}

type durationsResponse struct {
	Data *[]struct {
		Duration float64 `json:"duration"`
	} `json:"data"`
}

// Fetch returns today's total. On fetch failure it returns the cached value
// for today with Cached set and a non-nil error describing the failure. It
// returns a zero result and an error when neither source has today's value.
func (d *DailyTotal) Fetch(ctx context.Context) (DailyResult, error) {
	date := d.cfg.Now().Format(time.DateOnly)

	res, err := d.fetch(ctx, date)
	if err == nil {
		if d.cfg.CachePath != "" {
			if cacheErr := atomicfile.WriteJSON(d.cfg.CachePath, res, 0o644); cacheErr != nil {
				slog.Warn("failed to write daily cache", "error", cacheErr)
			}
		}
		return res, nil
	}

	cached, cacheErr := d.readCache(date)
	if cacheErr == nil {
		return cached, fmt.Errorf("using cached daily total: primary fetch failed: %w", err)
	}
	return DailyResult{}, fmt.Errorf("daily total unavailable: primary: %w; cache: %w", err, cacheErr)
}

func (d *DailyTotal) fetch(ctx context.Context, date string) (DailyResult, error) {
	url := strings.ReplaceAll(d.cfg.URL, "{date}", date)

	var body durationsResponse
	if _, err := getJSON(ctx, d.client, url, d.cfg.Auth, d.cfg.Timeout, &body); err != nil {
		return DailyResult{}, err
	}
	if body.Data == nil {
		return DailyResult{}, malformed("durations response has no data array")
	}

	var secs float64
	for _, e := range *body.Data {
		if e.Duration > 0 {
			secs += e.Duration
		}
	}
	return DailyResult{Date: date, Total: time.Duration(secs * float64(time.Second))}, nil
}

// readCache returns the cached total when it is for date.
func (d *DailyTotal) readCache(date string) (DailyResult, error) {
	if d.cfg.CachePath == "" {
		return DailyResult{}, fmt.Errorf("no cache configured")
	}
	var res DailyResult
	ok, err := atomicfile.ReadJSON(d.cfg.CachePath, &res)
	if err != nil {
		return DailyResult{}, fmt.Errorf("reading daily cache: %w", err)
	}
	if !ok {
		return DailyResult{}, fmt.Errorf("no daily cache")
	}
	if res.Date != date {
		return DailyResult{}, fmt.Errorf("daily cache is for %s", res.Date)
	}
	res.Cached = true
	return res, nil
}
