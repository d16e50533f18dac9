package provider

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"wacampaign/internal/config"
)

const defaultTimeout = 15 * time.Second

// newRestyClient builds the HTTP client shared by one adapter. Every request waits on the
// adapter's rate limiter and is bounded by the configured timeout.
func newRestyClient(cfg config.ProviderConfig) (*resty.Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL cannot be empty")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	limiter := rate.NewLimiter(limit, burst)

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	return client, nil
}

// check turns a resty result into nil or a categorized SendError
func check(resp *resty.Response, err error) error {
	if err != nil {
		return Categorize(0, "", err)
	}
	if resp.IsError() {
		return Categorize(resp.StatusCode(), resp.String(), nil)
	}
	return nil
}
