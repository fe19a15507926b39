package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUnauthorized is returned when the gateway rejects the API key.
var ErrUnauthorized = errors.New("gateway rejected api key")

// Client talks to the gateway REST API. Fetches carry a bounded per-request
// timeout and a small fixed retry count for transient failures; anything
// still failing after that surfaces as an error for the caller to record.
type Client struct {
	http *resty.Client
}

// Options configures a Client.
type Options struct {
	// BaseURL is the gateway root, e.g. "https://gw.example.com".
	BaseURL string
	// APIKey is sent on every request in the gateway's apikey header.
	APIKey string
	// FetchTimeout bounds one HTTP round trip. Defaults to 15s.
	FetchTimeout time.Duration
	// Retries is the retry count for transient failures. Defaults to 2.
	Retries int
}

// NewClient builds a gateway client with retry and timeout policy applied.
func NewClient(opts Options) *Client {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 2
	}

	c := resty.New().
		SetBaseURL(opts.BaseURL).
		SetHeader("apikey", opts.APIKey).
		SetHeader("Accept", "application/json").
		SetTimeout(opts.FetchTimeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{http: c}
}

// FetchMessages returns one page of raw messages for an instance. The
// gateway guarantees no particular ordering; callers must not depend on it.
// Pagination contract: a page shorter than limit is the last page.
func (c *Client) FetchMessages(ctx context.Context, instanceID string, limit, offset int) ([]RawMessage, error) {
	var out []RawMessage
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetQueryParam("offset", strconv.Itoa(offset)).
		SetResult(&out).
		Get("/messages/" + instanceID)
	if err != nil {
		return nil, fmt.Errorf("fetch messages (instance %s, offset %d): %w", instanceID, offset, err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("fetch messages (instance %s, offset %d): %w", instanceID, offset, err)
	}
	return out, nil
}

// FetchInstances lists the integration instances visible to the API key.
func (c *Client) FetchInstances(ctx context.Context) ([]Instance, error) {
	var out []Instance
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/instances")
	if err != nil {
		return nil, fmt.Errorf("fetch instances: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("fetch instances: %w", err)
	}
	return out, nil
}

func checkStatus(resp *resty.Response) error {
	switch {
	case resp.StatusCode() == http.StatusUnauthorized, resp.StatusCode() == http.StatusForbidden:
		return ErrUnauthorized
	case resp.IsError():
		return fmt.Errorf("gateway returned %s", resp.Status())
	}
	return nil
}
