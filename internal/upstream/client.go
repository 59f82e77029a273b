package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stellarlinkco/kbyg/internal/jsonx"
)

const defaultTimeout = 60 * time.Second

// Options configure a Client. Model, Temperature and MaxTokens fill in
// whatever a Request leaves unset. A nil Temperature means the default;
// an explicit 0 is sent as is.
type Options struct {
	EndpointURL string
	BearerToken string
	Model       string
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client posts generation requests to a single configured endpoint.
// A call is exactly one HTTP exchange; failures are not retried.
type Client struct {
	opts Options
	http *resty.Client
}

func New(opts Options) *Client {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	opts.Temperature = Float(TemperatureOr(opts.Temperature, DefaultTemperature))
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Client{
		opts: opts,
		http: resty.New().SetTimeout(opts.Timeout),
	}
}

// Endpoint returns the configured URL.
func (c *Client) Endpoint() string { return c.opts.EndpointURL }

func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	endpoint := strings.TrimSpace(c.opts.EndpointURL)
	if endpoint == "" {
		return nil, ErrNotConfigured
	}
	if req.Model == "" {
		req.Model = c.opts.Model
	}
	if req.Temperature == nil {
		req.Temperature = Float(*c.opts.Temperature)
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.opts.MaxTokens
	}

	r := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req)
	if c.opts.BearerToken != "" {
		r.SetAuthToken(c.opts.BearerToken)
	}

	resp, err := r.Post(endpoint)
	if err != nil {
		return nil, &ConnectivityError{Endpoint: endpoint, Err: err}
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &StatusError{Status: resp.StatusCode(), Body: resp.String()}
	}

	var out Response
	if err := jsonx.Decode(resp.String(), &out); err != nil {
		return nil, fmt.Errorf("upstream response: %w", err)
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	return &out, nil
}

// IsConnectivity reports whether err came from a failed transport.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}
