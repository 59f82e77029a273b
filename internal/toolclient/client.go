// Package toolclient calls the tools of a running kbyg server over HTTP.
package toolclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stellarlinkco/kbyg/internal/tools"
	"github.com/stellarlinkco/kbyg/internal/upstream"
)

type Client struct {
	baseURL string
	token   string
	http    *resty.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    resty.New().SetTimeout(timeout),
	}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	r := c.http.R().SetContext(ctx).SetHeader("Content-Type", "application/json")
	if c.token != "" {
		r.SetAuthToken(c.token)
	}
	return r
}

// Call implements tools.Caller. Transport and HTTP failures are folded
// into the envelope like any tool failure.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any) tools.Response {
	if args == nil {
		args = map[string]any{}
	}
	endpoint := c.baseURL + "/call"
	resp, err := c.request(ctx).
		SetBody(map[string]any{"tool": tool, "arguments": args}).
		Post(endpoint)
	if err != nil {
		return tools.Response{Error: (&upstream.ConnectivityError{Endpoint: endpoint, Err: err}).Error()}
	}
	if !resp.IsSuccess() {
		return tools.Response{Error: (&upstream.StatusError{Status: resp.StatusCode(), Body: resp.String()}).Error()}
	}
	var out tools.Response
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return tools.Response{Error: fmt.Sprintf("decode response: %v", err)}
	}
	return out
}

type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ListTools uses the JSON-RPC /tools/list endpoint.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	endpoint := c.baseURL + "/tools/list"
	var out struct {
		Result struct {
			Tools []ToolInfo `json:"tools"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	resp, err := c.request(ctx).
		SetBody(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"}).
		SetResult(&out).
		Post(endpoint)
	if err != nil {
		return nil, &upstream.ConnectivityError{Endpoint: endpoint, Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &upstream.StatusError{Status: resp.StatusCode(), Body: resp.String()}
	}
	if out.Error != nil {
		return nil, fmt.Errorf("tools/list: %s (%d)", out.Error.Message, out.Error.Code)
	}
	return out.Result.Tools, nil
}

type Health struct {
	Status  string `json:"status"`
	Server  string `json:"server"`
	Version string `json:"version"`
	Tools   int    `json:"tools"`
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	endpoint := c.baseURL + "/health"
	var out Health
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get(endpoint)
	if err != nil {
		return nil, &upstream.ConnectivityError{Endpoint: endpoint, Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &upstream.StatusError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return &out, nil
}
