// Package gemini serves the generation contract by calling the hosted
// Gemini generateContent API. The API key never leaves the server.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stellarlinkco/kbyg/internal/jsonx"
	"github.com/stellarlinkco/kbyg/internal/upstream"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

var (
	ErrMissingAPIKey = errors.New("gemini api key is required")
	ErrEmptyPrompt   = errors.New("prompt is required")
	ErrNoText        = errors.New("no text in gemini response")
)

type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64 // nil means upstream.DefaultTemperature
	MaxTokens   int
	Timeout     time.Duration
}

// Proxy implements upstream.Generator against Gemini.
type Proxy struct {
	opts Options
	http *resty.Client
}

func New(opts Options) (*Proxy, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Model == "" {
		opts.Model = upstream.DefaultModel
	}
	opts.Temperature = upstream.Float(upstream.TemperatureOr(opts.Temperature, upstream.DefaultTemperature))
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = upstream.DefaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Proxy{opts: opts, http: resty.New().SetTimeout(opts.Timeout)}, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (p *Proxy) Generate(ctx context.Context, req upstream.Request) (*upstream.Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	model := req.Model
	if model == "" {
		model = p.opts.Model
	}
	temperature := *p.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := p.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	body := generateRequest{
		Contents:         []content{{Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: generationConfig{Temperature: temperature, MaxOutputTokens: maxTokens},
	}
	if req.SystemInstruction != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.SystemInstruction}}}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", p.opts.BaseURL, url.PathEscape(model))
	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", p.opts.APIKey).
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return nil, &upstream.ConnectivityError{Endpoint: endpoint, Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &upstream.StatusError{Status: resp.StatusCode(), Body: resp.String()}
	}

	var decoded generateResponse
	if err := jsonx.Decode(resp.String(), &decoded); err != nil {
		return nil, fmt.Errorf("gemini response: %w", err)
	}
	var text string
	if len(decoded.Candidates) > 0 && len(decoded.Candidates[0].Content.Parts) > 0 {
		text = decoded.Candidates[0].Content.Parts[0].Text
	}
	if text == "" {
		return nil, ErrNoText
	}

	out := &upstream.Response{Text: text, Model: model}
	if decoded.UsageMetadata != nil {
		out.TokensUsed = decoded.UsageMetadata.TotalTokenCount
	}
	return out, nil
}
