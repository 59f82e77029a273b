// Package upstream defines the text-generation contract shared by every
// model backend and implements the HTTP caller for a remote generation
// endpoint.
package upstream

import (
	"context"
	"errors"
)

const (
	DefaultModel       = "gemini-2.0-flash-exp"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2500
)

// Request is the body posted to a generation endpoint.
type Request struct {
	Prompt            string   `json:"prompt"`
	SystemInstruction string   `json:"systemInstruction,omitempty"`
	Model             string   `json:"model,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxTokens         int      `json:"maxTokens,omitempty"`
}

// Response is what a generation endpoint returns.
type Response struct {
	Text       string `json:"text"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokensUsed,omitempty"`
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Response, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// ErrNotConfigured is returned by Unconfigured.
var ErrNotConfigured = errors.New("no generation backend configured")

// Unconfigured is the Generator used when neither an upstream endpoint nor
// a Gemini key is set. Data tools keep working; AI tools fail cleanly.
type Unconfigured struct{}

func (Unconfigured) Generate(context.Context, Request) (*Response, error) {
	return nil, ErrNotConfigured
}

// Float returns a pointer to v, for Request.Temperature.
func Float(v float64) *float64 { return &v }

// TemperatureOr returns *t, or def when t is unset or negative.
func TemperatureOr(t *float64, def float64) float64 {
	if t == nil || *t < 0 {
		return def
	}
	return *t
}
