package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stellarlinkco/kbyg/internal/upstream"
)

func TestProxy_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-test:generateContent" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "k" {
			t.Fatalf("missing api key header")
		}
		var body generateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Contents[0].Parts[0].Text != "hello" {
			t.Fatalf("prompt = %+v", body.Contents)
		}
		if body.SystemInstruction == nil || body.SystemInstruction.Parts[0].Text != "sys" {
			t.Fatalf("system instruction = %+v", body.SystemInstruction)
		}
		if body.GenerationConfig.Temperature != 0.3 || body.GenerationConfig.MaxOutputTokens != 4000 {
			t.Fatalf("generation config = %+v", body.GenerationConfig)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"answer"}]}}],"usageMetadata":{"totalTokenCount":42}}`))
	}))
	defer srv.Close()

	p, err := New(Options{APIKey: "k", BaseURL: srv.URL + "/", Model: "gemini-test"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	resp, err := p.Generate(context.Background(), upstream.Request{
		Prompt:            "hello",
		SystemInstruction: "sys",
		Temperature:       upstream.Float(0.3),
		MaxTokens:         4000,
	})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if resp.Text != "answer" || resp.Model != "gemini-test" || resp.TokensUsed != 42 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestProxy_DefaultsAndNoSystemInstruction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/"+upstream.DefaultModel+":generateContent" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["systemInstruction"]; ok {
			t.Fatal("systemInstruction should be omitted")
		}
		cfg := body["generationConfig"].(map[string]any)
		if cfg["temperature"].(float64) != upstream.DefaultTemperature || cfg["maxOutputTokens"].(float64) != upstream.DefaultMaxTokens {
			t.Fatalf("generation config = %v", cfg)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"x"}]}}]}`))
	}))
	defer srv.Close()

	p, _ := New(Options{APIKey: "k", BaseURL: srv.URL})
	resp, err := p.Generate(context.Background(), upstream.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if resp.TokensUsed != 0 {
		t.Fatalf("tokens = %d", resp.TokensUsed)
	}
}

func TestProxy_Errors(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models/bad:generateContent":
			http.Error(w, "invalid key", http.StatusForbidden)
		default:
			_, _ = w.Write([]byte(`{"candidates":[]}`))
		}
	}))
	defer srv.Close()
	p, _ := New(Options{APIKey: "k", BaseURL: srv.URL})

	if _, err := p.Generate(context.Background(), upstream.Request{Prompt: "  "}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}

	_, err := p.Generate(context.Background(), upstream.Request{Prompt: "p", Model: "bad"})
	var se *upstream.StatusError
	if !errors.As(err, &se) || se.Status != http.StatusForbidden || se.Body != "invalid key" {
		t.Fatalf("expected 403 status error, got %v", err)
	}

	if _, err := p.Generate(context.Background(), upstream.Request{Prompt: "p"}); !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
}

func TestProxy_ZeroTemperature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		cfg := body["generationConfig"].(map[string]any)
		if temp, ok := cfg["temperature"].(float64); !ok || temp != 0 {
			t.Fatalf("temperature = %v", cfg["temperature"])
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"x"}]}}]}`))
	}))
	defer srv.Close()

	p, _ := New(Options{APIKey: "k", BaseURL: srv.URL, Temperature: upstream.Float(0)})
	if _, err := p.Generate(context.Background(), upstream.Request{Prompt: "p"}); err != nil {
		t.Fatalf("Generate error: %v", err)
	}
}
