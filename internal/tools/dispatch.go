package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
	"unicode/utf8"
)

// Response is the envelope every call produces.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Caller runs a tool and always yields an envelope. Implemented locally by
// Dispatcher and remotely by toolclient.
type Caller interface {
	Call(ctx context.Context, tool string, args map[string]any) Response
}

// Observer is told about every finished call.
type Observer interface {
	ObserveToolCall(tool string, kind ErrorKind, elapsed time.Duration)
}

type Dispatcher struct {
	reg *Registry
	obs Observer
}

func NewDispatcher(reg *Registry, obs Observer) *Dispatcher {
	return &Dispatcher{reg: reg, obs: obs}
}

func (d *Dispatcher) Registry() *Registry { return d.reg }

// Call runs the named tool and folds the outcome into a Response.
func (d *Dispatcher) Call(ctx context.Context, tool string, args map[string]any) Response {
	data, err := d.Invoke(ctx, tool, args)
	if err != nil {
		return Response{Success: false, Error: err.Error()}
	}
	return Response{Success: true, Data: data}
}

// Invoke runs the named tool and returns its raw result or typed error.
func (d *Dispatcher) Invoke(ctx context.Context, tool string, args map[string]any) (data any, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[tools] %s panicked: %v", tool, r)
			data, err = nil, fmt.Errorf("tool %s failed: internal error", tool)
		}
		kind := Classify(err)
		if err != nil {
			log.Printf("[tools] %s failed (%s) in %s: %v", tool, kind, time.Since(start).Round(time.Millisecond), err)
		}
		if d.obs != nil {
			d.obs.ObserveToolCall(tool, kind, time.Since(start))
		}
	}()

	t, ok := d.reg.Get(tool)
	if !ok {
		return nil, &UnknownToolError{Name: tool}
	}
	a := Args(args)
	if a == nil {
		a = Args{}
	}
	log.Printf("[tools] call %s args=%s", tool, preview(a))
	if err := a.check(t); err != nil {
		return nil, err
	}
	return t.Handler(ctx, a)
}

const previewLen = 200

func preview(a Args) string {
	b, err := json.Marshal(a)
	if err != nil {
		return "<unencodable>"
	}
	if len(b) <= previewLen {
		return string(b)
	}
	cut := previewLen
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut]) + "..."
}
