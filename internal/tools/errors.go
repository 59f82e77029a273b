package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/stellarlinkco/kbyg/internal/jsonx"
	"github.com/stellarlinkco/kbyg/internal/store"
	"github.com/stellarlinkco/kbyg/internal/upstream"
)

// UnknownToolError is returned for a tool name outside the registry.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string { return "Unknown tool: " + e.Name }

// InvalidArgumentsError reports a missing or mistyped argument.
type InvalidArgumentsError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("invalid arguments for %s: %s %s", e.Tool, e.Field, e.Reason)
}

type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindConnectivity     ErrorKind = "connectivity"
	KindUpstreamStatus   ErrorKind = "upstream_status"
	KindDecode           ErrorKind = "decode"
	KindUnknownTool      ErrorKind = "unknown_tool"
	KindNotFound         ErrorKind = "not_found"
	KindInvalidArguments ErrorKind = "invalid_arguments"
	KindNotConfigured    ErrorKind = "not_configured"
	KindCanceled         ErrorKind = "canceled"
	KindInternal         ErrorKind = "internal"
)

// Classify maps an error onto the failure taxonomy.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		unknown  *UnknownToolError
		invalid  *InvalidArgumentsError
		conn     *upstream.ConnectivityError
		status   *upstream.StatusError
		decodeEr *jsonx.DecodeError
	)
	switch {
	case errors.As(err, &unknown):
		return KindUnknownTool
	case errors.As(err, &invalid):
		return KindInvalidArguments
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrEventNotFound):
		return KindNotFound
	case errors.As(err, &status):
		return KindUpstreamStatus
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.As(err, &conn):
		return KindConnectivity
	case errors.As(err, &decodeEr):
		return KindDecode
	case errors.Is(err, upstream.ErrNotConfigured):
		return KindNotConfigured
	default:
		return KindInternal
	}
}
