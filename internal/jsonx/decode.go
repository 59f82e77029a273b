package jsonx

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// SnippetLen bounds how much of the offending text a DecodeError keeps.
const SnippetLen = 200

// DecodeError reports sanitized text that is not valid JSON for the target.
type DecodeError struct {
	Snippet string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode model output: %v (text: %q)", e.Err, e.Snippet)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NewDecodeError reports text that decoded but does not have the shape
// the caller needs.
func NewDecodeError(text string, err error) *DecodeError {
	return &DecodeError{Snippet: snippet(text), Err: err}
}

// Decode parses sanitized text into v, which must be a non-nil pointer.
// v is only written when the whole text decodes; on error it is left as
// it was.
func Decode(text string, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return NewDecodeError(text, &json.InvalidUnmarshalError{Type: reflect.TypeOf(v)})
	}
	fresh := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal([]byte(text), fresh.Interface()); err != nil {
		return NewDecodeError(text, err)
	}
	rv.Elem().Set(fresh.Elem())
	return nil
}

// Parse sanitizes raw model output and decodes it into a T.
func Parse[T any](raw string) (T, error) {
	var out T
	if err := Decode(Sanitize(raw), &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= SnippetLen {
		return s
	}
	return string(r[:SnippetLen])
}
