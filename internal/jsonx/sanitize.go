// Package jsonx turns free-form model output into decoded records.
//
// Models are asked for "JSON only" but routinely wrap the object in a
// markdown fence or put a sentence in front of it. Sanitize recovers the
// JSON substring with a fixed, ordered set of heuristics; Decode parses it
// and reports failures as *DecodeError.
package jsonx

import (
	"regexp"
	"strings"
)

var (
	jsonFenceRe  = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	anyFenceRe   = regexp.MustCompile("(?s)```\\s*(.*?)```")
	objectSpanRe = regexp.MustCompile(`(?s)\{.*\}`)

	leadingJSONMarkerRe = regexp.MustCompile("(?i)^```json\\s*")
	leadingMarkerRe     = regexp.MustCompile("^```\\s*")
	trailingMarkerRe    = regexp.MustCompile("```\\s*$")
)

// Sanitize extracts the JSON text embedded in raw model output.
//
// The order of attempts matters: a ```json fence wins over a bare fence,
// which wins over the outermost {...} span. Only the first fenced block is
// considered. The result is not validated; callers pass it to Decode.
func Sanitize(raw string) string {
	text := strings.TrimSpace(raw)

	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	} else if m := anyFenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	} else if span := objectSpanRe.FindString(text); span != "" {
		text = span
	}

	text = leadingJSONMarkerRe.ReplaceAllString(text, "")
	text = leadingMarkerRe.ReplaceAllString(text, "")
	text = trailingMarkerRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "[") {
		if idx := strings.Index(text, "{"); idx > 0 {
			text = text[idx:]
		}
	}

	return text
}
