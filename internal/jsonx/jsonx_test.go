package jsonx

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

type persona struct {
	Persona              string   `json:"persona"`
	Likelihood           string   `json:"likelihood"`
	Count                string   `json:"count"`
	LinkedinMessage      string   `json:"linkedinMessage"`
	IceBreaker           string   `json:"iceBreaker"`
	ConversationStarters []string `json:"conversationStarters"`
	Keywords             []string `json:"keywords"`
}

type eventRecord struct {
	EventName          string    `json:"eventName"`
	Date               string    `json:"date"`
	StartDate          string    `json:"startDate"`
	EndDate            string    `json:"endDate"`
	Location           string    `json:"location"`
	Description        string    `json:"description"`
	EstimatedAttendees int       `json:"estimatedAttendees"`
	ExpectedPersonas   []persona `json:"expectedPersonas"`
}

const cesFixture = "```json\n" + `{
  "eventName": "CES 2026",
  "date": "January 6-9, 2026",
  "startDate": "2026-01-06",
  "endDate": "2026-01-09",
  "location": "Las Vegas, NV",
  "description": "The world's most influential technology event",
  "estimatedAttendees": 135000,
  "expectedPersonas": [
    {
      "persona": "Founder",
      "likelihood": "High",
      "count": "Many",
      "linkedinMessage": "Hi! Saw your startup at CES 2026",
      "iceBreaker": "I saw your booth—the tech looks incredible",
      "conversationStarters": [
        "What's been the biggest challenge in scaling?",
        "Are you using any AI-driven models?",
        "Most agencies just look at ROAS"
      ],
      "keywords": ["test"]
    }
  ]
}` + "\n```"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   \n\t ", ""},
		{"plain object", `  {"eventName": "Test Event", "date": "2026-01-01"}  `, `{"eventName": "Test Event", "date": "2026-01-01"}`},
		{"plain array", "[1, 2, 3]", "[1, 2, 3]"},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"json fence with prose", "Sure! Here you go:\n```json\n{\"a\": 1}\n```\nLet me know.", `{"a": 1}`},
		{"bare fence", "```\n{\"eventName\": \"Test Event\"}\n```", `{"eventName": "Test Event"}`},
		{"other language fence", "```javascript\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose prefix", `Here is the result: {"eventName": "Test", "date": "2026"}`, `{"eventName": "Test", "date": "2026"}`},
		{"prose both sides", `Result: {"a": {"b": 2}} hope this helps`, `{"a": {"b": 2}}`},
		{"first fence only", "```json\n{\"first\": true}\n```\n```json\n{\"second\": true}\n```", `{"first": true}`},
		{"json fence preferred over earlier bare fence", "```\nnot it\n```\n```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"unclosed json fence", "```json\n{\"a\": 1}", `{"a": 1}`},
		{"no braces", "no json here", "no json here"},
		{"array inside prose keeps object span", `items: [{"a": 1}]`, `{"a": 1}`},
		{"truncated object", `{"eventName": "Test"`, `{"eventName": "Test"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitize_FencedContentIndependentOfProse(t *testing.T) {
	body := `{"eventName": "Summit"}`
	inputs := []string{
		"```json\n" + body + "\n```",
		"Intro text.\n```json\n" + body + "\n```",
		"```json\n" + body + "\n```\nTrailing notes with {braces}.",
	}
	for _, in := range inputs {
		if got := Sanitize(in); got != body {
			t.Fatalf("Sanitize(%q) = %q, want %q", in, got, body)
		}
	}
}

func TestParse_Fixtures(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want eventRecord
	}{
		{
			name: "ces 2026 fenced",
			in:   cesFixture,
			want: eventRecord{
				EventName:          "CES 2026",
				Date:               "January 6-9, 2026",
				StartDate:          "2026-01-06",
				EndDate:            "2026-01-09",
				Location:           "Las Vegas, NV",
				Description:        "The world's most influential technology event",
				EstimatedAttendees: 135000,
				ExpectedPersonas: []persona{{
					Persona:         "Founder",
					Likelihood:      "High",
					Count:           "Many",
					LinkedinMessage: "Hi! Saw your startup at CES 2026",
					IceBreaker:      "I saw your booth—the tech looks incredible",
					ConversationStarters: []string{
						"What's been the biggest challenge in scaling?",
						"Are you using any AI-driven models?",
						"Most agencies just look at ROAS",
					},
					Keywords: []string{"test"},
				}},
			},
		},
		{
			name: "plain json",
			in:   `{"eventName": "Test Event", "date": "2026-01-01"}`,
			want: eventRecord{EventName: "Test Event", Date: "2026-01-01"},
		},
		{
			name: "prose prefixed",
			in:   `Here is the result: {"eventName": "Test", "date": "2026"}`,
			want: eventRecord{EventName: "Test", Date: "2026"},
		},
		{
			name: "bare fence",
			in:   "```\n{\"eventName\": \"Test Event\"}\n```",
			want: eventRecord{EventName: "Test Event"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse[eventRecord](tt.in)
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Parse = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecode_MalformedReturnsDecodeError(t *testing.T) {
	for _, in := range []string{
		`{"eventName": "Test"`,
		"",
		"no json here",
		`{"eventName": "Test",}`,
	} {
		var out eventRecord
		err := Decode(Sanitize(in), &out)
		if err == nil {
			t.Fatalf("Decode(%q) expected error", in)
		}
		var decErr *DecodeError
		if !errors.As(err, &decErr) {
			t.Fatalf("Decode(%q) error type = %T, want *DecodeError", in, err)
		}
		if out.EventName != "" {
			t.Fatalf("Decode(%q) left partial record: %+v", in, out)
		}
	}
}

func TestDecode_TypeMismatchLeavesTargetUntouched(t *testing.T) {
	out := eventRecord{EventName: "Before"}
	err := Decode(`{"eventName": "X", "estimatedAttendees": "many"}`, &out)
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if out.EventName != "Before" || out.EstimatedAttendees != 0 {
		t.Fatalf("target modified on error: %+v", out)
	}

	if err := Decode(`{"eventName": "After"}`, &out); err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if out.EventName != "After" {
		t.Fatalf("EventName = %q", out.EventName)
	}
}

func TestDecode_NonPointerTarget(t *testing.T) {
	var out eventRecord
	var decErr *DecodeError
	if err := Decode(`{}`, out); !errors.As(err, &decErr) {
		t.Fatalf("expected *DecodeError for non-pointer, got %v", err)
	}
	var nilPtr *eventRecord
	if err := Decode(`{}`, nilPtr); !errors.As(err, &decErr) {
		t.Fatalf("expected *DecodeError for nil pointer, got %v", err)
	}
}

func TestParse_MalformedReturnsZeroValue(t *testing.T) {
	got, err := Parse[eventRecord](`{"eventName": "Partial", "date": `)
	if err == nil {
		t.Fatal("expected error for truncated json")
	}
	if !reflect.DeepEqual(got, eventRecord{}) {
		t.Fatalf("expected zero record, got %+v", got)
	}
}

func TestDecodeError_SnippetIsBounded(t *testing.T) {
	long := "{" + strings.Repeat("x", 1000)
	var out map[string]any
	err := Decode(long, &out)
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if len([]rune(decErr.Snippet)) != SnippetLen {
		t.Fatalf("snippet length = %d, want %d", len([]rune(decErr.Snippet)), SnippetLen)
	}
	if !strings.HasPrefix(long, decErr.Snippet) {
		t.Fatal("snippet should be a prefix of the offending text")
	}
	if decErr.Unwrap() == nil {
		t.Fatal("expected wrapped json error")
	}
}
