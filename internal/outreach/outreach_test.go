package outreach

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stellarlinkco/kbyg/internal/jsonx"
	"github.com/stellarlinkco/kbyg/internal/prompts"
	"github.com/stellarlinkco/kbyg/internal/store"
	"github.com/stellarlinkco/kbyg/internal/upstream"
)

type fakeGenerator struct {
	reply string
	err   error
	calls []upstream.Request
}

func (f *fakeGenerator) Generate(_ context.Context, req upstream.Request) (*upstream.Response, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &upstream.Response{Text: f.reply, Model: "fake"}, nil
}

func newTestService(t *testing.T, gen upstream.Generator) (*Service, *store.SQLStore) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "gtm.db"))
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	set, err := prompts.Defaults()
	if err != nil {
		t.Fatalf("Defaults error: %v", err)
	}
	svc := New(gen, st, set)
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return svc, st
}

func seed(t *testing.T, st store.Store, c *store.Company) {
	t.Helper()
	if _, err := st.AddCompany(context.Background(), c); err != nil {
		t.Fatalf("AddCompany error: %v", err)
	}
}

func TestEnrich_MergesAndSaves(t *testing.T) {
	gen := &fakeGenerator{reply: "```json\n{\"description\": \"Makes rockets.\", \"industry\": \"\", \"recent_activity\": \"Launched v2\"}\n```"}
	svc, st := newTestService(t, gen)
	seed(t, st, &store.Company{Name: "Acme", Industry: "Aerospace", Employees: []store.Employee{{Name: "Wile", Title: "CEO"}}})

	got, err := svc.Enrich(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Enrich error: %v", err)
	}
	if got.Description != "Makes rockets." || got.Industry != "Aerospace" || got.RecentActivity != "Launched v2" {
		t.Fatalf("unexpected merge: %+v", got)
	}
	if got.EnrichedAt != "2026-01-02T03:04:05Z" {
		t.Fatalf("enriched_at = %q", got.EnrichedAt)
	}
	if len(got.Employees) != 1 {
		t.Fatalf("employees lost: %+v", got.Employees)
	}

	req := gen.calls[0]
	if req.Temperature == nil || *req.Temperature != 0.5 {
		t.Fatalf("temperature = %v", req.Temperature)
	}
	if !strings.Contains(req.Prompt, "Company: Acme") || !strings.Contains(req.Prompt, "  • Wile - CEO") {
		t.Fatalf("prompt missing profile:\n%s", req.Prompt)
	}
	if req.SystemInstruction == "" {
		t.Fatal("system instruction missing")
	}
}

func TestEnrich_DecodeFailureWritesNothing(t *testing.T) {
	gen := &fakeGenerator{reply: `{"description": "half`}
	svc, st := newTestService(t, gen)
	seed(t, st, &store.Company{Name: "Acme", Description: "original"})

	_, err := svc.Enrich(context.Background(), "Acme")
	var de *jsonx.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	c, _ := st.GetCompany(context.Background(), "Acme")
	if c.Description != "original" || c.EnrichedAt != "" {
		t.Fatalf("company modified after failed enrich: %+v", c)
	}
}

func TestEnrich_NotFound(t *testing.T) {
	gen := &fakeGenerator{}
	svc, _ := newTestService(t, gen)
	if _, err := svc.Enrich(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(gen.calls) != 0 {
		t.Fatal("model should not be called for a missing company")
	}
}

func TestStrategy_DefaultsAndContact(t *testing.T) {
	gen := &fakeGenerator{reply: `Here you go: {"value_alignment": "v", "key_topics": ["a"], "tone_and_voice": "t", "product_positioning": "p", "talking_points": ["x", "y"], "opening_line": "o", "what_to_avoid": ["z"]}`}
	svc, st := newTestService(t, gen)
	seed(t, st, &store.Company{Name: "Initech", Employees: []store.Employee{{Name: "Bill", Title: "VP"}, {Name: "Peter", Title: "CEO"}}})

	out, err := svc.Strategy(context.Background(), "initech", StrategyContext{})
	if err != nil {
		t.Fatalf("Strategy error: %v", err)
	}
	if out.Company != "Initech" || out.Contact != "Bill" || out.OpeningLine != "o" || len(out.TalkingPoints) != 2 {
		t.Fatalf("unexpected strategy: %+v", out)
	}
	prompt := gen.calls[0].Prompt
	for _, want := range []string{"Your Company: Your company", "Your Product/Service: Your product/service", "Target Contact: Bill, VP"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if *gen.calls[0].Temperature != 0.7 {
		t.Fatalf("temperature = %v", *gen.calls[0].Temperature)
	}
}

func TestDraftEmail_PrefersFounder(t *testing.T) {
	gen := &fakeGenerator{reply: `{"subject": "Quick idea", "body": "Hi Peter"}`}
	svc, st := newTestService(t, gen)
	seed(t, st, &store.Company{Name: "Initech", Employees: []store.Employee{{Name: "Bill", Title: "VP"}, {Name: "Peter", Title: "Co-Founder"}}})

	out, err := svc.DraftEmail(context.Background(), "Initech", "Sam")
	if err != nil {
		t.Fatalf("DraftEmail error: %v", err)
	}
	if out.To != "Peter" || out.Subject != "Quick idea" {
		t.Fatalf("unexpected email: %+v", out)
	}
	if !strings.Contains(gen.calls[0].Prompt, "- To: Peter (Co-Founder)") || !strings.Contains(gen.calls[0].Prompt, "- From: Sam") {
		t.Fatalf("prompt:\n%s", gen.calls[0].Prompt)
	}
	if *gen.calls[0].Temperature != 0.8 {
		t.Fatalf("temperature = %v", *gen.calls[0].Temperature)
	}
}

func TestDraftEmail_NoEmployees(t *testing.T) {
	gen := &fakeGenerator{reply: `{"subject": "s", "body": "b"}`}
	svc, st := newTestService(t, gen)
	seed(t, st, &store.Company{Name: "Solo"})

	out, err := svc.DraftEmail(context.Background(), "Solo", "Sam")
	if err != nil {
		t.Fatalf("DraftEmail error: %v", err)
	}
	if out.To != "there" || !strings.Contains(gen.calls[0].Prompt, "- To: there\n") {
		t.Fatalf("expected generic greeting, got %+v\n%s", out, gen.calls[0].Prompt)
	}
}

func TestPickContact(t *testing.T) {
	if PickContact(nil) != nil {
		t.Fatal("expected nil for no employees")
	}
	emps := []store.Employee{{Name: "A", Title: "Engineer"}, {Name: "B", Title: "President"}}
	if c := PickContact(emps); c.Name != "B" {
		t.Fatalf("contact = %s", c.Name)
	}
	if c := PickContact(emps[:1]); c.Name != "A" {
		t.Fatalf("fallback contact = %s", c.Name)
	}
}

const eventReply = "```json\n" + `{
  "eventName": "CES 2026",
  "date": "January 6-9, 2026",
  "startDate": "2026-01-06",
  "endDate": "2026-01-09",
  "location": "Las Vegas, NV",
  "estimatedAttendees": 135000,
  "expectedPersonas": [{"persona": "Founder", "likelihood": "High", "count": "Many", "conversationStarters": ["a", "b", "c"], "keywords": ["test"]},
                       {"persona": "CTO", "likelihood": "Medium", "count": 40}],
  "people": [{"name": "Jane Roe", "role": "Speaker", "linkedin": null}],
  "nextBestActions": [{"priority": 1, "action": "Book meetings", "reason": "Busy floor"}]
}` + "\n```"

func TestAnalyzeEvent(t *testing.T) {
	gen := &fakeGenerator{reply: eventReply}
	svc, st := newTestService(t, gen)

	content := strings.Repeat("é", MaxEventContent+50)
	out, err := svc.AnalyzeEvent(context.Background(), EventRequest{
		URL:            "https://ces.tech",
		Content:        content,
		YourCompany:    "Acme",
		TargetPersonas: "Founder, , CTO",
	})
	if err != nil {
		t.Fatalf("AnalyzeEvent error: %v", err)
	}
	if out.EventName != "CES 2026" || out.EstimatedAttendees == nil || *out.EstimatedAttendees != 135000 {
		t.Fatalf("unexpected analysis: %+v", out)
	}
	if out.ExpectedPersonas[0].Count != "Many" || out.ExpectedPersonas[1].Count != "40" {
		t.Fatalf("counts = %q, %q", out.ExpectedPersonas[0].Count, out.ExpectedPersonas[1].Count)
	}
	if n, ok := out.ExpectedPersonas[1].Count.Int(); !ok || n != 40 {
		t.Fatalf("count int = %d, %v", n, ok)
	}
	if out.Sponsors == nil || out.RelatedEvents == nil || len(out.People) != 1 || out.URL != "https://ces.tech" {
		t.Fatalf("lists not normalized: %+v", out)
	}

	prompt := gen.calls[0].Prompt
	if strings.Count(prompt, "é") != MaxEventContent {
		t.Fatalf("content not truncated to %d runes", MaxEventContent)
	}
	if !utf8.ValidString(prompt) {
		t.Fatal("truncation split a rune")
	}
	if !strings.Contains(prompt, "priority target personas are: Founder, CTO.") {
		t.Fatalf("persona guidance missing")
	}

	saved, err := st.GetEvent(context.Background(), store.DefaultUser, "https://ces.tech")
	if err != nil {
		t.Fatalf("GetEvent error: %v", err)
	}
	if saved.ID != out.ID || saved.EventName != "CES 2026" || len(saved.People) != 1 || saved.People[0].Name != "Jane Roe" {
		t.Fatalf("analysis not saved: %+v", saved)
	}
	if saved.ExpectedPersonas[0].Count != "Many" || saved.AnalyzedAt == "" {
		t.Fatalf("saved details = %+v", saved)
	}
}

func TestAnalyzeEvent_SavesPerUser(t *testing.T) {
	svc, st := newTestService(t, &fakeGenerator{reply: eventReply})
	ctx := context.Background()

	out, err := svc.AnalyzeEvent(ctx, EventRequest{UserID: "u-7", URL: "https://ces.tech", Content: "x"})
	if err != nil {
		t.Fatalf("AnalyzeEvent error: %v", err)
	}
	if out.UserID != "u-7" {
		t.Fatalf("user = %q", out.UserID)
	}
	if _, err := st.GetEvent(ctx, "u-7", "https://ces.tech"); err != nil {
		t.Fatalf("GetEvent error: %v", err)
	}
	if _, err := st.GetEvent(ctx, "", "https://ces.tech"); !errors.Is(err, store.ErrEventNotFound) {
		t.Fatalf("default user should not see it, got %v", err)
	}
}

func TestAnalyzeEvent_DecodeFailureSavesNothing(t *testing.T) {
	svc, st := newTestService(t, &fakeGenerator{reply: "no idea"})
	ctx := context.Background()

	_, err := svc.AnalyzeEvent(ctx, EventRequest{URL: "https://ces.tech", Content: "x"})
	var de *jsonx.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	events, _ := st.ListEvents(ctx, "", store.EventFilter{})
	if len(events) != 0 {
		t.Fatalf("nothing should be saved, got %d events", len(events))
	}
}

func TestExtractCompanies(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{"wrapped object", `{"companies": [{"name": "Acme", "people": [{"name": "Jo", "title": "CEO"}]}, {"name": " "}]}`, []string{"Acme"}},
		{"fenced array", "```json\n[{\"name\": \"Globex\"}, {\"name\": \"Hooli\"}]\n```", []string{"Globex", "Hooli"}},
		{"empty", `{"companies": []}`, nil},
		{"array after prose", `Here you go: [{"name": "Acme"}]`, []string{"Acme"}},
		{"array of objects after prose", "Found these:\n[{\"name\": \"Acme\"}, {\"name\": \"Globex\"}]\nHope it helps.", []string{"Acme", "Globex"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{reply: tt.reply}
			svc, _ := newTestService(t, gen)
			got, err := svc.ExtractCompanies(context.Background(), "text")
			if err != nil {
				t.Fatalf("ExtractCompanies error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d companies, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Name != tt.want[i] {
					t.Fatalf("company %d = %s", i, got[i].Name)
				}
			}
			if req := gen.calls[0]; *req.Temperature != 0.3 || req.MaxTokens != 4000 {
				t.Fatalf("settings = %v/%d", *req.Temperature, req.MaxTokens)
			}
		})
	}
}

func TestExtractCompanies_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"prose", "I could not find any companies."},
		{"single object", `{"name": "Acme", "industry": "Aerospace"}`},
		{"other key", `{"results": [{"name": "Acme"}]}`},
		{"companies not a list", `{"companies": {"name": "Acme"}}`},
		{"array of strings", `Result: ["Acme", "Globex"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, &fakeGenerator{reply: tt.reply})
			got, err := svc.ExtractCompanies(context.Background(), "text")
			var de *jsonx.DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected DecodeError, got %v (companies %+v)", err, got)
			}
		})
	}
}

func TestService_GeneratorErrorPropagates(t *testing.T) {
	statusErr := &upstream.StatusError{Status: 429, Body: "slow down"}
	svc, st := newTestService(t, &fakeGenerator{err: statusErr})
	seed(t, st, &store.Company{Name: "Acme"})

	_, err := svc.DraftEmail(context.Background(), "Acme", "Sam")
	var se *upstream.StatusError
	if !errors.As(err, &se) || se.Status != 429 {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestNew_NilGeneratorIsUnconfigured(t *testing.T) {
	svc, st := newTestService(t, nil)
	seed(t, st, &store.Company{Name: "Acme"})
	if _, err := svc.Enrich(context.Background(), "Acme"); !errors.Is(err, upstream.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
