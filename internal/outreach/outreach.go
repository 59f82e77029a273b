// Package outreach implements the model-backed GTM operations: profile
// enrichment, outreach strategy, cold email, event page analysis and
// company extraction.
package outreach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stellarlinkco/kbyg/internal/cache"
	"github.com/stellarlinkco/kbyg/internal/jsonx"
	"github.com/stellarlinkco/kbyg/internal/prompts"
	"github.com/stellarlinkco/kbyg/internal/store"
	"github.com/stellarlinkco/kbyg/internal/upstream"
)

const (
	MaxEventContent   = 10000
	MaxExtractionText = 8000

	defaultYourCompany = "Your company"
	defaultYourProduct = "Your product/service"
)

type Service struct {
	gen     upstream.Generator
	store   store.Store
	prompts *prompts.Set
	now     func() time.Time

	events   cache.Cache
	eventTTL time.Duration
}

func New(gen upstream.Generator, st store.Store, set *prompts.Set) *Service {
	if gen == nil {
		gen = upstream.Unconfigured{}
	}
	return &Service{gen: gen, store: st, prompts: set, now: time.Now}
}

// WithEventCache makes AnalyzeEvent reuse results for identical requests
// for ttl.
func (s *Service) WithEventCache(c cache.Cache, ttl time.Duration) *Service {
	s.events = c
	s.eventTTL = ttl
	return s
}

// Enrich asks the model for description, industry and recent activity,
// merges the non-empty fields and saves the profile. Nothing is written
// when the model output cannot be decoded.
func (s *Service) Enrich(ctx context.Context, name string) (*store.Company, error) {
	c, err := s.store.GetCompany(ctx, name)
	if err != nil {
		return nil, err
	}

	var out enrichment
	if err := s.ask(ctx, prompts.Enrich, map[string]any{"Profile": ProfileText(c)}, &out); err != nil {
		return nil, fmt.Errorf("enrich %s: %w", c.Name, err)
	}

	if v := strings.TrimSpace(out.Description); v != "" {
		c.Description = v
	}
	if v := strings.TrimSpace(out.Industry); v != "" {
		c.Industry = v
	}
	if v := strings.TrimSpace(out.RecentActivity); v != "" {
		c.RecentActivity = v
	}
	c.EnrichedAt = s.now().UTC().Format(time.RFC3339)

	if _, err := s.store.AddCompany(ctx, c); err != nil {
		return nil, fmt.Errorf("save enriched %s: %w", c.Name, err)
	}
	return s.store.GetCompany(ctx, c.Name)
}

func (s *Service) Strategy(ctx context.Context, companyName string, sc StrategyContext) (*Strategy, error) {
	c, err := s.store.GetCompany(ctx, companyName)
	if err != nil {
		return nil, err
	}
	if sc.YourCompany == "" {
		sc.YourCompany = defaultYourCompany
	}
	if sc.YourProduct == "" {
		sc.YourProduct = defaultYourProduct
	}

	var contact *store.Employee
	if len(c.Employees) > 0 {
		contact = &c.Employees[0]
	}

	var out Strategy
	data := map[string]any{
		"YourCompany":      sc.YourCompany,
		"YourProduct":      sc.YourProduct,
		"TargetPersonas":   sc.TargetPersonas,
		"TargetIndustries": sc.TargetIndustries,
		"CompanyName":      c.Name,
		"Contact":          contact,
		"Profile":          ProfileText(c),
	}
	if err := s.ask(ctx, prompts.Strategy, data, &out); err != nil {
		return nil, fmt.Errorf("strategy for %s: %w", c.Name, err)
	}
	out.Company = c.Name
	if contact != nil {
		out.Contact = contact.Name
	}
	return &out, nil
}

func (s *Service) DraftEmail(ctx context.Context, companyName, fromName string) (*Email, error) {
	c, err := s.store.GetCompany(ctx, companyName)
	if err != nil {
		return nil, err
	}
	to := PickContact(c.Employees)
	toName, toTitle := "there", ""
	if to != nil {
		toName, toTitle = to.Name, to.Title
	}

	var out Email
	data := map[string]any{
		"Profile":  ProfileText(c),
		"FromName": fromName,
		"ToName":   toName,
		"ToTitle":  toTitle,
	}
	if err := s.ask(ctx, prompts.Email, data, &out); err != nil {
		return nil, fmt.Errorf("email for %s: %w", c.Name, err)
	}
	out.To = toName
	return &out, nil
}

// AnalyzeEvent asks the model about an event page and saves the result
// for req.UserID, keyed by URL. A cached analysis skips the model call but
// is still saved so last_viewed moves.
func (s *Service) AnalyzeEvent(ctx context.Context, req EventRequest) (*store.Event, error) {
	var personas []string
	for _, p := range strings.Split(req.TargetPersonas, ",") {
		if p = strings.TrimSpace(p); p != "" {
			personas = append(personas, p)
		}
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = store.DefaultUser
	}
	content := truncate(req.Content, MaxEventContent)
	data := map[string]any{
		"URL":            req.URL,
		"Title":          req.Title,
		"Content":        content,
		"YourCompany":    req.YourCompany,
		"YourProduct":    req.YourProduct,
		"TargetPersonas": personas,
	}

	key := cache.Key("event", userID, req.URL, req.Title, content, req.YourCompany, req.YourProduct, strings.Join(personas, ","))
	out := s.cachedEvent(ctx, key)
	hit := out != nil
	if !hit {
		var fresh store.Event
		if err := s.ask(ctx, prompts.Event, data, &fresh); err != nil {
			return nil, fmt.Errorf("analyze %s: %w", req.URL, err)
		}
		// Bookkeeping fields belong to the store, not the model.
		fresh.ID, fresh.AnalyzedAt, fresh.LastViewed, fresh.CreatedAt, fresh.UpdatedAt = 0, "", "", "", ""
		out = &fresh
	}
	out.URL = req.URL
	out.UserID = userID
	out.Normalize()

	if _, err := s.store.SaveEvent(ctx, out); err != nil {
		return nil, fmt.Errorf("save event %s: %w", req.URL, err)
	}
	if !hit {
		s.storeEvent(ctx, key, out)
	}
	return out, nil
}

// Cache failures never fail an analysis.
func (s *Service) cachedEvent(ctx context.Context, key string) *store.Event {
	if s.events == nil {
		return nil
	}
	b, ok, err := s.events.Get(ctx, key)
	if err != nil {
		log.Printf("[outreach] event cache read warning: %v", err)
		return nil
	}
	if !ok {
		return nil
	}
	var out store.Event
	if err := json.Unmarshal(b, &out); err != nil {
		log.Printf("[outreach] event cache entry unreadable: %v", err)
		return nil
	}
	return &out
}

func (s *Service) storeEvent(ctx context.Context, key string, e *store.Event) {
	if s.events == nil {
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := s.events.Set(ctx, key, b, s.eventTTL); err != nil {
		log.Printf("[outreach] event cache write warning: %v", err)
	}
}

// ExtractCompanies accepts a JSON array of companies or an object with a
// "companies" array, fenced or wrapped in prose. Any other shape is a
// *jsonx.DecodeError.
func (s *Service) ExtractCompanies(ctx context.Context, text string) ([]ExtractedCompany, error) {
	raw, err := s.complete(ctx, prompts.Extract, map[string]any{"Text": truncate(text, MaxExtractionText)})
	if err != nil {
		return nil, fmt.Errorf("extract companies: %w", err)
	}

	out, err := decodeCompanies(raw)
	if err != nil {
		log.Printf("[outreach] extract: %v", err)
		return nil, fmt.Errorf("extract companies: %w", err)
	}

	filtered := make([]ExtractedCompany, 0, len(out))
	for _, c := range out {
		if strings.TrimSpace(c.Name) != "" {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

var errNotCompanyList = errors.New(`expected a JSON array or an object with a "companies" array`)

func decodeCompanies(raw string) ([]ExtractedCompany, error) {
	clean := jsonx.Sanitize(raw)
	var doc json.RawMessage
	if err := jsonx.Decode(clean, &doc); err != nil {
		if span, ok := arraySpan(raw); ok {
			return decodeCompanyArray(span)
		}
		return nil, err
	}

	switch text := strings.TrimSpace(string(doc)); {
	case strings.HasPrefix(text, "["):
		return decodeCompanyArray(text)
	case strings.HasPrefix(text, "{"):
		var fields map[string]json.RawMessage
		if err := jsonx.Decode(text, &fields); err != nil {
			return nil, err
		}
		if list, ok := fields["companies"]; ok {
			return decodeCompanyArray(string(list))
		}
		// Sanitize keeps the first object of a bare array in prose.
		if span, ok := arraySpan(raw); ok {
			return decodeCompanyArray(span)
		}
	}
	return nil, jsonx.NewDecodeError(clean, errNotCompanyList)
}

func decodeCompanyArray(text string) ([]ExtractedCompany, error) {
	var out []ExtractedCompany
	if err := jsonx.Decode(text, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// arraySpan returns the text from the first '[' to the last ']' when the
// array opens before any object does.
func arraySpan(raw string) (string, bool) {
	i := strings.IndexByte(raw, '[')
	j := strings.LastIndexByte(raw, ']')
	if i < 0 || j <= i {
		return "", false
	}
	if k := strings.IndexByte(raw, '{'); k >= 0 && k < i {
		return "", false
	}
	return raw[i : j+1], true
}

func (s *Service) ask(ctx context.Context, prompt string, data any, v any) error {
	raw, err := s.complete(ctx, prompt, data)
	if err != nil {
		return err
	}
	if err := jsonx.Decode(jsonx.Sanitize(raw), v); err != nil {
		log.Printf("[outreach] %s: %v", prompt, err)
		return err
	}
	return nil
}

func (s *Service) complete(ctx context.Context, prompt string, data any) (string, error) {
	tmpl, err := s.prompts.Get(prompt)
	if err != nil {
		return "", err
	}
	text, err := tmpl.Render(data)
	if err != nil {
		return "", err
	}
	req := upstream.Request{
		Prompt:            text,
		SystemInstruction: tmpl.System,
		MaxTokens:         tmpl.MaxTokens,
	}
	if tmpl.Temperature != nil {
		req.Temperature = upstream.Float(*tmpl.Temperature)
	}
	resp, err := s.gen.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// PickContact prefers a founder, CEO or president and falls back to the
// first employee.
func PickContact(employees []store.Employee) *store.Employee {
	for i := range employees {
		title := strings.ToLower(employees[i].Title)
		for _, key := range []string{"founder", "ceo", "president", "co-founder"} {
			if strings.Contains(title, key) {
				return &employees[i]
			}
		}
	}
	if len(employees) > 0 {
		return &employees[0]
	}
	return nil
}

// ProfileText renders a company the way prompts describe it.
func ProfileText(c *store.Company) string {
	parts := []string{"Company: " + c.Name}
	if c.Description != "" {
		parts = append(parts, "Description: "+c.Description)
	}
	if c.Industry != "" {
		parts = append(parts, "Industry: "+c.Industry)
	}
	if c.Context != "" {
		parts = append(parts, "Context: "+c.Context)
	}
	if len(c.Employees) > 0 {
		parts = append(parts, "\nTeam Members:")
		for _, e := range c.Employees {
			parts = append(parts, fmt.Sprintf("  • %s - %s", e.Name, e.Title))
		}
	}
	if c.RecentActivity != "" {
		parts = append(parts, "\nRecent Activity:\n"+c.RecentActivity)
	}
	return strings.Join(parts, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
