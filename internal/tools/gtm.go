package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stellarlinkco/kbyg/internal/outreach"
	"github.com/stellarlinkco/kbyg/internal/store"
)

const (
	AddCompany       = "gtm_add_company"
	GetCompany       = "gtm_get_company"
	ListCompanies    = "gtm_list_companies"
	SearchCompanies  = "gtm_search_companies"
	EnrichCompany    = "gtm_enrich_company"
	DeleteCompany    = "gtm_delete_company"
	GenerateStrategy = "gtm_generate_strategy"
	DraftEmail       = "gtm_draft_email"
	AnalyzeEvent     = "gtm_analyze_event"
	ExtractCompanies = "gtm_extract_companies"
	ListEvents       = "gtm_list_events"
	GetEvent         = "gtm_get_event"
	DeleteEvent      = "gtm_delete_event"
	SearchPeople     = "gtm_search_people"
	EventSummary     = "gtm_event_summary"
)

type gtm struct {
	store    store.Store
	outreach *outreach.Service
	now      func() time.Time
}

// RegisterGTM adds the company, outreach and saved event tools to reg.
func RegisterGTM(reg *Registry, st store.Store, svc *outreach.Service) error {
	g := &gtm{store: st, outreach: svc, now: time.Now}
	employee := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":     map[string]any{"type": "string"},
			"title":    map[string]any{"type": "string"},
			"linkedin": map[string]any{"type": "string"},
		},
		"required": []string{"name", "title"},
	}

	userID := str("Owner of the saved events; defaults to \"default\"")

	defs := []Tool{
		{
			Name:        AddCompany,
			Description: "Add or update a company profile with employees",
			InputSchema: Object(map[string]any{
				"name":        str("Company name"),
				"description": str("Company description"),
				"industry":    str("Industry"),
				"context":     str("Where or how you met them"),
				"employees":   map[string]any{"type": "array", "items": employee},
			}, "name", "employees"),
			Handler: g.add,
		},
		{
			Name:        GetCompany,
			Description: "Get a company profile by name",
			InputSchema: Object(map[string]any{"name": str("Company name")}, "name"),
			Handler:     g.get,
		},
		{
			Name:        ListCompanies,
			Description: "List all company profiles",
			InputSchema: Object(nil),
			Handler:     g.list,
		},
		{
			Name:        SearchCompanies,
			Description: "Search companies by name, description, industry or employee",
			InputSchema: Object(map[string]any{"query": str("Search query")}, "query"),
			Handler:     g.search,
		},
		{
			Name:        EnrichCompany,
			Description: "Enrich a company profile with AI-generated insights",
			InputSchema: Object(map[string]any{"name": str("Company name")}, "name"),
			Handler:     g.enrich,
		},
		{
			Name:        DeleteCompany,
			Description: "Delete a company profile",
			InputSchema: Object(map[string]any{"name": str("Company name")}, "name"),
			Handler:     g.delete,
		},
		{
			Name:        GenerateStrategy,
			Description: "Generate a product-specific communication strategy for a company",
			InputSchema: Object(map[string]any{
				"company_name":      str("Target company name"),
				"your_company":      str("Your company name"),
				"your_product":      str("Your product or service"),
				"target_personas":   str("Comma-separated target personas"),
				"target_industries": str("Comma-separated target industries"),
			}, "company_name"),
			Handler: g.strategy,
		},
		{
			Name:        DraftEmail,
			Description: "Draft a personalized cold outreach email",
			InputSchema: Object(map[string]any{
				"company_name": str("Target company name"),
				"from_name":    str("Your name"),
			}, "company_name", "from_name"),
			Handler: g.email,
		},
		{
			Name:        AnalyzeEvent,
			Description: "Analyze a conference or event page for people, personas, sponsors and next steps",
			InputSchema: Object(map[string]any{
				"url":             str("Event page URL"),
				"content":         str("Visible page text"),
				"title":           str("Page title"),
				"your_company":    str("Your company name"),
				"your_product":    str("Your product or service"),
				"target_personas": str("Comma-separated target personas"),
				"user_id":         userID,
			}, "url", "content"),
			Handler: g.analyzeEvent,
		},
		{
			Name:        ExtractCompanies,
			Description: "Extract company profiles mentioned in free text",
			InputSchema: Object(map[string]any{"text": str("Text to scan")}, "text"),
			Handler:     g.extract,
		},
		{
			Name:        ListEvents,
			Description: "List saved event analyses, newest start date first",
			InputSchema: Object(map[string]any{
				"user_id":    userID,
				"limit":      integer("Maximum number of events"),
				"offset":     integer("Number of events to skip"),
				"start_date": str("Only events starting on or after this ISO date"),
				"end_date":   str("Only events ending on or before this ISO date"),
			}),
			Handler: g.listEvents,
		},
		{
			Name:        GetEvent,
			Description: "Get a saved event analysis by page URL",
			InputSchema: Object(map[string]any{"url": str("Event page URL"), "user_id": userID}, "url"),
			Handler:     g.getEvent,
		},
		{
			Name:        DeleteEvent,
			Description: "Delete a saved event analysis",
			InputSchema: Object(map[string]any{"url": str("Event page URL"), "user_id": userID}, "url"),
			Handler:     g.deleteEvent,
		},
		{
			Name:        SearchPeople,
			Description: "Search people across saved events by name, company, title or persona",
			InputSchema: Object(map[string]any{"query": str("Search query"), "user_id": userID}, "query"),
			Handler:     g.searchPeople,
		},
		{
			Name:        EventSummary,
			Description: "Summarize saved events: totals, top personas and upcoming events",
			InputSchema: Object(map[string]any{"user_id": userID}),
			Handler:     g.eventSummary,
		},
	}
	for _, t := range defs {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

type addCompanyArgs struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Industry    string           `json:"industry"`
	Context     string           `json:"context"`
	Employees   []store.Employee `json:"employees"`
}

func (g *gtm) add(ctx context.Context, args Args) (any, error) {
	var in addCompanyArgs
	if err := args.Decode(&in); err != nil {
		return nil, &InvalidArgumentsError{Tool: AddCompany, Reason: err.Error()}
	}
	for i, e := range in.Employees {
		if strings.TrimSpace(e.Name) == "" {
			return nil, &InvalidArgumentsError{Tool: AddCompany, Field: fmt.Sprintf("employees[%d].name", i), Reason: "is required"}
		}
	}
	c := &store.Company{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Industry:    in.Industry,
		Context:     in.Context,
		Employees:   in.Employees,
	}
	id, err := g.store.AddCompany(ctx, c)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":        id,
		"name":      c.Name,
		"employees": len(c.Employees),
		"message":   fmt.Sprintf("Company %q saved with %d employees", c.Name, len(c.Employees)),
	}, nil
}

func (g *gtm) get(ctx context.Context, args Args) (any, error) {
	c, err := g.store.GetCompany(ctx, args.String("name"))
	if err != nil {
		return nil, notFound(err, args.String("name"))
	}
	return c, nil
}

func (g *gtm) list(ctx context.Context, _ Args) (any, error) {
	return g.store.ListCompanies(ctx)
}

func (g *gtm) search(ctx context.Context, args Args) (any, error) {
	return g.store.SearchCompanies(ctx, args.String("query"))
}

func (g *gtm) enrich(ctx context.Context, args Args) (any, error) {
	c, err := g.outreach.Enrich(ctx, args.String("name"))
	if err != nil {
		return nil, notFound(err, args.String("name"))
	}
	return c, nil
}

func (g *gtm) delete(ctx context.Context, args Args) (any, error) {
	name := args.String("name")
	if err := g.store.DeleteCompany(ctx, name); err != nil {
		return nil, notFound(err, name)
	}
	return map[string]any{"deleted": name}, nil
}

func (g *gtm) strategy(ctx context.Context, args Args) (any, error) {
	name := args.String("company_name")
	out, err := g.outreach.Strategy(ctx, name, outreach.StrategyContext{
		YourCompany:      args.String("your_company"),
		YourProduct:      args.String("your_product"),
		TargetPersonas:   args.String("target_personas"),
		TargetIndustries: args.String("target_industries"),
	})
	if err != nil {
		return nil, notFound(err, name)
	}
	return out, nil
}

func (g *gtm) email(ctx context.Context, args Args) (any, error) {
	name := args.String("company_name")
	out, err := g.outreach.DraftEmail(ctx, name, args.String("from_name"))
	if err != nil {
		return nil, notFound(err, name)
	}
	return out, nil
}

func (g *gtm) analyzeEvent(ctx context.Context, args Args) (any, error) {
	return g.outreach.AnalyzeEvent(ctx, outreach.EventRequest{
		URL:            args.String("url"),
		Title:          args.String("title"),
		Content:        args.String("content"),
		YourCompany:    args.String("your_company"),
		YourProduct:    args.String("your_product"),
		TargetPersonas: args.String("target_personas"),
		UserID:         args.String("user_id"),
	})
}

func (g *gtm) extract(ctx context.Context, args Args) (any, error) {
	return g.outreach.ExtractCompanies(ctx, args.String("text"))
}

type listEventsArgs struct {
	UserID    string `json:"user_id"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (g *gtm) listEvents(ctx context.Context, args Args) (any, error) {
	var in listEventsArgs
	if err := args.Decode(&in); err != nil {
		return nil, &InvalidArgumentsError{Tool: ListEvents, Reason: err.Error()}
	}
	if in.Limit < 0 || in.Offset < 0 {
		return nil, &InvalidArgumentsError{Tool: ListEvents, Field: "limit/offset", Reason: "must not be negative"}
	}
	events, err := g.store.ListEvents(ctx, in.UserID, store.EventFilter{
		Limit:     in.Limit,
		Offset:    in.Offset,
		StartDate: strings.TrimSpace(in.StartDate),
		EndDate:   strings.TrimSpace(in.EndDate),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": len(events), "events": events}, nil
}

func (g *gtm) getEvent(ctx context.Context, args Args) (any, error) {
	url := args.String("url")
	e, err := g.store.GetEvent(ctx, args.String("user_id"), url)
	if err != nil {
		return nil, eventNotFound(err, url)
	}
	return e, nil
}

func (g *gtm) deleteEvent(ctx context.Context, args Args) (any, error) {
	url := args.String("url")
	if err := g.store.DeleteEvent(ctx, args.String("user_id"), url); err != nil {
		return nil, eventNotFound(err, url)
	}
	return map[string]any{"deleted": url}, nil
}

func (g *gtm) searchPeople(ctx context.Context, args Args) (any, error) {
	people, err := g.store.SearchPeople(ctx, args.String("user_id"), args.String("query"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": len(people), "people": people}, nil
}

func (g *gtm) eventSummary(ctx context.Context, args Args) (any, error) {
	events, err := g.store.ListEvents(ctx, args.String("user_id"), store.EventFilter{})
	if err != nil {
		return nil, err
	}
	return store.Summarize(events, g.now()), nil
}

// notFound names the company in a store.ErrNotFound.
func notFound(err error, name string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	return err
}

func eventNotFound(err error, url string) error {
	if errors.Is(err, store.ErrEventNotFound) {
		return fmt.Errorf("%w: %s", store.ErrEventNotFound, url)
	}
	return err
}
