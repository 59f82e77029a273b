package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultUser owns events saved without a user id.
const DefaultUser = "default"

var ErrEventNotFound = errors.New("event not found")

// FlexString accepts a JSON string or number. Models answer "count" with
// either "Many" or 40 depending on the page.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// Int reports the numeric value when the text is a plain integer.
func (f FlexString) Int() (int, bool) {
	n, err := strconv.Atoi(string(f))
	return n, err == nil
}

type ExpectedPersona struct {
	Persona              string     `json:"persona"`
	Likelihood           string     `json:"likelihood"`
	Count                FlexString `json:"count"`
	LinkedinMessage      string     `json:"linkedinMessage"`
	IceBreaker           string     `json:"iceBreaker"`
	ConversationStarters []string   `json:"conversationStarters"`
	Keywords             []string   `json:"keywords"`
	PainPoints           []string   `json:"painPoints,omitempty"`
}

type Person struct {
	Name            string `json:"name"`
	Role            string `json:"role,omitempty"`
	Title           string `json:"title,omitempty"`
	Company         string `json:"company,omitempty"`
	Persona         string `json:"persona,omitempty"`
	LinkedIn        string `json:"linkedin,omitempty"`
	LinkedinMessage string `json:"linkedinMessage,omitempty"`
	IceBreaker      string `json:"iceBreaker,omitempty"`
}

type Sponsor struct {
	Name string `json:"name"`
	Tier string `json:"tier,omitempty"`
}

type NextBestAction struct {
	Priority int    `json:"priority"`
	Action   string `json:"action"`
	Reason   string `json:"reason"`
}

type RelatedEvent struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Date      string `json:"date,omitempty"`
	Relevance string `json:"relevance,omitempty"`
}

// Event is an analyzed event page. Events are keyed by (UserID, URL).
type Event struct {
	ID                 int64             `json:"id,omitempty"`
	UserID             string            `json:"userId,omitempty"`
	URL                string            `json:"url,omitempty"`
	EventName          string            `json:"eventName"`
	Date               string            `json:"date"`
	StartDate          string            `json:"startDate"`
	EndDate            string            `json:"endDate"`
	Location           string            `json:"location"`
	Description        string            `json:"description"`
	EstimatedAttendees *int              `json:"estimatedAttendees"`
	ExpectedPersonas   []ExpectedPersona `json:"expectedPersonas"`
	People             []Person          `json:"people"`
	Sponsors           []Sponsor         `json:"sponsors"`
	NextBestActions    []NextBestAction  `json:"nextBestActions"`
	RelatedEvents      []RelatedEvent    `json:"relatedEvents"`
	AnalyzedAt         string            `json:"analyzedAt,omitempty"`
	LastViewed         string            `json:"lastViewed,omitempty"`
	CreatedAt          string            `json:"createdAt,omitempty"`
	UpdatedAt          string            `json:"updatedAt,omitempty"`
}

// Normalize replaces nil lists with empty ones so records encode as [].
func (e *Event) Normalize() {
	if e.ExpectedPersonas == nil {
		e.ExpectedPersonas = []ExpectedPersona{}
	}
	if e.People == nil {
		e.People = []Person{}
	}
	if e.Sponsors == nil {
		e.Sponsors = []Sponsor{}
	}
	if e.NextBestActions == nil {
		e.NextBestActions = []NextBestAction{}
	}
	if e.RelatedEvents == nil {
		e.RelatedEvents = []RelatedEvent{}
	}
}

// EventFilter narrows ListEvents. Dates compare as text, so ISO dates
// (2026-01-06) order correctly.
type EventFilter struct {
	Limit     int
	Offset    int
	StartDate string
	EndDate   string
}

// PersonMatch is a person found across saved events.
type PersonMatch struct {
	Name      string `json:"name"`
	Role      string `json:"role,omitempty"`
	Title     string `json:"title,omitempty"`
	Company   string `json:"company,omitempty"`
	Persona   string `json:"persona,omitempty"`
	LinkedIn  string `json:"linkedin,omitempty"`
	EventName string `json:"eventName"`
	EventURL  string `json:"eventUrl"`
	EventDate string `json:"eventDate,omitempty"`
}

// EventStore persists analyzed events per user.
type EventStore interface {
	// SaveEvent inserts or replaces the event with the same user and URL,
	// including its people, and returns the row id.
	SaveEvent(ctx context.Context, e *Event) (int64, error)
	GetEvent(ctx context.Context, userID, url string) (*Event, error)
	ListEvents(ctx context.Context, userID string, f EventFilter) ([]*Event, error)
	DeleteEvent(ctx context.Context, userID, url string) error
	// SearchPeople matches name, company, title and persona by substring.
	SearchPeople(ctx context.Context, userID, query string) ([]*PersonMatch, error)
}

type PersonaCount struct {
	Persona    string `json:"persona"`
	EventCount int    `json:"eventCount"`
}

type UpcomingEvent struct {
	EventName string `json:"eventName"`
	Date      string `json:"date,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	Location  string `json:"location,omitempty"`
	URL       string `json:"url"`
}

type EventSummary struct {
	TotalEvents         int             `json:"totalEvents"`
	TotalPeople         int             `json:"totalPeople"`
	TotalSponsors       int             `json:"totalSponsors"`
	UpcomingEventsCount int             `json:"upcomingEventsCount"`
	TopPersonas         []PersonaCount  `json:"topPersonas"`
	UpcomingEvents      []UpcomingEvent `json:"upcomingEvents"`
}

const (
	upcomingWindow = 90 * 24 * time.Hour
	topPersonas    = 10
	upcomingShown  = 5
)

// Summarize totals people and sponsors, ranks expected personas by the
// number of events they appear in, and lists events starting within 90
// days of now.
func Summarize(events []*Event, now time.Time) *EventSummary {
	out := &EventSummary{TopPersonas: []PersonaCount{}, UpcomingEvents: []UpcomingEvent{}}
	counts := map[string]int{}
	var upcoming []*Event
	for _, e := range events {
		out.TotalEvents++
		out.TotalPeople += len(e.People)
		out.TotalSponsors += len(e.Sponsors)
		seen := map[string]bool{}
		for _, p := range e.ExpectedPersonas {
			name := strings.TrimSpace(p.Persona)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			counts[name]++
		}
		if start, ok := parseDate(e.StartDate); ok && !start.Before(now.Truncate(24*time.Hour)) && !start.After(now.Add(upcomingWindow)) {
			upcoming = append(upcoming, e)
		}
	}

	for name, n := range counts {
		out.TopPersonas = append(out.TopPersonas, PersonaCount{Persona: name, EventCount: n})
	}
	sort.Slice(out.TopPersonas, func(i, j int) bool {
		a, b := out.TopPersonas[i], out.TopPersonas[j]
		if a.EventCount != b.EventCount {
			return a.EventCount > b.EventCount
		}
		return a.Persona < b.Persona
	})
	if len(out.TopPersonas) > topPersonas {
		out.TopPersonas = out.TopPersonas[:topPersonas]
	}

	sort.SliceStable(upcoming, func(i, j int) bool { return upcoming[i].StartDate < upcoming[j].StartDate })
	out.UpcomingEventsCount = len(upcoming)
	for i, e := range upcoming {
		if i == upcomingShown {
			break
		}
		out.UpcomingEvents = append(out.UpcomingEvents, UpcomingEvent{
			EventName: e.EventName,
			Date:      e.Date,
			StartDate: e.StartDate,
			Location:  e.Location,
			URL:       e.URL,
		})
	}
	return out
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
