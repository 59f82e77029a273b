package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stellarlinkco/kbyg/internal/store"
)

const userIDHeader = "X-User-ID"

// eventRoutes serves saved event analyses to the web app. The event URL
// is the path tail, usually percent-encoded.
func (s *Server) eventRoutes(r chi.Router) {
	r.Post("/events", s.handleSaveEvent)
	r.Post("/events/bulk", s.handleBulkEvents)
	r.Get("/events", s.handleListEvents)
	r.Get("/events/*", s.handleGetEvent)
	r.Delete("/events/*", s.handleDeleteEvent)
	r.Get("/people/search", s.handleSearchPeople)
	r.Get("/analytics/summary", s.handleSummary)
}

func requestUser(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get(userIDHeader)); u != "" {
		return u
	}
	if u := strings.TrimSpace(r.URL.Query().Get("userId")); u != "" {
		return u
	}
	return store.DefaultUser
}

func fail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

// eventURL decodes the path tail. A tail that is not valid escaping is
// used as sent.
func eventURL(r *http.Request) string {
	raw := chi.URLParam(r, "*")
	if u, err := url.PathUnescape(raw); err == nil {
		return strings.TrimSpace(u)
	}
	return strings.TrimSpace(raw)
}

func (s *Server) handleSaveEvent(w http.ResponseWriter, r *http.Request) {
	var e store.Event
	if err := readJSON(r, &e); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(e.URL) == "" {
		fail(w, http.StatusBadRequest, "Event URL is required")
		return
	}
	e.UserID = requestUser(r)
	id, err := s.opts.Events.SaveEvent(r.Context(), &e)
	if err != nil {
		log.Printf("[server] save event %s: %v", e.URL, err)
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "eventId": id, "message": "Event saved successfully"})
}

type bulkResult struct {
	Success bool   `json:"success"`
	EventID int64  `json:"eventId,omitempty"`
	URL     string `json:"url"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleBulkEvents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Events []*store.Event `json:"events"`
	}
	if err := readJSON(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Events == nil {
		fail(w, http.StatusBadRequest, "Events array is required")
		return
	}

	user := requestUser(r)
	results := make([]bulkResult, 0, len(req.Events))
	saved := 0
	for _, e := range req.Events {
		if e == nil {
			results = append(results, bulkResult{Error: "event is null"})
			continue
		}
		e.UserID = user
		id, err := s.opts.Events.SaveEvent(r.Context(), e)
		if err != nil {
			results = append(results, bulkResult{URL: e.URL, Error: err.Error()})
			continue
		}
		saved++
		results = append(results, bulkResult{Success: true, EventID: id, URL: e.URL})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Imported %d of %d events", saved, len(req.Events)),
		"results": results,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.EventFilter
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := strings.TrimSpace(q.Get(name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail(w, http.StatusBadRequest, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}
	f.StartDate = strings.TrimSpace(q.Get("startDate"))
	f.EndDate = strings.TrimSpace(q.Get("endDate"))

	events, err := s.opts.Events.ListEvents(r.Context(), requestUser(r), f)
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(events), "events": events})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	u := eventURL(r)
	if u == "" {
		fail(w, http.StatusBadRequest, "Event URL is required")
		return
	}
	e, err := s.opts.Events.GetEvent(r.Context(), requestUser(r), u)
	if errors.Is(err, store.ErrEventNotFound) {
		fail(w, http.StatusNotFound, "Event not found")
		return
	}
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "event": e})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	u := eventURL(r)
	if u == "" {
		fail(w, http.StatusBadRequest, "Event URL is required")
		return
	}
	err := s.opts.Events.DeleteEvent(r.Context(), requestUser(r), u)
	if errors.Is(err, store.ErrEventNotFound) {
		fail(w, http.StatusNotFound, "Event not found")
		return
	}
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Event deleted successfully"})
}

func (s *Server) handleSearchPeople(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		fail(w, http.StatusBadRequest, "Search query is required")
		return
	}
	people, err := s.opts.Events.SearchPeople(r.Context(), requestUser(r), q)
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(people), "people": people})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	events, err := s.opts.Events.ListEvents(r.Context(), requestUser(r), store.EventFilter{})
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "summary": store.Summarize(events, time.Now())})
}
