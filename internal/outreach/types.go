package outreach

type EventRequest struct {
	UserID         string // empty means store.DefaultUser
	URL            string
	Title          string
	Content        string
	YourCompany    string
	YourProduct    string
	TargetPersonas string // comma separated
}

type StrategyContext struct {
	YourCompany      string
	YourProduct      string
	TargetPersonas   string
	TargetIndustries string
}

type Strategy struct {
	Company            string   `json:"company"`
	Contact            string   `json:"contact,omitempty"`
	ValueAlignment     string   `json:"value_alignment"`
	KeyTopics          []string `json:"key_topics"`
	ToneAndVoice       string   `json:"tone_and_voice"`
	ProductPositioning string   `json:"product_positioning"`
	TalkingPoints      []string `json:"talking_points"`
	OpeningLine        string   `json:"opening_line"`
	WhatToAvoid        []string `json:"what_to_avoid"`
}

type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type ExtractedPerson struct {
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
}

type ExtractedCompany struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Industry    string            `json:"industry,omitempty"`
	People      []ExtractedPerson `json:"people,omitempty"`
	Context     string            `json:"context,omitempty"`
}

type enrichment struct {
	Description    string `json:"description"`
	Industry       string `json:"industry"`
	RecentActivity string `json:"recent_activity"`
}
