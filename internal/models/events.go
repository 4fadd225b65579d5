package models

import "time"

// AnalyticsEvent is one row in the append-only analytics event log.
// Named custom events are tied to a session; anonymous page views from
// consent-denied visitors carry UTM fields only.
type AnalyticsEvent struct {
	EventID   string            `json:"event_id"`
	ClientID  string            `json:"client_id"`
	SessionID string            `json:"session_id,omitempty"`
	EventName string            `json:"event_name"`
	Source    string            `json:"source,omitempty"`
	Medium    string            `json:"medium,omitempty"`
	Campaign  string            `json:"campaign,omitempty"`
	PagePath  string            `json:"page_path,omitempty"`
	Referrer  string            `json:"referrer,omitempty"`
	Props     map[string]string `json:"properties,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

const (
	EventPageView     = "page_view"
	EventAnonPageView = "anon_page_view"
)
