package models

import "time"

// ConsentStatus captures the visitor's tracking consent at session creation.
type ConsentStatus string

const (
	ConsentGranted ConsentStatus = "granted"
	ConsentDenied  ConsentStatus = "denied"
	ConsentUnknown ConsentStatus = "unknown"
)

// Touch holds one observed set of marketing parameters. The same shape is
// used for the first-touch and last-touch snapshots on a session.
type Touch struct {
	Source       string    `json:"source,omitempty"`
	Medium       string    `json:"medium,omitempty"`
	Campaign     string    `json:"campaign,omitempty"`
	Term         string    `json:"term,omitempty"`
	Content      string    `json:"content,omitempty"`
	Referrer     string    `json:"referrer,omitempty"`
	ReferrerFull string    `json:"referrer_full,omitempty"`
	Landing      string    `json:"landing,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
}

// ClickIDs holds ad-platform click identifiers. Each field is updated
// independently when a new non-empty value arrives.
type ClickIDs struct {
	GCLID   string `json:"gclid,omitempty"`
	GBRAID  string `json:"gbraid,omitempty"`
	WBRAID  string `json:"wbraid,omitempty"`
	FBCLID  string `json:"fbclid,omitempty"`
	FBC     string `json:"fbc,omitempty"`
	FBP     string `json:"fbp,omitempty"`
	TTCLID  string `json:"ttclid,omitempty"`
	MSCLKID string `json:"msclkid,omitempty"`
}

// Empty reports whether no click identifier is set.
func (c ClickIDs) Empty() bool {
	return c == ClickIDs{}
}

// Merge overwrites each identifier for which other carries a non-empty
// value, preserving the rest.
func (c *ClickIDs) Merge(other ClickIDs) {
	if other.GCLID != "" {
		c.GCLID = other.GCLID
	}
	if other.GBRAID != "" {
		c.GBRAID = other.GBRAID
	}
	if other.WBRAID != "" {
		c.WBRAID = other.WBRAID
	}
	if other.FBCLID != "" {
		c.FBCLID = other.FBCLID
	}
	if other.FBC != "" {
		c.FBC = other.FBC
	}
	if other.FBP != "" {
		c.FBP = other.FBP
	}
	if other.TTCLID != "" {
		c.TTCLID = other.TTCLID
	}
	if other.MSCLKID != "" {
		c.MSCLKID = other.MSCLKID
	}
}

// Device holds parsed user-agent and geo details, captured once at
// session creation.
type Device struct {
	UserAgent      string `json:"user_agent,omitempty"`
	Type           string `json:"type,omitempty"` // desktop, mobile, tablet
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	OSVersion      string `json:"os_version,omitempty"`
	Country        string `json:"country,omitempty"`
	Region         string `json:"region,omitempty"`
	City           string `json:"city,omitempty"`
	Language       string `json:"language,omitempty"`
}

// Session is the attribution record for one visitor-tracking lifetime.
// FirstTouch is written once at creation and never overwritten; LastTouch
// is overwritten whenever a later touch carries marketing data.
type Session struct {
	ID        string `json:"id,omitempty"`
	ClientID  string `json:"client_id"`
	SessionID string `json:"session_id"`

	FirstTouch Touch    `json:"first_touch"`
	LastTouch  Touch    `json:"last_touch"`
	ClickIDs   ClickIDs `json:"click_ids"`
	Device     Device   `json:"device"`

	// Identity, attached later via the identify endpoint.
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	ExternalID string `json:"external_id,omitempty"`

	IPHash        string        `json:"ip_hash,omitempty"`
	ConsentStatus ConsentStatus `json:"consent_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touchpoint is one journaled marketing touch for a session. Rows are
// append-only and numbered sequentially per session starting at 1.
type Touchpoint struct {
	ID        string `json:"id,omitempty"`
	ClientID  string `json:"client_id"`
	SessionID string `json:"session_id"`

	Number int `json:"touchpoint_number"`

	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Term     string `json:"term,omitempty"`
	Content  string `json:"content,omitempty"`
	Referrer string `json:"referrer,omitempty"`
	Landing  string `json:"landing,omitempty"`

	ClickIDs ClickIDs `json:"click_ids"`

	Timestamp time.Time `json:"timestamp"`
}

// HasMarketingSignal reports whether a touch is worth journaling:
// a non-empty source or at least one click identifier. Referrer-only
// navigation is not journaled so paid-channel credit is not diluted.
func HasMarketingSignal(source string, clickIDs ClickIDs) bool {
	return source != "" || !clickIDs.Empty()
}
