package models

import "time"

// MatchType records which identity signal resolved a conversion to a session.
type MatchType string

const (
	MatchSession    MatchType = "session"
	MatchEmail      MatchType = "email"
	MatchPhone      MatchType = "phone"
	MatchCustomerID MatchType = "customer_id"
	MatchNone       MatchType = "none"
)

// ConversionKind distinguishes lead-form submissions from purchases.
type ConversionKind string

const (
	KindLead  ConversionKind = "lead"
	KindOrder ConversionKind = "order"
)

// Deal status values as reported by the upstream CRM/shop.
const (
	StatusWon  = "won"
	StatusLost = "lost"
	StatusOpen = "open"
)

// ConversionItem is one purchased line item.
type ConversionItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// Conversion is the canonical business-outcome record every inbound
// platform payload is normalized into. Upserts are keyed by
// (client_id, external_id, platform) so webhook replays are safe.
type Conversion struct {
	ID         string         `json:"id,omitempty"`
	ClientID   string         `json:"client_id"`
	Kind       ConversionKind `json:"kind"`
	ExternalID string         `json:"external_id"`
	Platform   string         `json:"platform"`

	// Money
	Total    float64 `json:"total"`
	Subtotal float64 `json:"subtotal,omitempty"`
	Tax      float64 `json:"tax,omitempty"`
	Shipping float64 `json:"shipping,omitempty"`
	Currency string  `json:"currency"`

	// Contact identifiers used by the resolver.
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`

	// Lead-specific fields.
	Name     string `json:"name,omitempty"`
	Company  string `json:"company,omitempty"`
	FormType string `json:"form_type,omitempty"`
	Message  string `json:"message,omitempty"`
	Status   string `json:"status,omitempty"`

	Items        []ConversionItem  `json:"items,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`

	ConsentGiven bool `json:"consent_given,omitempty"`

	// Attribution outcome, captured once at resolution time. The snapshot
	// is the system of record for first/last-touch reporting even if the
	// session is mutated afterwards.
	MatchType     MatchType        `json:"match_type"`
	Attribution   *AttributionData `json:"attribution_data,omitempty"`
	DaysToConvert *int             `json:"days_to_convert,omitempty"`

	// Forwarding status per destination.
	SentToFacebook  bool   `json:"sent_to_facebook"`
	SentToGoogle    bool   `json:"sent_to_google"`
	FacebookEventID string `json:"facebook_event_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AttributionData is the durable snapshot persisted with a conversion.
// Only MatchType is set when the conversion could not be resolved.
type AttributionData struct {
	SessionID  string    `json:"session_id,omitempty"`
	FirstTouch *Touch    `json:"first_touch,omitempty"`
	LastTouch  *Touch    `json:"last_touch,omitempty"`
	ClickIDs   *ClickIDs `json:"click_ids,omitempty"`
	Device     *Device   `json:"device,omitempty"`
	MatchType  MatchType `json:"match_type"`

	// Erasure marker. When set, the touch snapshot has been wiped on a
	// right-to-erasure request and only the match type survives.
	Deleted   bool       `json:"deleted,omitempty"`
	DeletedAt *time.Time `json:"deletion_date,omitempty"`
}

// AttributionModel selects how multi-touch credit is distributed.
// It is a pure computation mode chosen per report query, never persisted.
type AttributionModel string

const (
	ModelFirstTouch    AttributionModel = "first_touch"
	ModelLastTouch     AttributionModel = "last_touch"
	ModelLinear        AttributionModel = "linear"
	ModelPositionBased AttributionModel = "position_based"
	ModelUShaped       AttributionModel = "u_shaped" // alias of position_based
	ModelTimeDecay     AttributionModel = "time_decay"
)

// ParseAttributionModel maps a query-string value to a model, defaulting
// to last touch for unknown or empty input.
func ParseAttributionModel(s string) AttributionModel {
	switch AttributionModel(s) {
	case ModelFirstTouch, ModelLastTouch, ModelLinear, ModelPositionBased, ModelUShaped, ModelTimeDecay:
		return AttributionModel(s)
	default:
		return ModelLastTouch
	}
}

// AdSpend is one imported spend row used by the revenue report.
type AdSpend struct {
	ClientID string    `json:"client_id"`
	Date     time.Time `json:"date"`
	Source   string    `json:"source"`
	Medium   string    `json:"medium"`
	Spend    float64   `json:"spend"`
}
