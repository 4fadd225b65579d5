package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/halotrack/halo-server/internal/attribution"
	"github.com/halotrack/halo-server/internal/models"
)

// Shop platforms send numbers and ids inconsistently, as JSON numbers
// in one webhook and quoted strings in the next. flexFloat and
// flexString accept both; garbage parses as zero rather than failing
// the whole payload.

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(strings.Trim(string(data), `"`))
	return nil
}

type wooMeta struct {
	Key   string     `json:"key"`
	Value flexString `json:"value"`
}

type wooOrder struct {
	ID            flexString `json:"id"`
	OrderID       flexString `json:"order_id"`
	Total         flexFloat  `json:"total"`
	Subtotal      flexFloat  `json:"subtotal"`
	TotalTax      flexFloat  `json:"total_tax"`
	ShippingTotal flexFloat  `json:"shipping_total"`
	Currency      string     `json:"currency"`
	CustomerID    flexString `json:"customer_id"`
	HaloSessionID string     `json:"halo_session_id"`
	Billing       *struct {
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"billing"`
	MetaData  []wooMeta `json:"meta_data"`
	LineItems []struct {
		ProductID flexString `json:"product_id"`
		Name      string     `json:"name"`
		Price     flexFloat  `json:"price"`
		Quantity  int        `json:"quantity"`
	} `json:"line_items"`
}

type shopifyOrder struct {
	ID          flexString `json:"id"`
	OrderNumber flexString `json:"order_number"`
	TotalPrice  flexFloat  `json:"total_price"`
	Subtotal    flexFloat  `json:"subtotal_price"`
	TotalTax    flexFloat  `json:"total_tax"`
	Currency    string     `json:"currency"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	Customer    *struct {
		ID    flexString `json:"id"`
		Email string     `json:"email"`
		Phone string     `json:"phone"`
	} `json:"customer"`
	TotalShippingPriceSet *struct {
		ShopMoney struct {
			Amount flexFloat `json:"amount"`
		} `json:"shop_money"`
	} `json:"total_shipping_price_set"`
	NoteAttributes []struct {
		Name  string     `json:"name"`
		Value flexString `json:"value"`
	} `json:"note_attributes"`
	LineItems []struct {
		ProductID flexString `json:"product_id"`
		Title     string     `json:"title"`
		Price     flexFloat  `json:"price"`
		Quantity  int        `json:"quantity"`
	} `json:"line_items"`
}

type genericOrder struct {
	ID            flexString `json:"id"`
	OrderID       flexString `json:"order_id"`
	Platform      string     `json:"platform"`
	Total         flexFloat  `json:"total"`
	TotalAmount   flexFloat  `json:"total_amount"`
	Subtotal      flexFloat  `json:"subtotal"`
	Tax           flexFloat  `json:"tax"`
	Shipping      flexFloat  `json:"shipping"`
	Currency      string     `json:"currency"`
	Email         string     `json:"email"`
	CustomerEmail string     `json:"customer_email"`
	Phone         string     `json:"phone"`
	CustomerPhone string     `json:"customer_phone"`
	CustomerID    flexString `json:"customer_id"`
	SessionID     string     `json:"session_id"`
	HaloSessionID string     `json:"halo_session_id"`
	Items         []struct {
		ID       flexString `json:"id"`
		Name     string     `json:"name"`
		Price    flexFloat  `json:"price"`
		Quantity int        `json:"quantity"`
	} `json:"items"`
}

type genericLead struct {
	LeadID       flexString        `json:"lead_id"`
	ID           flexString        `json:"id"`
	Source       string            `json:"source"`
	Email        string            `json:"email"`
	Phone        string            `json:"phone"`
	Name         string            `json:"name"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Company      string            `json:"company"`
	FormType     string            `json:"form_type"`
	Message      string            `json:"message"`
	Comments     string            `json:"comments"`
	Value        flexFloat         `json:"value"`
	LeadValue    flexFloat         `json:"lead_value"`
	Currency     string            `json:"currency"`
	CustomFields map[string]string `json:"custom_fields"`
	SessionID    string            `json:"session_id"`
	HaloSession  string            `json:"halo_session_id"`
	Consent      bool              `json:"consent_given"`
	GDPRConsent  bool              `json:"gdpr_consent"`
	Status       string            `json:"status"`
}

// detection probe, unmarshalled first to pick the platform adapter
type orderProbe struct {
	Billing       json.RawMessage `json:"billing"`
	LineItems     json.RawMessage `json:"line_items"`
	CheckoutToken string          `json:"checkout_token"`
	OrderNumber   json.RawMessage `json:"order_number"`
}

// NormalizeOrder maps a raw shop webhook body onto the canonical
// conversion shape. Platform detection is structural: WooCommerce
// payloads carry billing/line_items, Shopify payloads a checkout token
// or order number, everything else falls through to the generic format.
func NormalizeOrder(raw []byte, defaultCurrency string) (*models.Conversion, error) {
	var probe orderProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse order payload: %w", err)
	}

	var c *models.Conversion
	var err error
	switch {
	case probe.Billing != nil || probe.LineItems != nil:
		c, err = normalizeWooCommerce(raw)
	case probe.CheckoutToken != "" || probe.OrderNumber != nil:
		c, err = normalizeShopify(raw)
	default:
		c, err = normalizeGenericOrder(raw)
	}
	if err != nil {
		return nil, err
	}

	if c.ExternalID == "" {
		return nil, fmt.Errorf("order payload has no id")
	}
	if c.Currency == "" {
		c.Currency = defaultCurrency
	}
	c.Kind = models.KindOrder
	c.Email = attribution.NormalizeEmail(c.Email)
	c.Phone = attribution.NormalizePhone(c.Phone)
	return c, nil
}

func normalizeWooCommerce(raw []byte) (*models.Conversion, error) {
	var o wooOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("failed to parse woocommerce order: %w", err)
	}

	sessionID := o.HaloSessionID
	for _, m := range o.MetaData {
		if m.Key == "_halo_session" {
			sessionID = string(m.Value)
			break
		}
	}

	c := &models.Conversion{
		ExternalID: firstNonEmpty(string(o.ID), string(o.OrderID)),
		Platform:   "woocommerce",
		Total:      float64(o.Total),
		Subtotal:   float64(o.Subtotal),
		Tax:        float64(o.TotalTax),
		Shipping:   float64(o.ShippingTotal),
		Currency:   o.Currency,
		CustomerID: string(o.CustomerID),
		SessionID:  sessionID,
	}
	if o.Billing != nil {
		c.Email = o.Billing.Email
		c.Phone = o.Billing.Phone
	}
	for _, item := range o.LineItems {
		c.Items = append(c.Items, models.ConversionItem{
			ID:       string(item.ProductID),
			Name:     item.Name,
			Price:    float64(item.Price),
			Quantity: item.Quantity,
		})
	}
	return c, nil
}

func normalizeShopify(raw []byte) (*models.Conversion, error) {
	var o shopifyOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("failed to parse shopify order: %w", err)
	}

	var sessionID string
	for _, attr := range o.NoteAttributes {
		if attr.Name == "halo_session_id" || attr.Name == "_halo_session" {
			sessionID = string(attr.Value)
			break
		}
	}

	c := &models.Conversion{
		ExternalID: firstNonEmpty(string(o.ID), string(o.OrderNumber)),
		Platform:   "shopify",
		Total:      float64(o.TotalPrice),
		Subtotal:   float64(o.Subtotal),
		Tax:        float64(o.TotalTax),
		Currency:   o.Currency,
		Email:      o.Email,
		Phone:      o.Phone,
		SessionID:  sessionID,
	}
	if o.TotalShippingPriceSet != nil {
		c.Shipping = float64(o.TotalShippingPriceSet.ShopMoney.Amount)
	}
	if o.Customer != nil {
		c.CustomerID = string(o.Customer.ID)
		if c.Email == "" {
			c.Email = o.Customer.Email
		}
		if c.Phone == "" {
			c.Phone = o.Customer.Phone
		}
	}
	for _, item := range o.LineItems {
		c.Items = append(c.Items, models.ConversionItem{
			ID:       string(item.ProductID),
			Name:     item.Title,
			Price:    float64(item.Price),
			Quantity: item.Quantity,
		})
	}
	return c, nil
}

func normalizeGenericOrder(raw []byte) (*models.Conversion, error) {
	var o genericOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("failed to parse order: %w", err)
	}

	platform := o.Platform
	if platform == "" {
		platform = "custom"
	}
	total := float64(o.Total)
	if total == 0 {
		total = float64(o.TotalAmount)
	}

	c := &models.Conversion{
		ExternalID: firstNonEmpty(string(o.OrderID), string(o.ID)),
		Platform:   platform,
		Total:      total,
		Subtotal:   float64(o.Subtotal),
		Tax:        float64(o.Tax),
		Shipping:   float64(o.Shipping),
		Currency:   o.Currency,
		Email:      firstNonEmpty(o.Email, o.CustomerEmail),
		Phone:      firstNonEmpty(o.Phone, o.CustomerPhone),
		CustomerID: string(o.CustomerID),
		SessionID:  firstNonEmpty(o.SessionID, o.HaloSessionID),
	}
	for _, item := range o.Items {
		c.Items = append(c.Items, models.ConversionItem{
			ID:       string(item.ID),
			Name:     item.Name,
			Price:    float64(item.Price),
			Quantity: item.Quantity,
		})
	}
	return c, nil
}

// NormalizeLead maps a form submission onto the canonical conversion
// shape. Missing ids get a timestamp-based one so replays of distinct
// submissions never collide on the upsert key.
func NormalizeLead(raw []byte, defaultCurrency string, now time.Time) (*models.Conversion, error) {
	var l genericLead
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("failed to parse lead payload: %w", err)
	}

	externalID := firstNonEmpty(string(l.LeadID), string(l.ID))
	if externalID == "" {
		externalID = fmt.Sprintf("lead_%d", now.UnixMilli())
	}

	name := l.Name
	if name == "" {
		name = strings.TrimSpace(l.FirstName + " " + l.LastName)
	}

	platform := l.Source
	if platform == "" {
		platform = "form"
	}
	formType := l.FormType
	if formType == "" {
		formType = "contact"
	}
	value := float64(l.Value)
	if value == 0 {
		value = float64(l.LeadValue)
	}
	currency := l.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	status := l.Status
	if status == "" {
		status = models.StatusOpen
	}

	return &models.Conversion{
		Kind:         models.KindLead,
		ExternalID:   externalID,
		Platform:     platform,
		Total:        value,
		Currency:     currency,
		Email:        attribution.NormalizeEmail(l.Email),
		Phone:        attribution.NormalizePhone(l.Phone),
		SessionID:    firstNonEmpty(l.SessionID, l.HaloSession),
		Name:         name,
		Company:      l.Company,
		FormType:     formType,
		Message:      firstNonEmpty(l.Message, l.Comments),
		Status:       status,
		CustomFields: l.CustomFields,
		ConsentGiven: l.Consent || l.GDPRConsent,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
