package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halotrack/halo-server/internal/models"
)

func TestNormalizeOrderWooCommerce(t *testing.T) {
	payload := []byte(`{
		"id": 1234,
		"total": "1599.00",
		"subtotal": "1450.00",
		"total_tax": "99.00",
		"shipping_total": "50.00",
		"currency": "CZK",
		"customer_id": 77,
		"billing": {"email": "Jana@Example.com", "phone": "+420 777 123 456"},
		"meta_data": [
			{"key": "_some_plugin", "value": "x"},
			{"key": "_halo_session", "value": "sess-woo-1"}
		],
		"line_items": [
			{"product_id": 11, "name": "Widget", "price": "725.00", "quantity": 2}
		]
	}`)

	c, err := NormalizeOrder(payload, "CZK")
	require.NoError(t, err)

	assert.Equal(t, models.KindOrder, c.Kind)
	assert.Equal(t, "woocommerce", c.Platform)
	assert.Equal(t, "1234", c.ExternalID)
	assert.Equal(t, 1599.00, c.Total)
	assert.Equal(t, 99.00, c.Tax)
	assert.Equal(t, 50.00, c.Shipping)
	assert.Equal(t, "jana@example.com", c.Email)
	assert.Equal(t, "420777123456", c.Phone)
	assert.Equal(t, "77", c.CustomerID)
	assert.Equal(t, "sess-woo-1", c.SessionID)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "11", c.Items[0].ID)
	assert.Equal(t, 2, c.Items[0].Quantity)
}

func TestNormalizeOrderShopify(t *testing.T) {
	payload := []byte(`{
		"id": 5678,
		"order_number": 1001,
		"checkout_token": "tok-1",
		"total_price": "2500.00",
		"subtotal_price": "2400.00",
		"total_tax": "100.00",
		"currency": "EUR",
		"email": "KAREL@example.com",
		"customer": {"id": 42, "phone": "+420608111222"},
		"total_shipping_price_set": {"shop_money": {"amount": "120.00"}},
		"note_attributes": [{"name": "halo_session_id", "value": "sess-shop-1"}],
		"line_items": [
			{"product_id": 9, "title": "Gadget", "price": "2400.00", "quantity": 1}
		]
	}`)

	c, err := NormalizeOrder(payload, "CZK")
	require.NoError(t, err)

	assert.Equal(t, "shopify", c.Platform)
	assert.Equal(t, "5678", c.ExternalID)
	assert.Equal(t, 2500.00, c.Total)
	assert.Equal(t, 120.00, c.Shipping)
	assert.Equal(t, "EUR", c.Currency)
	assert.Equal(t, "karel@example.com", c.Email)
	assert.Equal(t, "420608111222", c.Phone)
	assert.Equal(t, "42", c.CustomerID)
	assert.Equal(t, "sess-shop-1", c.SessionID)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "Gadget", c.Items[0].Name)
}

func TestNormalizeOrderGeneric(t *testing.T) {
	payload := []byte(`{
		"order_id": "ORD-9",
		"total_amount": 800,
		"customer_email": "eva@example.com",
		"session_id": "sess-gen-1"
	}`)

	c, err := NormalizeOrder(payload, "CZK")
	require.NoError(t, err)

	assert.Equal(t, "custom", c.Platform)
	assert.Equal(t, "ORD-9", c.ExternalID)
	assert.Equal(t, 800.0, c.Total)
	assert.Equal(t, "CZK", c.Currency)
	assert.Equal(t, "eva@example.com", c.Email)
	assert.Equal(t, "sess-gen-1", c.SessionID)
}

func TestNormalizeOrderGarbageAmounts(t *testing.T) {
	payload := []byte(`{"order_id": "ORD-10", "total": "not-a-number"}`)

	c, err := NormalizeOrder(payload, "CZK")
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.Total)
}

func TestNormalizeOrderMissingID(t *testing.T) {
	_, err := NormalizeOrder([]byte(`{"total": 100}`), "CZK")
	assert.Error(t, err)
}

func TestNormalizeLeadDefaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	payload := []byte(`{
		"email": "Petr@Example.com",
		"first_name": "Petr",
		"last_name": "Novak",
		"message": "Call me"
	}`)

	c, err := NormalizeLead(payload, "CZK", now)
	require.NoError(t, err)

	assert.Equal(t, models.KindLead, c.Kind)
	assert.Equal(t, "form", c.Platform)
	assert.Equal(t, "contact", c.FormType)
	assert.Equal(t, "CZK", c.Currency)
	assert.Equal(t, models.StatusOpen, c.Status)
	assert.Equal(t, "petr@example.com", c.Email)
	assert.Equal(t, "Petr Novak", c.Name)
	assert.Equal(t, "Call me", c.Message)
	assert.NotEmpty(t, c.ExternalID)
	assert.Equal(t, 0.0, c.Total)
}

func TestNormalizeLeadFullPayload(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	payload := []byte(`{
		"lead_id": "L-7",
		"source": "hubspot",
		"email": "eva@example.com",
		"phone": "+420 601 234 567",
		"name": "Eva K",
		"company": "Acme s.r.o.",
		"form_type": "demo_request",
		"lead_value": "5000",
		"currency": "CZK",
		"custom_fields": {"plan": "pro"},
		"halo_session_id": "sess-lead-1",
		"gdpr_consent": true,
		"status": "won"
	}`)

	c, err := NormalizeLead(payload, "CZK", now)
	require.NoError(t, err)

	assert.Equal(t, "L-7", c.ExternalID)
	assert.Equal(t, "hubspot", c.Platform)
	assert.Equal(t, 5000.0, c.Total)
	assert.Equal(t, "420601234567", c.Phone)
	assert.Equal(t, "demo_request", c.FormType)
	assert.Equal(t, "sess-lead-1", c.SessionID)
	assert.Equal(t, models.StatusWon, c.Status)
	assert.True(t, c.ConsentGiven)
	assert.Equal(t, "pro", c.CustomFields["plan"])
}
