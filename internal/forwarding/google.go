package forwarding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/halotrack/halo-server/internal/models"
)

const googleCollectURL = "https://www.google-analytics.com/mp/collect"

// GoogleForwarder sends conversions to the GA4 Measurement Protocol.
type GoogleForwarder struct {
	measurementID string
	apiSecret     string
	client        *http.Client
	logger        *zap.Logger
	baseURL       string
}

func NewGoogleForwarder(measurementID, apiSecret string, logger *zap.Logger) *GoogleForwarder {
	return &GoogleForwarder{
		measurementID: measurementID,
		apiSecret:     apiSecret,
		client:        newHTTPClient(),
		logger:        logger,
		baseURL:       googleCollectURL,
	}
}

func (g *GoogleForwarder) Name() string { return "google" }

func (g *GoogleForwarder) Enabled() bool {
	return g.measurementID != "" && g.apiSecret != ""
}

type gaItem struct {
	ItemID   string  `json:"item_id"`
	ItemName string  `json:"item_name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type gaEvent struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params"`
}

type gaUserData struct {
	SHA256EmailAddress string `json:"sha256_email_address,omitempty"`
	SHA256PhoneNumber  string `json:"sha256_phone_number,omitempty"`
}

type gaPayload struct {
	ClientID string     `json:"client_id"`
	Events   []gaEvent  `json:"events"`
	UserData gaUserData `json:"user_data"`
}

// Send forwards one conversion as a purchase or generate_lead event.
// The attributed session id doubles as the GA client id so the event
// joins the visitor's existing GA session where one exists.
func (g *GoogleForwarder) Send(ctx context.Context, c *models.Conversion) Result {
	clientID := c.SessionID
	if clientID == "" {
		clientID = c.ExternalID
	}

	var event gaEvent
	if c.Kind == models.KindOrder {
		items := make([]gaItem, 0, len(c.Items))
		for _, item := range c.Items {
			items = append(items, gaItem{
				ItemID:   item.ID,
				ItemName: item.Name,
				Price:    item.Price,
				Quantity: item.Quantity,
			})
		}
		event = gaEvent{
			Name: "purchase",
			Params: map[string]interface{}{
				"transaction_id": c.ExternalID,
				"value":          c.Total,
				"currency":       c.Currency,
				"items":          items,
			},
		}
	} else {
		formType := c.FormType
		if formType == "" {
			formType = "contact"
		}
		event = gaEvent{
			Name: "generate_lead",
			Params: map[string]interface{}{
				"value":     c.Total,
				"currency":  c.Currency,
				"form_type": formType,
			},
		}
	}

	payload := gaPayload{
		ClientID: clientID,
		Events:   []gaEvent{event},
		UserData: gaUserData{
			SHA256EmailAddress: hashEmail(c.Email),
			SHA256PhoneNumber:  hashPhone(c.Phone),
		},
	}

	return g.post(ctx, payload)
}

func (g *GoogleForwarder) post(ctx context.Context, payload gaPayload) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Error: err.Error()}
	}

	endpoint := fmt.Sprintf("%s?measurement_id=%s&api_secret=%s",
		g.baseURL, url.QueryEscape(g.measurementID), url.QueryEscape(g.apiSecret))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("ga4 measurement protocol request failed", zap.Error(err))
		return Result{Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		g.logger.Warn("ga4 measurement protocol rejected event", zap.Int("status", resp.StatusCode))
		return Result{Error: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	return Result{Success: true}
}
