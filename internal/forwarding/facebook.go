package forwarding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/halotrack/halo-server/internal/models"
)

const facebookGraphURL = "https://graph.facebook.com/v18.0"

// FacebookForwarder sends conversions to the Meta Conversions API.
// Contact identifiers are SHA-256 hashed before leaving the server.
type FacebookForwarder struct {
	pixelID       string
	accessToken   string
	testEventCode string
	client        *http.Client
	logger        *zap.Logger
	baseURL       string

	now func() time.Time
}

func NewFacebookForwarder(pixelID, accessToken, testEventCode string, logger *zap.Logger) *FacebookForwarder {
	return &FacebookForwarder{
		pixelID:       pixelID,
		accessToken:   accessToken,
		testEventCode: testEventCode,
		client:        newHTTPClient(),
		logger:        logger,
		baseURL:       facebookGraphURL,
		now:           time.Now,
	}
}

func (f *FacebookForwarder) Name() string { return "facebook" }

func (f *FacebookForwarder) Enabled() bool {
	return f.pixelID != "" && f.accessToken != ""
}

type fbUserData struct {
	Em              []string `json:"em,omitempty"`
	Ph              []string `json:"ph,omitempty"`
	Fn              []string `json:"fn,omitempty"`
	Ln              []string `json:"ln,omitempty"`
	Fbc             string   `json:"fbc,omitempty"`
	Fbp             string   `json:"fbp,omitempty"`
	ClientIPAddress string   `json:"client_ip_address,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
	Country         []string `json:"country,omitempty"`
	Ct              []string `json:"ct,omitempty"`
}

type fbContent struct {
	ID        string  `json:"id"`
	Quantity  int     `json:"quantity"`
	ItemPrice float64 `json:"item_price"`
}

type fbCustomData struct {
	Value           float64     `json:"value"`
	Currency        string      `json:"currency"`
	ContentIDs      []string    `json:"content_ids,omitempty"`
	ContentType     string      `json:"content_type,omitempty"`
	ContentName     string      `json:"content_name,omitempty"`
	ContentCategory string      `json:"content_category,omitempty"`
	NumItems        int         `json:"num_items,omitempty"`
	Contents        []fbContent `json:"contents,omitempty"`
}

type fbEvent struct {
	EventName      string       `json:"event_name"`
	EventTime      int64        `json:"event_time"`
	EventID        string       `json:"event_id"`
	EventSourceURL string       `json:"event_source_url,omitempty"`
	ActionSource   string       `json:"action_source"`
	UserData       fbUserData   `json:"user_data"`
	CustomData     fbCustomData `json:"custom_data"`
}

type fbPayload struct {
	Data          []fbEvent `json:"data"`
	TestEventCode string    `json:"test_event_code,omitempty"`
}

// Send forwards one conversion as a Purchase or Lead event. eventID
// enables platform-side deduplication against the browser pixel.
func (f *FacebookForwarder) Send(ctx context.Context, c *models.Conversion, eventID string) Result {
	event := fbEvent{
		EventTime:      f.now().Unix(),
		EventID:        eventID,
		EventSourceURL: sourceURL(c.Attribution),
		ActionSource:   "website",
		UserData:       f.userData(c),
	}

	if c.Kind == models.KindOrder {
		event.EventName = "Purchase"
		event.CustomData = fbCustomData{
			Value:       c.Total,
			Currency:    c.Currency,
			ContentType: "product",
			NumItems:    len(c.Items),
		}
		for _, item := range c.Items {
			event.CustomData.ContentIDs = append(event.CustomData.ContentIDs, item.ID)
			event.CustomData.Contents = append(event.CustomData.Contents, fbContent{
				ID:        item.ID,
				Quantity:  item.Quantity,
				ItemPrice: item.Price,
			})
		}
		if event.CustomData.NumItems == 0 {
			event.CustomData.NumItems = 1
		}
	} else {
		formType := c.FormType
		if formType == "" {
			formType = "contact_form"
		}
		event.EventName = "Lead"
		event.CustomData = fbCustomData{
			Value:           c.Total,
			Currency:        c.Currency,
			ContentName:     formType,
			ContentCategory: "lead_generation",
		}
	}

	payload := fbPayload{
		Data:          []fbEvent{event},
		TestEventCode: f.testEventCode,
	}

	return f.post(ctx, payload)
}

func (f *FacebookForwarder) userData(c *models.Conversion) fbUserData {
	ud := fbUserData{}
	if h := hashEmail(c.Email); h != "" {
		ud.Em = []string{h}
	}
	if h := hashPhone(c.Phone); h != "" {
		ud.Ph = []string{h}
	}
	if c.Kind == models.KindLead && c.Name != "" {
		parts := strings.Fields(strings.ToLower(strings.TrimSpace(c.Name)))
		if len(parts) > 0 {
			ud.Fn = []string{hashSHA256(parts[0])}
		}
		if len(parts) > 1 {
			ud.Ln = []string{hashSHA256(strings.Join(parts[1:], " "))}
		}
	}
	if a := c.Attribution; a != nil {
		if a.ClickIDs != nil {
			ud.Fbc = a.ClickIDs.FBC
			ud.Fbp = a.ClickIDs.FBP
		}
		if a.Device != nil {
			ud.ClientUserAgent = a.Device.UserAgent
			if a.Device.Country != "" {
				ud.Country = []string{hashSHA256(strings.ToLower(a.Device.Country))}
			}
			if a.Device.City != "" {
				city := strings.ToLower(strings.ReplaceAll(a.Device.City, " ", ""))
				ud.Ct = []string{hashSHA256(city)}
			}
		}
	}
	return ud
}

func (f *FacebookForwarder) post(ctx context.Context, payload fbPayload) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Error: err.Error()}
	}

	url := fmt.Sprintf("%s/%s/events?access_token=%s", f.baseURL, f.pixelID, f.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("facebook capi request failed", zap.Error(err))
		return Result{Error: err.Error()}
	}
	defer resp.Body.Close()

	var result struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{Error: fmt.Sprintf("failed to decode response: %v", err)}
	}
	if resp.StatusCode >= 300 || result.Error != nil {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if result.Error != nil {
			msg = result.Error.Message
		}
		f.logger.Warn("facebook capi rejected event", zap.String("error", msg))
		return Result{Error: msg}
	}

	return Result{Success: true}
}

func sourceURL(a *models.AttributionData) string {
	if a == nil {
		return ""
	}
	if a.LastTouch != nil && a.LastTouch.Landing != "" {
		return a.LastTouch.Landing
	}
	if a.FirstTouch != nil {
		return a.FirstTouch.Landing
	}
	return ""
}
