package tracking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halotrack/halo-server/internal/attribution"
	"github.com/halotrack/halo-server/internal/metrics"
	"github.com/halotrack/halo-server/internal/models"
	"github.com/halotrack/halo-server/internal/stats"
	"github.com/halotrack/halo-server/internal/storage"
)

// TouchInput is one tracking beacon from the browser snippet, plus the
// request metadata the handler extracts for us.
type TouchInput struct {
	SessionID string
	Consent   models.ConsentStatus

	Source   string
	Medium   string
	Campaign string
	Term     string
	Content  string
	Referrer string
	Landing  string

	ClickIDs models.ClickIDs

	IP        string
	UserAgent string
	Language  string
}

// TouchResult tells the handler which session the touch landed on.
// SessionID is empty when consent was denied and nothing was stored.
type TouchResult struct {
	SessionID string `json:"session_id"`
	Created   bool   `json:"-"`
}

// EventInput is one named custom event from the snippet.
type EventInput struct {
	SessionID string
	EventName string
	PagePath  string
	Referrer  string
	Props     map[string]string
}

// TouchService records visitor touches, attaches identities and logs
// analytics events.
type TouchService struct {
	sessions    storage.SessionRepo
	touchpoints storage.TouchpointRepo
	events      storage.EventLog
	geo         GeoProvider
	counters    *stats.Counters
	metrics     *metrics.Metrics
	clientID    string
	logger      *zap.Logger

	now func() time.Time
}

func NewTouchService(
	sessions storage.SessionRepo,
	touchpoints storage.TouchpointRepo,
	events storage.EventLog,
	geo GeoProvider,
	counters *stats.Counters,
	clientID string,
	logger *zap.Logger,
) *TouchService {
	return &TouchService{
		sessions:    sessions,
		touchpoints: touchpoints,
		events:      events,
		geo:         geo,
		counters:    counters,
		clientID:    clientID,
		logger:      logger,
		now:         time.Now,
	}
}

// SetMetrics attaches metrics after construction.
func (s *TouchService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// RecordTouch ingests one beacon. Consent-denied visitors produce at
// most an anonymous aggregate event and no session. Otherwise the
// session is created or its last-touch updated, and touches carrying a
// marketing signal are appended to the journal.
func (s *TouchService) RecordTouch(ctx context.Context, in TouchInput) (*TouchResult, error) {
	if in.Consent == models.ConsentDenied {
		s.recordAnonPageView(ctx, in)
		return &TouchResult{}, nil
	}
	if in.Consent == "" {
		in.Consent = models.ConsentUnknown
	}

	now := s.now().UTC()
	touch := models.Touch{
		Source:       in.Source,
		Medium:       in.Medium,
		Campaign:     in.Campaign,
		Term:         in.Term,
		Content:      in.Content,
		Referrer:     referrerDomain(in.Referrer),
		ReferrerFull: in.Referrer,
		Landing:      in.Landing,
		Timestamp:    now,
	}
	hasTouchData := touch.Source != "" || touch.Referrer != "" || !in.ClickIDs.Empty()

	var session *models.Session
	if in.SessionID != "" {
		existing, err := s.sessions.GetBySessionID(ctx, s.clientID, in.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		session = existing
	}

	created := false
	sessionID := in.SessionID
	if session == nil {
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		if err := s.createSession(ctx, sessionID, in, touch, now); err != nil {
			return nil, err
		}
		created = true
		s.counters.IncrSession(ctx, s.clientID, now)
	} else if hasTouchData {
		if err := s.sessions.UpdateLastTouch(ctx, s.clientID, sessionID, touch, in.ClickIDs); err != nil {
			return nil, fmt.Errorf("failed to update session: %w", err)
		}
	}

	if models.HasMarketingSignal(touch.Source, in.ClickIDs) {
		if err := s.journalTouchpoint(ctx, sessionID, touch, in.ClickIDs); err != nil {
			return nil, err
		}
	}

	s.counters.IncrTouch(ctx, s.clientID, now)

	return &TouchResult{SessionID: sessionID, Created: created}, nil
}

func (s *TouchService) createSession(ctx context.Context, sessionID string, in TouchInput, touch models.Touch, now time.Time) error {
	device := ParseUserAgent(in.UserAgent)
	device.Language = in.Language

	if s.geo != nil && in.IP != "" {
		if info, err := s.geo.Lookup(in.IP); err == nil {
			device.Country = info.Country
			device.Region = info.Region
			device.City = info.City
		} else {
			s.logger.Debug("geo lookup failed", zap.Error(err))
		}
	}

	session := &models.Session{
		ClientID:      s.clientID,
		SessionID:     sessionID,
		FirstTouch:    touch,
		LastTouch:     touch,
		ClickIDs:      in.ClickIDs,
		Device:        device,
		IPHash:        HashIP(in.IP),
		ConsentStatus: in.Consent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// journalTouchpoint appends one journal row. The sequence number is
// advisory; concurrent touches on one session may collide and that is
// acceptable, ordering for allocation uses the timestamp.
func (s *TouchService) journalTouchpoint(ctx context.Context, sessionID string, touch models.Touch, clickIDs models.ClickIDs) error {
	count, err := s.touchpoints.CountBySession(ctx, s.clientID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to count touchpoints: %w", err)
	}

	tp := &models.Touchpoint{
		ClientID:  s.clientID,
		SessionID: sessionID,
		Number:    count + 1,
		Source:    touch.Source,
		Medium:    touch.Medium,
		Campaign:  touch.Campaign,
		Term:      touch.Term,
		Content:   touch.Content,
		Referrer:  touch.Referrer,
		Landing:   touch.Landing,
		ClickIDs:  clickIDs,
		Timestamp: touch.Timestamp,
	}
	if err := s.touchpoints.Append(ctx, tp); err != nil {
		return fmt.Errorf("failed to journal touchpoint: %w", err)
	}
	if s.metrics != nil {
		s.metrics.Touchpoints.Inc()
	}
	return nil
}

// recordAnonPageView keeps an aggregate trace of consent-denied traffic
// with no identifiers attached. Only touches carrying campaign data or
// a referrer are worth the row.
func (s *TouchService) recordAnonPageView(ctx context.Context, in TouchInput) {
	if in.Source == "" && in.Referrer == "" {
		return
	}
	if s.events == nil {
		return
	}

	e := &models.AnalyticsEvent{
		EventID:   uuid.NewString(),
		ClientID:  s.clientID,
		EventName: models.EventAnonPageView,
		Source:    in.Source,
		Medium:    in.Medium,
		Campaign:  in.Campaign,
		PagePath:  in.Landing,
		Referrer:  referrerDomain(in.Referrer),
		Timestamp: s.now().UTC(),
	}
	if err := s.events.Append(ctx, e); err != nil {
		s.logger.Warn("failed to log anonymous page view", zap.Error(err))
	}
}

// Identify attaches contact identifiers to an existing session. Values
// are normalized before storage so resolver lookups match exactly.
func (s *TouchService) Identify(ctx context.Context, sessionID, email, phone, externalID string) error {
	if sessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if email == "" && phone == "" && externalID == "" {
		return fmt.Errorf("no identity data provided")
	}

	email = attribution.NormalizeEmail(email)
	phone = attribution.NormalizePhone(phone)

	if err := s.sessions.SetIdentity(ctx, s.clientID, sessionID, email, phone, externalID); err != nil {
		return fmt.Errorf("failed to set identity: %w", err)
	}
	return nil
}

// RecordEvent appends one named custom event to the analytics log.
func (s *TouchService) RecordEvent(ctx context.Context, in EventInput) error {
	if in.EventName == "" {
		return fmt.Errorf("event name is required")
	}
	if s.events == nil {
		return nil
	}

	e := &models.AnalyticsEvent{
		EventID:   uuid.NewString(),
		ClientID:  s.clientID,
		SessionID: in.SessionID,
		EventName: in.EventName,
		PagePath:  in.PagePath,
		Referrer:  referrerDomain(in.Referrer),
		Props:     in.Props,
		Timestamp: s.now().UTC(),
	}
	if err := s.events.Append(ctx, e); err != nil {
		return fmt.Errorf("failed to log event: %w", err)
	}
	return nil
}

// HashIP returns a truncated SHA-256 of the IP address. The raw address
// is never stored.
func HashIP(ip string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])[:32]
}

func referrerDomain(referrer string) string {
	if referrer == "" {
		return ""
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return u.Hostname()
}
