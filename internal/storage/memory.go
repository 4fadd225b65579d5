package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/halotrack/halo-server/internal/models"
)

// In-memory implementations used when PostgreSQL is not available and in
// tests. Semantics mirror the Postgres repos.

// =============================================
// Sessions
// =============================================

// InMemorySessionRepo provides in-memory session storage.
type InMemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session // client_id/session_id -> session
}

func NewInMemorySessionRepo() *InMemorySessionRepo {
	return &InMemorySessionRepo{
		sessions: make(map[string]*models.Session),
	}
}

func sessionKey(clientID, sessionID string) string {
	return clientID + "/" + sessionID
}

func (r *InMemorySessionRepo) GetBySessionID(ctx context.Context, clientID, sessionID string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionKey(clientID, sessionID)]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (r *InMemorySessionRepo) findLatest(clientID string, match func(*models.Session) bool) *models.Session {
	var best *models.Session
	for _, s := range r.sessions {
		if s.ClientID != clientID || !match(s) {
			continue
		}
		if best == nil || s.UpdatedAt.After(best.UpdatedAt) {
			best = s
		}
	}
	if best == nil {
		return nil
	}
	copied := *best
	return &copied
}

func (r *InMemorySessionRepo) FindByEmail(ctx context.Context, clientID, email string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLatest(clientID, func(s *models.Session) bool {
		return s.Email != "" && s.Email == email
	}), nil
}

func (r *InMemorySessionRepo) FindByPhone(ctx context.Context, clientID, phone string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLatest(clientID, func(s *models.Session) bool {
		return s.Phone != "" && s.Phone == phone
	}), nil
}

func (r *InMemorySessionRepo) FindByExternalID(ctx context.Context, clientID, externalID string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLatest(clientID, func(s *models.Session) bool {
		return s.ExternalID != "" && s.ExternalID == externalID
	}), nil
}

func (r *InMemorySessionRepo) Create(ctx context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey(s.ClientID, s.SessionID)
	if _, exists := r.sessions[key]; exists {
		return nil
	}
	copied := *s
	r.sessions[key] = &copied
	return nil
}

func (r *InMemorySessionRepo) UpdateLastTouch(ctx context.Context, clientID, sessionID string, touch models.Touch, clickIDs models.ClickIDs) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionKey(clientID, sessionID)]
	if !ok {
		return nil
	}
	s.LastTouch = touch
	s.ClickIDs.Merge(clickIDs)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemorySessionRepo) SetIdentity(ctx context.Context, clientID, sessionID, email, phone, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionKey(clientID, sessionID)]
	if !ok {
		return nil
	}
	if email != "" {
		s.Email = email
	}
	if phone != "" {
		s.Phone = phone
	}
	if externalID != "" {
		s.ExternalID = externalID
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemorySessionRepo) ListByDateRange(ctx context.Context, clientID string, start, end time.Time) ([]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []*models.Session
	for _, s := range r.sessions {
		if s.ClientID != clientID {
			continue
		}
		if s.CreatedAt.Before(start) || s.CreatedAt.After(end) {
			continue
		}
		copied := *s
		sessions = append(sessions, &copied)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (r *InMemorySessionRepo) DeleteByEmail(ctx context.Context, clientID, email string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for key, s := range r.sessions {
		if s.ClientID == clientID && s.Email != "" && s.Email == email {
			delete(r.sessions, key)
			deleted++
		}
	}
	return deleted, nil
}

// =============================================
// Touchpoints
// =============================================

// InMemoryTouchpointRepo provides an in-memory touchpoint journal.
type InMemoryTouchpointRepo struct {
	mu        sync.RWMutex
	bySession map[string][]*models.Touchpoint // client_id/session_id -> journal
}

func NewInMemoryTouchpointRepo() *InMemoryTouchpointRepo {
	return &InMemoryTouchpointRepo{
		bySession: make(map[string][]*models.Touchpoint),
	}
}

func (r *InMemoryTouchpointRepo) Append(ctx context.Context, tp *models.Touchpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey(tp.ClientID, tp.SessionID)
	copied := *tp
	r.bySession[key] = append(r.bySession[key], &copied)
	return nil
}

func (r *InMemoryTouchpointRepo) CountBySession(ctx context.Context, clientID, sessionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession[sessionKey(clientID, sessionID)]), nil
}

func (r *InMemoryTouchpointRepo) ListBySessionIDs(ctx context.Context, clientID string, sessionIDs []string) ([]*models.Touchpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tps []*models.Touchpoint
	for _, sid := range sessionIDs {
		for _, tp := range r.bySession[sessionKey(clientID, sid)] {
			copied := *tp
			tps = append(tps, &copied)
		}
	}
	sort.SliceStable(tps, func(i, j int) bool {
		return tps[i].Timestamp.Before(tps[j].Timestamp)
	})
	return tps, nil
}

// =============================================
// Conversions
// =============================================

// InMemoryConversionRepo provides in-memory conversion storage.
type InMemoryConversionRepo struct {
	mu          sync.RWMutex
	conversions map[string]*models.Conversion // client_id/external_id/platform
}

func NewInMemoryConversionRepo() *InMemoryConversionRepo {
	return &InMemoryConversionRepo{
		conversions: make(map[string]*models.Conversion),
	}
}

func conversionKey(clientID, externalID, platform string) string {
	return clientID + "/" + externalID + "/" + platform
}

func (r *InMemoryConversionRepo) Upsert(ctx context.Context, c *models.Conversion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := conversionKey(c.ClientID, c.ExternalID, c.Platform)
	copied := *c
	if existing, ok := r.conversions[key]; ok {
		// Replays keep the original creation time and forwarding state.
		copied.CreatedAt = existing.CreatedAt
		copied.SentToFacebook = existing.SentToFacebook
		copied.SentToGoogle = existing.SentToGoogle
		copied.FacebookEventID = existing.FacebookEventID
	}
	r.conversions[key] = &copied
	return nil
}

func (r *InMemoryConversionRepo) GetByExternalID(ctx context.Context, clientID, externalID, platform string) (*models.Conversion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conversions[conversionKey(clientID, externalID, platform)]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (r *InMemoryConversionRepo) MarkForwarded(ctx context.Context, clientID, externalID, platform, destination string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversions[conversionKey(clientID, externalID, platform)]
	if !ok {
		return nil
	}
	switch destination {
	case "facebook":
		c.SentToFacebook = true
	case "google":
		c.SentToGoogle = true
	}
	return nil
}

func (r *InMemoryConversionRepo) ListByDateRange(ctx context.Context, clientID string, kind models.ConversionKind, start, end time.Time) ([]*models.Conversion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var convs []*models.Conversion
	for _, c := range r.conversions {
		if c.ClientID != clientID || c.Kind != kind {
			continue
		}
		if c.CreatedAt.Before(start) || c.CreatedAt.After(end) {
			continue
		}
		copied := *c
		convs = append(convs, &copied)
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	return convs, nil
}

func (r *InMemoryConversionRepo) AnonymizeByEmail(ctx context.Context, clientID, email string, deletedAt time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	affected := 0
	for _, c := range r.conversions {
		if c.ClientID != clientID || c.Email == "" || c.Email != email {
			continue
		}
		c.Email = ""
		c.Phone = ""
		c.Name = ""
		c.Company = ""
		c.Message = ""
		at := deletedAt
		c.Attribution = &models.AttributionData{
			MatchType: c.MatchType,
			Deleted:   true,
			DeletedAt: &at,
		}
		affected++
	}
	return affected, nil
}

// =============================================
// Ad spend
// =============================================

// InMemoryAdSpendRepo provides in-memory ad spend storage.
type InMemoryAdSpendRepo struct {
	mu   sync.RWMutex
	rows map[string]*models.AdSpend
}

func NewInMemoryAdSpendRepo() *InMemoryAdSpendRepo {
	return &InMemoryAdSpendRepo{rows: make(map[string]*models.AdSpend)}
}

func adSpendKey(s *models.AdSpend) string {
	return s.ClientID + "/" + s.Date.Format("2006-01-02") + "/" + s.Source + "/" + s.Medium
}

func (r *InMemoryAdSpendRepo) Upsert(ctx context.Context, s *models.AdSpend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *s
	r.rows[adSpendKey(s)] = &copied
	return nil
}

func (r *InMemoryAdSpendRepo) ListByDateRange(ctx context.Context, clientID string, start, end time.Time) ([]*models.AdSpend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var spend []*models.AdSpend
	for _, s := range r.rows {
		if s.ClientID != clientID {
			continue
		}
		if s.Date.Before(start) || s.Date.After(end) {
			continue
		}
		copied := *s
		spend = append(spend, &copied)
	}
	return spend, nil
}

// =============================================
// Event log
// =============================================

// InMemoryEventLog collects analytics events in memory.
type InMemoryEventLog struct {
	mu     sync.Mutex
	events []*models.AnalyticsEvent
}

func NewInMemoryEventLog() *InMemoryEventLog {
	return &InMemoryEventLog{}
}

func (l *InMemoryEventLog) Append(ctx context.Context, e *models.AnalyticsEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := *e
	l.events = append(l.events, &copied)
	return nil
}

// Events returns a snapshot of collected events.
func (l *InMemoryEventLog) Events() []*models.AnalyticsEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*models.AnalyticsEvent, len(l.events))
	copy(out, l.events)
	return out
}
