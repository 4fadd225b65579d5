package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halotrack/halo-server/internal/attribution"
	"github.com/halotrack/halo-server/internal/forwarding"
	"github.com/halotrack/halo-server/internal/models"
	"github.com/halotrack/halo-server/internal/storage"
)

const testClientID = "client-1"

type serviceFixture struct {
	svc         *ConversionService
	sessions    *storage.InMemorySessionRepo
	conversions *storage.InMemoryConversionRepo
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	sessions := storage.NewInMemorySessionRepo()
	conversions := storage.NewInMemoryConversionRepo()
	resolver := attribution.NewResolver(sessions, zap.NewNop())

	svc := NewConversionService(conversions, resolver, nil, nil, nil, testClientID, "CZK", zap.NewNop())
	svc.now = func() time.Time {
		return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	}

	return &serviceFixture{svc: svc, sessions: sessions, conversions: conversions}
}

func (f *serviceFixture) seedSession(t *testing.T, sessionID, email string, createdAt time.Time) {
	t.Helper()

	err := f.sessions.Create(context.Background(), &models.Session{
		ClientID:  testClientID,
		SessionID: sessionID,
		FirstTouch: models.Touch{
			Source:    "google",
			Medium:    "cpc",
			Timestamp: createdAt,
		},
		LastTouch: models.Touch{
			Source:    "facebook",
			Medium:    "cpc",
			Timestamp: createdAt.Add(24 * time.Hour),
		},
		Email:         email,
		ConsentStatus: models.ConsentGranted,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	})
	require.NoError(t, err)
}

func TestIngestOrderAttributedBySession(t *testing.T) {
	f := newServiceFixture(t)
	f.seedSession(t, "sess-1", "", time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC))

	payload := []byte(`{
		"order_id": "ORD-1",
		"total": 1500,
		"session_id": "sess-1"
	}`)

	res, err := f.svc.IngestOrder(context.Background(), payload)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.Attributed)
	assert.Equal(t, models.MatchSession, res.MatchType)
	assert.False(t, res.Forwarded.Facebook)
	assert.False(t, res.Forwarded.Google)

	stored, err := f.conversions.GetByExternalID(context.Background(), testClientID, "ORD-1", "custom")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusWon, stored.Status)
	assert.Equal(t, "CZK", stored.Currency)
	require.NotNil(t, stored.Attribution)
	assert.Equal(t, "google", stored.Attribution.FirstTouch.Source)
	assert.Equal(t, "facebook", stored.Attribution.LastTouch.Source)
	require.NotNil(t, stored.DaysToConvert)
	assert.Equal(t, 5, *stored.DaysToConvert)
	assert.NotEmpty(t, stored.FacebookEventID)
}

func TestIngestOrderCrossDeviceEmailMatch(t *testing.T) {
	f := newServiceFixture(t)
	f.seedSession(t, "sess-2", "jana@example.com", time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC))

	payload := []byte(`{
		"order_id": "ORD-2",
		"total": 900,
		"email": "JANA@Example.com"
	}`)

	res, err := f.svc.IngestOrder(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, models.MatchEmail, res.MatchType)

	stored, err := f.conversions.GetByExternalID(context.Background(), testClientID, "ORD-2", "custom")
	require.NoError(t, err)
	// The resolved session id is written back onto the conversion.
	assert.Equal(t, "sess-2", stored.SessionID)
}

func TestIngestOrderUnattributed(t *testing.T) {
	f := newServiceFixture(t)

	payload := []byte(`{"order_id": "ORD-3", "total": 100}`)

	res, err := f.svc.IngestOrder(context.Background(), payload)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.Attributed)
	assert.Equal(t, models.MatchNone, res.MatchType)

	stored, err := f.conversions.GetByExternalID(context.Background(), testClientID, "ORD-3", "custom")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotNil(t, stored.Attribution)
	assert.Nil(t, stored.Attribution.FirstTouch)
	assert.Nil(t, stored.DaysToConvert)
}

func TestIngestLeadDefaultsToOpen(t *testing.T) {
	f := newServiceFixture(t)

	payload := []byte(`{"lead_id": "L-1", "email": "petr@example.com"}`)

	res, err := f.svc.IngestLead(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, res.Success)

	stored, err := f.conversions.GetByExternalID(context.Background(), testClientID, "L-1", "form")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.KindLead, stored.Kind)
	assert.Equal(t, models.StatusOpen, stored.Status)
}

type stubFacebookSender struct {
	sent []string
}

func (s *stubFacebookSender) Enabled() bool { return true }

func (s *stubFacebookSender) Send(ctx context.Context, c *models.Conversion, eventID string) forwarding.Result {
	s.sent = append(s.sent, eventID)
	return forwarding.Result{Success: true}
}

func TestIngestLeadWithoutConsentNotForwarded(t *testing.T) {
	f := newServiceFixture(t)
	f.seedSession(t, "sess-1", "jana@example.com", time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC))
	fb := &stubFacebookSender{}
	f.svc.facebook = fb

	payload := []byte(`{"lead_id": "L-9", "email": "jana@example.com"}`)

	res, err := f.svc.IngestLead(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, res.Attributed)
	assert.False(t, res.Forwarded.Facebook)
	assert.Empty(t, fb.sent)

	stored, err := f.conversions.GetByExternalID(context.Background(), testClientID, "L-9", "form")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.SentToFacebook)
}

func TestIngestLeadWithConsentForwarded(t *testing.T) {
	f := newServiceFixture(t)
	f.seedSession(t, "sess-1", "jana@example.com", time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC))
	fb := &stubFacebookSender{}
	f.svc.facebook = fb

	payload := []byte(`{"lead_id": "L-10", "email": "jana@example.com", "consent_given": true}`)

	res, err := f.svc.IngestLead(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, res.Forwarded.Facebook)
	require.Len(t, fb.sent, 1)

	stored, err := f.conversions.GetByExternalID(context.Background(), testClientID, "L-10", "form")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.SentToFacebook)
	assert.Equal(t, stored.FacebookEventID, fb.sent[0])
}

func TestIngestOrderForwardsWithoutConsentFlag(t *testing.T) {
	f := newServiceFixture(t)
	f.seedSession(t, "sess-1", "", time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC))
	fb := &stubFacebookSender{}
	f.svc.facebook = fb

	// Shop webhooks carry no consent flag; the session's consent alone
	// gates order forwarding.
	payload := []byte(`{"order_id": "ORD-9", "total": 800, "session_id": "sess-1"}`)

	res, err := f.svc.IngestOrder(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, res.Forwarded.Facebook)
	assert.Len(t, fb.sent, 1)
}

func TestIngestReplayPreservesCreatedAt(t *testing.T) {
	f := newServiceFixture(t)

	payload := []byte(`{"order_id": "ORD-4", "total": 100}`)

	_, err := f.svc.IngestOrder(context.Background(), payload)
	require.NoError(t, err)

	first, err := f.conversions.GetByExternalID(context.Background(), testClientID, "ORD-4", "custom")
	require.NoError(t, err)

	f.svc.now = func() time.Time {
		return time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	}
	_, err = f.svc.IngestOrder(context.Background(), payload)
	require.NoError(t, err)

	second, err := f.conversions.GetByExternalID(context.Background(), testClientID, "ORD-4", "custom")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}
