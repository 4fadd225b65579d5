package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halotrack/halo-server/internal/models"
	"github.com/halotrack/halo-server/internal/storage"
)

type touchFixture struct {
	svc         *TouchService
	sessions    *storage.InMemorySessionRepo
	touchpoints *storage.InMemoryTouchpointRepo
	events      *storage.InMemoryEventLog
	clock       time.Time
}

func newTouchFixture(t *testing.T) *touchFixture {
	t.Helper()
	f := &touchFixture{
		sessions:    storage.NewInMemorySessionRepo(),
		touchpoints: storage.NewInMemoryTouchpointRepo(),
		events:      storage.NewInMemoryEventLog(),
		clock:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewTouchService(f.sessions, f.touchpoints, f.events, nil, nil, "acme", zap.NewNop())
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *touchFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func TestRecordTouchCreatesSession(t *testing.T) {
	f := newTouchFixture(t)

	result, err := f.svc.RecordTouch(context.Background(), TouchInput{
		Consent:   models.ConsentGranted,
		Source:    "google",
		Medium:    "cpc",
		Campaign:  "spring",
		Referrer:  "https://www.google.com/search",
		Landing:   "/pricing",
		ClickIDs:  models.ClickIDs{GCLID: "g-1"},
		IP:        "198.51.100.7",
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
		Language:  "cs-CZ",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.SessionID)
	assert.True(t, result.Created)

	session, err := f.sessions.GetBySessionID(context.Background(), "acme", result.SessionID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "google", session.FirstTouch.Source)
	assert.Equal(t, "www.google.com", session.FirstTouch.Referrer)
	assert.Equal(t, session.FirstTouch, session.LastTouch)
	assert.Equal(t, "g-1", session.ClickIDs.GCLID)
	assert.Equal(t, "mobile", session.Device.Type)
	assert.Equal(t, "Safari", session.Device.Browser)
	assert.Equal(t, "cs-CZ", session.Device.Language)
	assert.Len(t, session.IPHash, 32)
	assert.NotContains(t, session.IPHash, "198.51.100.7")
}

func TestRecordTouchFirstTouchIsImmutable(t *testing.T) {
	f := newTouchFixture(t)

	first, err := f.svc.RecordTouch(context.Background(), TouchInput{
		Consent: models.ConsentGranted,
		Source:  "google",
		Medium:  "cpc",
	})
	require.NoError(t, err)

	f.advance(48 * time.Hour)

	second, err := f.svc.RecordTouch(context.Background(), TouchInput{
		SessionID: first.SessionID,
		Consent:   models.ConsentGranted,
		Source:    "facebook",
		Medium:    "cpc",
		ClickIDs:  models.ClickIDs{FBCLID: "fb-1"},
	})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.SessionID, second.SessionID)

	session, err := f.sessions.GetBySessionID(context.Background(), "acme", first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "google", session.FirstTouch.Source)
	assert.Equal(t, "facebook", session.LastTouch.Source)
	assert.Equal(t, "fb-1", session.ClickIDs.FBCLID)
}

func TestRecordTouchWithoutDataKeepsLastTouch(t *testing.T) {
	f := newTouchFixture(t)

	first, err := f.svc.RecordTouch(context.Background(), TouchInput{
		Consent: models.ConsentGranted,
		Source:  "google",
		Medium:  "cpc",
	})
	require.NoError(t, err)

	f.advance(time.Hour)

	// Plain in-site navigation: no source, no referrer, no click ids.
	_, err = f.svc.RecordTouch(context.Background(), TouchInput{
		SessionID: first.SessionID,
		Consent:   models.ConsentGranted,
		Landing:   "/checkout",
	})
	require.NoError(t, err)

	session, err := f.sessions.GetBySessionID(context.Background(), "acme", first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "google", session.LastTouch.Source)
}

func TestRecordTouchJournalsMarketingTouches(t *testing.T) {
	f := newTouchFixture(t)

	first, err := f.svc.RecordTouch(context.Background(), TouchInput{
		Consent: models.ConsentGranted,
		Source:  "google",
		Medium:  "cpc",
	})
	require.NoError(t, err)

	f.advance(time.Hour)
	_, err = f.svc.RecordTouch(context.Background(), TouchInput{
		SessionID: first.SessionID,
		Consent:   models.ConsentGranted,
		Source:    "facebook",
		Medium:    "cpc",
	})
	require.NoError(t, err)

	// Referrer-only navigation carries no marketing signal and must not
	// dilute the journal.
	f.advance(time.Hour)
	_, err = f.svc.RecordTouch(context.Background(), TouchInput{
		SessionID: first.SessionID,
		Consent:   models.ConsentGranted,
		Referrer:  "https://blog.example.com/post",
	})
	require.NoError(t, err)

	tps, err := f.touchpoints.ListBySessionIDs(context.Background(), "acme", []string{first.SessionID})
	require.NoError(t, err)
	require.Len(t, tps, 2)
	assert.Equal(t, 1, tps[0].Number)
	assert.Equal(t, "google", tps[0].Source)
	assert.Equal(t, 2, tps[1].Number)
	assert.Equal(t, "facebook", tps[1].Source)
}

func TestRecordTouchClickIDOnlyIsJournaled(t *testing.T) {
	f := newTouchFixture(t)

	result, err := f.svc.RecordTouch(context.Background(), TouchInput{
		Consent:  models.ConsentGranted,
		ClickIDs: models.ClickIDs{GCLID: "g-1"},
	})
	require.NoError(t, err)

	tps, err := f.touchpoints.ListBySessionIDs(context.Background(), "acme", []string{result.SessionID})
	require.NoError(t, err)
	require.Len(t, tps, 1)
	assert.Equal(t, "g-1", tps[0].ClickIDs.GCLID)
}

type failingTouchpointRepo struct {
	*storage.InMemoryTouchpointRepo
}

func (r *failingTouchpointRepo) Append(ctx context.Context, tp *models.Touchpoint) error {
	return errors.New("touchpoint store unavailable")
}

func TestRecordTouchJournalFailureSurfaces(t *testing.T) {
	f := newTouchFixture(t)
	f.svc.touchpoints = &failingTouchpointRepo{f.touchpoints}

	_, err := f.svc.RecordTouch(context.Background(), TouchInput{
		Consent: models.ConsentGranted,
		Source:  "google",
		Medium:  "cpc",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to journal touchpoint")

	// A touch without a marketing signal never reaches the journal.
	result, err := f.svc.RecordTouch(context.Background(), TouchInput{
		Consent: models.ConsentGranted,
		Landing: "/pricing",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
}

func TestRecordTouchConsentDenied(t *testing.T) {
	f := newTouchFixture(t)

	result, err := f.svc.RecordTouch(context.Background(), TouchInput{
		Consent:  models.ConsentDenied,
		Source:   "google",
		Medium:   "cpc",
		Landing:  "/pricing",
		Referrer: "https://www.google.com/",
	})
	require.NoError(t, err)
	assert.Empty(t, result.SessionID)

	// No session, no journal, just one anonymous aggregate event.
	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventAnonPageView, events[0].EventName)
	assert.Equal(t, "google", events[0].Source)
	assert.Empty(t, events[0].SessionID)
}

func TestRecordTouchConsentDeniedWithoutSignal(t *testing.T) {
	f := newTouchFixture(t)

	result, err := f.svc.RecordTouch(context.Background(), TouchInput{
		Consent: models.ConsentDenied,
		Landing: "/about",
	})
	require.NoError(t, err)
	assert.Empty(t, result.SessionID)
	assert.Empty(t, f.events.Events())
}

func TestIdentifyNormalizesContactData(t *testing.T) {
	f := newTouchFixture(t)

	result, err := f.svc.RecordTouch(context.Background(), TouchInput{
		Consent: models.ConsentGranted,
		Source:  "google",
		Medium:  "cpc",
	})
	require.NoError(t, err)

	err = f.svc.Identify(context.Background(), result.SessionID, " Jana@Example.COM ", "+420 777 123 456", "cust-7")
	require.NoError(t, err)

	session, err := f.sessions.FindByEmail(context.Background(), "acme", "jana@example.com")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "420777123456", session.Phone)
	assert.Equal(t, "cust-7", session.ExternalID)
}

func TestIdentifyRequiresIdentityData(t *testing.T) {
	f := newTouchFixture(t)

	result, err := f.svc.RecordTouch(context.Background(), TouchInput{
		Consent: models.ConsentGranted,
		Source:  "google",
		Medium:  "cpc",
	})
	require.NoError(t, err)

	err = f.svc.Identify(context.Background(), result.SessionID, "", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no identity data")
}

func TestHashIP(t *testing.T) {
	h := HashIP("203.0.113.10")
	assert.Len(t, h, 32)
	assert.Equal(t, h, HashIP("203.0.113.10"))
	assert.NotEqual(t, h, HashIP("203.0.113.11"))
	assert.Empty(t, HashIP(""))
}
