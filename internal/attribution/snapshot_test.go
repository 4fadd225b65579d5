package attribution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halotrack/halo-server/internal/models"
)

func TestBuildSnapshotCopiesSession(t *testing.T) {
	session := &models.Session{
		ClientID:  "acme",
		SessionID: "sess-1",
		FirstTouch: models.Touch{
			Source:    "google",
			Medium:    "cpc",
			Timestamp: day(0),
		},
		LastTouch: models.Touch{
			Source:    "facebook",
			Medium:    "cpc",
			Timestamp: day(5),
		},
		ClickIDs: models.ClickIDs{GCLID: "g-123"},
		Device:   models.Device{Type: "mobile", Browser: "Safari"},
	}

	snap := BuildSnapshot(session, models.MatchEmail)

	require.NotNil(t, snap)
	assert.Equal(t, "sess-1", snap.SessionID)
	assert.Equal(t, models.MatchEmail, snap.MatchType)
	assert.Equal(t, "google", snap.FirstTouch.Source)
	assert.Equal(t, "facebook", snap.LastTouch.Source)
	assert.Equal(t, "g-123", snap.ClickIDs.GCLID)
	assert.Equal(t, "mobile", snap.Device.Type)

	// The snapshot must be detached from the live session record.
	session.LastTouch.Source = "tiktok"
	assert.Equal(t, "facebook", snap.LastTouch.Source)
}

func TestBuildSnapshotNilSession(t *testing.T) {
	snap := BuildSnapshot(nil, models.MatchNone)

	require.NotNil(t, snap)
	assert.Equal(t, models.MatchNone, snap.MatchType)
	assert.Nil(t, snap.FirstTouch)
	assert.Nil(t, snap.LastTouch)
	assert.Nil(t, snap.ClickIDs)
	assert.Nil(t, snap.Device)
}

func TestDaysToConvert(t *testing.T) {
	session := &models.Session{
		FirstTouch: models.Touch{
			Source:    "google",
			Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		},
	}

	// Just under six full days.
	converted := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)
	days := DaysToConvert(session, converted)
	require.NotNil(t, days)
	assert.Equal(t, 5, *days)

	sameDay := DaysToConvert(session, time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC))
	require.NotNil(t, sameDay)
	assert.Equal(t, 0, *sameDay)

	// Clock skew can put the conversion before the first touch; the
	// floored division yields a negative day, not zero.
	skewed := DaysToConvert(session, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	require.NotNil(t, skewed)
	assert.Equal(t, -1, *skewed)
}

func TestDaysToConvertUnresolved(t *testing.T) {
	assert.Nil(t, DaysToConvert(nil, time.Now()))
	assert.Nil(t, DaysToConvert(&models.Session{}, time.Now()))
}
