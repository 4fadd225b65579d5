package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halotrack/halo-server/internal/models"
	"github.com/halotrack/halo-server/internal/storage"
)

func TestDeleteUserData(t *testing.T) {
	sessions := storage.NewInMemorySessionRepo()
	conversions := storage.NewInMemoryConversionRepo()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, sessions.Create(context.Background(), &models.Session{
		ClientID:  "acme",
		SessionID: "sess-jana",
		Email:     "jana@example.com",
		CreatedAt: now,
		UpdatedAt: now,
	}))
	require.NoError(t, sessions.Create(context.Background(), &models.Session{
		ClientID:  "acme",
		SessionID: "sess-petr",
		Email:     "petr@example.com",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	require.NoError(t, conversions.Upsert(context.Background(), &models.Conversion{
		ClientID:   "acme",
		Kind:       models.KindLead,
		ExternalID: "lead-1",
		Platform:   "form",
		Email:      "jana@example.com",
		Phone:      "420777123456",
		Name:       "Jana Nova",
		Company:    "Nova s.r.o.",
		Message:    "call me",
		Total:      500,
		Status:     models.StatusWon,
		MatchType:  models.MatchEmail,
		Attribution: &models.AttributionData{
			SessionID:  "sess-jana",
			FirstTouch: &models.Touch{Source: "google", Medium: "cpc"},
			MatchType:  models.MatchEmail,
		},
		CreatedAt: now,
	}))

	svc := NewErasureService(sessions, conversions, "acme", zap.NewNop())
	svc.now = func() time.Time { return now }

	res, err := svc.DeleteUserData(context.Background(), "  Jana@Example.COM ")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.SessionsDeleted)
	assert.Equal(t, 1, res.ConversionsAnonymized)

	gone, err := sessions.GetBySessionID(context.Background(), "acme", "sess-jana")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := sessions.GetBySessionID(context.Background(), "acme", "sess-petr")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	c, err := conversions.GetByExternalID(context.Background(), "acme", "lead-1", "form")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Empty(t, c.Email)
	assert.Empty(t, c.Phone)
	assert.Empty(t, c.Name)
	assert.Empty(t, c.Company)
	assert.Empty(t, c.Message)

	// Money and status survive for aggregate reporting.
	assert.Equal(t, 500.0, c.Total)
	assert.Equal(t, models.StatusWon, c.Status)

	require.NotNil(t, c.Attribution)
	assert.True(t, c.Attribution.Deleted)
	require.NotNil(t, c.Attribution.DeletedAt)
	assert.Equal(t, now, *c.Attribution.DeletedAt)
	assert.Nil(t, c.Attribution.FirstTouch)
	assert.Equal(t, models.MatchEmail, c.Attribution.MatchType)
}

func TestDeleteUserDataRequiresEmail(t *testing.T) {
	svc := NewErasureService(storage.NewInMemorySessionRepo(), storage.NewInMemoryConversionRepo(), "acme", zap.NewNop())

	_, err := svc.DeleteUserData(context.Background(), "   ")
	require.Error(t, err)
}
