package storage

import (
	"context"
	"time"

	"github.com/halotrack/halo-server/internal/models"
)

// =============================================
// SESSION REPOSITORY
// =============================================

// SessionRepo defines read/write access to visitor session records.
// Lookup methods return (nil, nil) when no session matches; the
// most-recently-updated session wins when several could match.
type SessionRepo interface {
	GetBySessionID(ctx context.Context, clientID, sessionID string) (*models.Session, error)
	FindByEmail(ctx context.Context, clientID, email string) (*models.Session, error)
	FindByPhone(ctx context.Context, clientID, phone string) (*models.Session, error)
	FindByExternalID(ctx context.Context, clientID, externalID string) (*models.Session, error)

	Create(ctx context.Context, s *models.Session) error
	// UpdateLastTouch overwrites the last-touch snapshot and merges any
	// non-empty click identifiers. First-touch fields are never written.
	UpdateLastTouch(ctx context.Context, clientID, sessionID string, touch models.Touch, clickIDs models.ClickIDs) error
	// SetIdentity attaches contact identifiers to a session. Empty
	// arguments leave the stored value untouched.
	SetIdentity(ctx context.Context, clientID, sessionID, email, phone, externalID string) error

	ListByDateRange(ctx context.Context, clientID string, start, end time.Time) ([]*models.Session, error)

	// DeleteByEmail removes every session carrying the email and reports
	// how many were deleted.
	DeleteByEmail(ctx context.Context, clientID, email string) (int, error)
}

// =============================================
// TOUCHPOINT JOURNAL
// =============================================

// TouchpointRepo defines the append-only touchpoint journal.
type TouchpointRepo interface {
	Append(ctx context.Context, tp *models.Touchpoint) error
	CountBySession(ctx context.Context, clientID, sessionID string) (int, error)
	// ListBySessionIDs returns touchpoints for the given sessions ordered
	// by timestamp ascending.
	ListBySessionIDs(ctx context.Context, clientID string, sessionIDs []string) ([]*models.Touchpoint, error)
}

// =============================================
// CONVERSION REPOSITORY
// =============================================

// ConversionRepo stores normalized leads and orders. Upsert is keyed by
// (client_id, external_id, platform) so webhook replays are idempotent.
type ConversionRepo interface {
	Upsert(ctx context.Context, c *models.Conversion) error
	GetByExternalID(ctx context.Context, clientID, externalID, platform string) (*models.Conversion, error)
	MarkForwarded(ctx context.Context, clientID, externalID, platform, destination string) error
	ListByDateRange(ctx context.Context, clientID string, kind models.ConversionKind, start, end time.Time) ([]*models.Conversion, error)
	// AnonymizeByEmail strips contact fields from conversions carrying
	// the email and replaces their attribution snapshot with a deletion
	// marker. Money and status fields survive for aggregate reporting.
	AnonymizeByEmail(ctx context.Context, clientID, email string, deletedAt time.Time) (int, error)
}

// =============================================
// AD SPEND
// =============================================

// AdSpendRepo stores imported spend rows consumed by the revenue report.
type AdSpendRepo interface {
	Upsert(ctx context.Context, s *models.AdSpend) error
	ListByDateRange(ctx context.Context, clientID string, start, end time.Time) ([]*models.AdSpend, error)
}

// =============================================
// ANALYTICS EVENT LOG
// =============================================

// EventLog is the append-only sink for custom events and anonymous
// page views.
type EventLog interface {
	Append(ctx context.Context, e *models.AnalyticsEvent) error
}
