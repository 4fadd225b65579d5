package attribution

import (
	"context"
	"strings"

	"github.com/halotrack/halo-server/internal/models"
	"github.com/halotrack/halo-server/internal/storage"
	"go.uber.org/zap"
)

// Resolver matches inbound conversion events to visitor sessions through
// a fixed priority chain: session id, then email, then phone, then
// external customer id. The first non-empty signal that matches wins and
// no later signal is tried. A conversion that matches nothing is a
// normal outcome, not an error.
type Resolver struct {
	sessions storage.SessionRepo
	logger   *zap.Logger
}

// NewResolver creates a new identity resolver.
func NewResolver(sessions storage.SessionRepo, logger *zap.Logger) *Resolver {
	return &Resolver{
		sessions: sessions,
		logger:   logger,
	}
}

// Resolve finds the best-matching session for a conversion. It returns
// (nil, MatchNone, nil) when no identity signal matches; a non-nil error
// only signals a store failure, in which case the attribution step must
// be aborted rather than persisting a partial snapshot.
func (r *Resolver) Resolve(ctx context.Context, c *models.Conversion) (*models.Session, models.MatchType, error) {
	// Priority 1: session id from cookie or hidden field.
	if c.SessionID != "" {
		session, err := r.sessions.GetBySessionID(ctx, c.ClientID, c.SessionID)
		if err != nil {
			return nil, models.MatchNone, err
		}
		if session != nil {
			return session, models.MatchSession, nil
		}
	}

	// Priority 2: email, cross-device.
	if c.Email != "" {
		session, err := r.sessions.FindByEmail(ctx, c.ClientID, NormalizeEmail(c.Email))
		if err != nil {
			return nil, models.MatchNone, err
		}
		if session != nil {
			return session, models.MatchEmail, nil
		}
	}

	// Priority 3: phone.
	if c.Phone != "" {
		session, err := r.sessions.FindByPhone(ctx, c.ClientID, NormalizePhone(c.Phone))
		if err != nil {
			return nil, models.MatchNone, err
		}
		if session != nil {
			return session, models.MatchPhone, nil
		}
	}

	// Priority 4: customer id of a previously identified visitor.
	if c.CustomerID != "" {
		session, err := r.sessions.FindByExternalID(ctx, c.ClientID, c.CustomerID)
		if err != nil {
			return nil, models.MatchNone, err
		}
		if session != nil {
			return session, models.MatchCustomerID, nil
		}
	}

	r.logger.Debug("conversion not attributed",
		zap.String("client_id", c.ClientID),
		zap.String("external_id", c.ExternalID),
		zap.String("platform", c.Platform),
	)

	return nil, models.MatchNone, nil
}

// NormalizeEmail lower-cases and trims an email for matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone strips everything but digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
