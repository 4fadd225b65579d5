package tracking

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/halotrack/halo-server/internal/attribution"
	"github.com/halotrack/halo-server/internal/storage"
)

// ErasureService handles right-to-erasure requests. Sessions matching
// the email are deleted outright; conversions keep their money and
// status fields for aggregate reporting but lose all contact fields,
// and their attribution snapshot is replaced with a deletion marker.
type ErasureService struct {
	sessions    storage.SessionRepo
	conversions storage.ConversionRepo
	clientID    string
	logger      *zap.Logger

	now func() time.Time
}

func NewErasureService(
	sessions storage.SessionRepo,
	conversions storage.ConversionRepo,
	clientID string,
	logger *zap.Logger,
) *ErasureService {
	return &ErasureService{
		sessions:    sessions,
		conversions: conversions,
		clientID:    clientID,
		logger:      logger,
		now:         time.Now,
	}
}

// ErasureResult reports how much data the request touched.
type ErasureResult struct {
	Success               bool `json:"success"`
	SessionsDeleted       int  `json:"sessions_deleted"`
	ConversionsAnonymized int  `json:"conversions_anonymized"`
}

// DeleteUserData erases everything stored under the given email. The
// address is normalized first so it matches what the identify and
// webhook paths wrote.
func (s *ErasureService) DeleteUserData(ctx context.Context, email string) (*ErasureResult, error) {
	email = attribution.NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	sessions, err := s.sessions.DeleteByEmail(ctx, s.clientID, email)
	if err != nil {
		return nil, fmt.Errorf("failed to delete sessions: %w", err)
	}

	conversions, err := s.conversions.AnonymizeByEmail(ctx, s.clientID, email, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to anonymize conversions: %w", err)
	}

	s.logger.Info("user data erased",
		zap.Int("sessions_deleted", sessions),
		zap.Int("conversions_anonymized", conversions))

	return &ErasureResult{
		Success:               true,
		SessionsDeleted:       sessions,
		ConversionsAnonymized: conversions,
	}, nil
}
