package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/halotrack/halo-server/internal/attribution"
	"github.com/halotrack/halo-server/internal/forwarding"
	"github.com/halotrack/halo-server/internal/metrics"
	"github.com/halotrack/halo-server/internal/models"
	"github.com/halotrack/halo-server/internal/stats"
	"github.com/halotrack/halo-server/internal/storage"
)

// IngestResult is the webhook response envelope. Attribution failure is
// a normal outcome, not an error, so callers always get the match type.
type IngestResult struct {
	Success    bool             `json:"success"`
	Attributed bool             `json:"attributed"`
	MatchType  models.MatchType `json:"match_type"`
	Forwarded  ForwardedStatus  `json:"forwarded"`
}

type ForwardedStatus struct {
	Facebook bool `json:"facebook"`
	Google   bool `json:"google"`
}

// FacebookSender and GoogleSender are the forwarding operations the
// service depends on, satisfied by forwarding.FacebookForwarder and
// forwarding.GoogleForwarder.
type FacebookSender interface {
	Enabled() bool
	Send(ctx context.Context, c *models.Conversion, eventID string) forwarding.Result
}

type GoogleSender interface {
	Enabled() bool
	Send(ctx context.Context, c *models.Conversion) forwarding.Result
}

// ConversionService normalizes inbound conversions, resolves them to a
// session, persists the attribution snapshot and forwards the result to
// the ad platforms.
type ConversionService struct {
	conversions storage.ConversionRepo
	resolver    *attribution.Resolver
	facebook    FacebookSender
	google      GoogleSender
	counters    *stats.Counters
	metrics     *metrics.Metrics
	clientID    string
	currency    string
	logger      *zap.Logger

	now func() time.Time
}

func NewConversionService(
	conversions storage.ConversionRepo,
	resolver *attribution.Resolver,
	facebook FacebookSender,
	google GoogleSender,
	counters *stats.Counters,
	clientID, currency string,
	logger *zap.Logger,
) *ConversionService {
	return &ConversionService{
		conversions: conversions,
		resolver:    resolver,
		facebook:    facebook,
		google:      google,
		counters:    counters,
		clientID:    clientID,
		currency:    currency,
		logger:      logger,
		now:         time.Now,
	}
}

// SetMetrics attaches metrics after construction.
func (s *ConversionService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// IngestOrder handles one shop webhook body.
func (s *ConversionService) IngestOrder(ctx context.Context, raw []byte) (*IngestResult, error) {
	c, err := NormalizeOrder(raw, s.currency)
	if err != nil {
		return nil, err
	}
	return s.ingest(ctx, c)
}

// IngestLead handles one form webhook body.
func (s *ConversionService) IngestLead(ctx context.Context, raw []byte) (*IngestResult, error) {
	c, err := NormalizeLead(raw, s.currency, s.now())
	if err != nil {
		return nil, err
	}
	return s.ingest(ctx, c)
}

// Ingest stores and forwards an already normalized conversion. The
// store write must succeed; forwarding is best effort and its failures
// only show up in the result flags.
func (s *ConversionService) Ingest(ctx context.Context, c *models.Conversion) (*IngestResult, error) {
	return s.ingest(ctx, c)
}

func (s *ConversionService) ingest(ctx context.Context, c *models.Conversion) (*IngestResult, error) {
	now := s.now().UTC()
	c.ClientID = s.clientID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.Kind == models.KindOrder && c.Status == "" {
		c.Status = models.StatusWon
	}

	session, matchType, err := s.resolver.Resolve(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve attribution: %w", err)
	}

	c.MatchType = matchType
	c.Attribution = attribution.BuildSnapshot(session, matchType)
	c.DaysToConvert = attribution.DaysToConvert(session, now)
	if session != nil {
		c.SessionID = session.SessionID
	}
	c.FacebookEventID = fmt.Sprintf("%s_%s_%d", s.clientID, c.ExternalID, now.UnixMilli())

	if err := s.conversions.Upsert(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store conversion: %w", err)
	}

	result := &IngestResult{
		Success:    true,
		Attributed: matchType != models.MatchNone,
		MatchType:  matchType,
	}

	consented := session != nil && session.ConsentStatus != models.ConsentDenied
	if c.Kind == models.KindLead {
		consented = consented && c.ConsentGiven
	}
	if consented {
		result.Forwarded = s.forward(ctx, c)
	}

	s.logger.Info("conversion ingested",
		zap.String("kind", string(c.Kind)),
		zap.String("external_id", c.ExternalID),
		zap.String("platform", c.Platform),
		zap.String("match_type", string(matchType)),
		zap.Bool("forwarded_facebook", result.Forwarded.Facebook),
		zap.Bool("forwarded_google", result.Forwarded.Google))

	s.counters.IncrConversion(ctx, s.clientID, now, orderRevenue(c))
	if s.metrics != nil {
		s.metrics.RecordConversion(string(c.Kind), string(matchType), c.Currency, orderRevenue(c))
	}

	return result, nil
}

func (s *ConversionService) forward(ctx context.Context, c *models.Conversion) ForwardedStatus {
	var status ForwardedStatus

	if s.facebook != nil && s.facebook.Enabled() {
		start := time.Now()
		res := s.facebook.Send(ctx, c, c.FacebookEventID)
		if s.metrics != nil {
			s.metrics.RecordForward("facebook", res.Success, time.Since(start))
		}
		status.Facebook = res.Success
		if res.Success {
			s.markForwarded(ctx, c, "facebook")
		}
	}

	if s.google != nil && s.google.Enabled() {
		start := time.Now()
		res := s.google.Send(ctx, c)
		if s.metrics != nil {
			s.metrics.RecordForward("google", res.Success, time.Since(start))
		}
		status.Google = res.Success
		if res.Success {
			s.markForwarded(ctx, c, "google")
		}
	}

	return status
}

func (s *ConversionService) markForwarded(ctx context.Context, c *models.Conversion, destination string) {
	if err := s.conversions.MarkForwarded(ctx, s.clientID, c.ExternalID, c.Platform, destination); err != nil {
		s.logger.Warn("failed to mark conversion forwarded",
			zap.String("external_id", c.ExternalID),
			zap.String("destination", destination),
			zap.Error(err))
	}
}

func orderRevenue(c *models.Conversion) float64 {
	if c.Kind == models.KindOrder {
		return c.Total
	}
	return 0
}
