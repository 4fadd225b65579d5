package attribution

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/halotrack/halo-server/internal/models"
	"github.com/halotrack/halo-server/internal/storage"
)

// RevenueRow is one source in the revenue report. Spend comes from the
// imported ad spend table joined case-insensitively on source.
type RevenueRow struct {
	Source  string  `json:"source"`
	Orders  int     `json:"orders"`
	Revenue float64 `json:"revenue"`
	Spend   float64 `json:"spend"`
	CPA     float64 `json:"cpa"`
	ROAS    float64 `json:"roas"`
	Profit  float64 `json:"profit"`
}

// RevenueSummary carries the totals shown above the revenue table.
type RevenueSummary struct {
	TotalOrders      int      `json:"total_orders"`
	TotalRevenue     float64  `json:"total_revenue"`
	TotalSpend       float64  `json:"total_spend"`
	AttributionRate  float64  `json:"attribution_rate"`
	AvgDaysToConvert *float64 `json:"avg_days_to_convert,omitempty"`
}

// LeadRow is one source in the lead report.
type LeadRow struct {
	Source string  `json:"source"`
	Leads  int     `json:"leads"`
	Value  float64 `json:"value"`
	Spend  float64 `json:"spend"`
	CPL    float64 `json:"cpl"`
}

// LeadSummary carries the totals shown above the lead table.
type LeadSummary struct {
	TotalLeads      int     `json:"total_leads"`
	TotalValue      float64 `json:"total_value"`
	TotalSpend      float64 `json:"total_spend"`
	CostPerLead     float64 `json:"cost_per_lead"`
	AttributionRate float64 `json:"attribution_rate"`
}

// ReportingService builds the attribution, revenue, lead and
// time-series reports from stored conversions and journeys.
type ReportingService struct {
	conversions storage.ConversionRepo
	touchpoints storage.TouchpointRepo
	adSpend     storage.AdSpendRepo
	allocator   *Allocator
	logger      *zap.Logger
}

func NewReportingService(
	conversions storage.ConversionRepo,
	touchpoints storage.TouchpointRepo,
	adSpend storage.AdSpendRepo,
	allocator *Allocator,
	logger *zap.Logger,
) *ReportingService {
	return &ReportingService{
		conversions: conversions,
		touchpoints: touchpoints,
		adSpend:     adSpend,
		allocator:   allocator,
		logger:      logger,
	}
}

// AttributionReport allocates credit for every conversion of the given
// kind in [from, to] under the requested model and aggregates it per
// channel.
func (s *ReportingService) AttributionReport(ctx context.Context, clientID string, kind models.ConversionKind, from, to time.Time, model models.AttributionModel) ([]ChannelStats, error) {
	conversions, err := s.conversions.ListByDateRange(ctx, clientID, kind, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}

	journeys, err := s.loadJourneys(ctx, clientID, conversions)
	if err != nil {
		return nil, err
	}

	return AggregateBySource(s.allocator, conversions, journeys, model), nil
}

// RevenueReport groups orders by their first-touch source and joins
// imported ad spend to compute CPA, ROAS and profit per source.
func (s *ReportingService) RevenueReport(ctx context.Context, clientID string, from, to time.Time) ([]RevenueRow, RevenueSummary, error) {
	orders, err := s.conversions.ListByDateRange(ctx, clientID, models.KindOrder, from, to)
	if err != nil {
		return nil, RevenueSummary{}, fmt.Errorf("failed to list orders: %w", err)
	}

	spend, err := s.spendBySource(ctx, clientID, from, to)
	if err != nil {
		return nil, RevenueSummary{}, err
	}

	type agg struct {
		orders  int
		revenue float64
	}
	bySource := make(map[string]*agg)
	summary := RevenueSummary{}
	attributed := 0
	daysSum := 0
	daysCount := 0

	for _, c := range orders {
		source := firstTouchSource(c)
		a, ok := bySource[source]
		if !ok {
			a = &agg{}
			bySource[source] = a
		}
		a.orders++
		a.revenue += c.Total

		summary.TotalOrders++
		summary.TotalRevenue += c.Total
		if c.MatchType != models.MatchNone {
			attributed++
		}
		if c.DaysToConvert != nil {
			daysSum += *c.DaysToConvert
			daysCount++
		}
	}

	rows := make([]RevenueRow, 0, len(bySource))
	for source, a := range bySource {
		sp := spend[strings.ToLower(source)]
		row := RevenueRow{
			Source:  source,
			Orders:  a.orders,
			Revenue: a.revenue,
			Spend:   sp,
			Profit:  a.revenue - sp,
		}
		if a.orders > 0 {
			row.CPA = sp / float64(a.orders)
		}
		if sp > 0 {
			row.ROAS = a.revenue / sp
		}
		summary.TotalSpend += sp
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Revenue > rows[j].Revenue })

	if summary.TotalOrders > 0 {
		summary.AttributionRate = float64(attributed) / float64(summary.TotalOrders) * 100
	}
	if daysCount > 0 {
		avg := float64(daysSum) / float64(daysCount)
		summary.AvgDaysToConvert = &avg
	}

	return rows, summary, nil
}

// LeadReport groups leads by their first-touch source and joins
// imported ad spend to compute cost per lead.
func (s *ReportingService) LeadReport(ctx context.Context, clientID string, from, to time.Time) ([]LeadRow, LeadSummary, error) {
	leads, err := s.conversions.ListByDateRange(ctx, clientID, models.KindLead, from, to)
	if err != nil {
		return nil, LeadSummary{}, fmt.Errorf("failed to list leads: %w", err)
	}

	spend, err := s.spendBySource(ctx, clientID, from, to)
	if err != nil {
		return nil, LeadSummary{}, err
	}

	type agg struct {
		leads int
		value float64
	}
	bySource := make(map[string]*agg)
	summary := LeadSummary{}
	attributed := 0

	for _, c := range leads {
		source := firstTouchSource(c)
		a, ok := bySource[source]
		if !ok {
			a = &agg{}
			bySource[source] = a
		}
		a.leads++
		a.value += c.Total

		summary.TotalLeads++
		summary.TotalValue += c.Total
		if c.MatchType != models.MatchNone {
			attributed++
		}
	}

	rows := make([]LeadRow, 0, len(bySource))
	for source, a := range bySource {
		sp := spend[strings.ToLower(source)]
		row := LeadRow{
			Source: source,
			Leads:  a.leads,
			Value:  a.value,
			Spend:  sp,
		}
		if a.leads > 0 {
			row.CPL = sp / float64(a.leads)
		}
		summary.TotalSpend += sp
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Leads > rows[j].Leads })

	if summary.TotalLeads > 0 {
		summary.CostPerLead = summary.TotalSpend / float64(summary.TotalLeads)
		summary.AttributionRate = float64(attributed) / float64(summary.TotalLeads) * 100
	}

	return rows, summary, nil
}

// loadJourneys fetches the touchpoint journal for every attributed
// conversion in one query and groups it by session id.
func (s *ReportingService) loadJourneys(ctx context.Context, clientID string, conversions []*models.Conversion) (map[string][]*models.Touchpoint, error) {
	seen := make(map[string]struct{})
	var sessionIDs []string
	for _, c := range conversions {
		if c.SessionID == "" {
			continue
		}
		if _, ok := seen[c.SessionID]; ok {
			continue
		}
		seen[c.SessionID] = struct{}{}
		sessionIDs = append(sessionIDs, c.SessionID)
	}

	journeys := make(map[string][]*models.Touchpoint, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return journeys, nil
	}

	touchpoints, err := s.touchpoints.ListBySessionIDs(ctx, clientID, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list touchpoints: %w", err)
	}
	for _, tp := range touchpoints {
		journeys[tp.SessionID] = append(journeys[tp.SessionID], tp)
	}
	return journeys, nil
}

func (s *ReportingService) spendBySource(ctx context.Context, clientID string, from, to time.Time) (map[string]float64, error) {
	records, err := s.adSpend.ListByDateRange(ctx, clientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list ad spend: %w", err)
	}
	spend := make(map[string]float64, len(records))
	for _, r := range records {
		spend[strings.ToLower(r.Source)] += r.Spend
	}
	return spend, nil
}

// firstTouchSource picks the grouping source for revenue and lead
// reports from the stored attribution snapshot.
func firstTouchSource(c *models.Conversion) string {
	if c.Attribution != nil && c.Attribution.FirstTouch != nil && c.Attribution.FirstTouch.Source != "" {
		return c.Attribution.FirstTouch.Source
	}
	if c.Platform != "" {
		return c.Platform
	}
	return DirectSource
}
