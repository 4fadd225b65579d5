package attribution

import (
	"math"
	"sort"

	"github.com/halotrack/halo-server/internal/models"
)

// ChannelStats aggregates weighted credit and deal outcomes for one
// marketing channel.
type ChannelStats struct {
	Channel       string  `json:"channel"`
	TotalCredit   float64 `json:"total_credit"`
	WonCredit     float64 `json:"won_credit"`
	WeightedValue float64 `json:"weighted_value"`
	WinRate       float64 `json:"win_rate"`
}

// AggregateBySource folds per-conversion credit maps into per-channel
// totals. journeys maps session id to that session's touchpoints ordered
// by timestamp ascending; conversions without a session get an empty
// journey and collapse to their stored single-touch channel.
//
// Summation is commutative, so input order only affects tie ordering for
// channels with equal weighted value (the sort is stable).
func AggregateBySource(alloc *Allocator, conversions []*models.Conversion, journeys map[string][]*models.Touchpoint, model models.AttributionModel) []ChannelStats {
	type totals struct {
		total    float64
		won      float64
		weighted float64
		order    int
	}

	byChannel := make(map[string]*totals)
	next := 0

	for _, c := range conversions {
		journey := journeys[c.SessionID]
		credits := alloc.Allocate(c, journey, model)
		for _, channel := range channelOrder(credits, journey) {
			weight := credits[channel]
			t, ok := byChannel[channel]
			if !ok {
				t = &totals{order: next}
				next++
				byChannel[channel] = t
			}
			t.total += weight
			if c.Status == models.StatusWon {
				t.won += weight
				t.weighted += weight * c.Total
			}
		}
	}

	stats := make([]ChannelStats, 0, len(byChannel))
	order := make(map[string]int, len(byChannel))
	for channel, t := range byChannel {
		winRate := 0.0
		if t.total > 0 {
			winRate = t.won / t.total * 100
		}
		order[channel] = t.order
		stats = append(stats, ChannelStats{
			Channel:       channel,
			TotalCredit:   round2(t.total),
			WonCredit:     round2(t.won),
			WeightedValue: t.weighted,
			WinRate:       winRate,
		})
	}

	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].WeightedValue != stats[j].WeightedValue {
			return stats[i].WeightedValue > stats[j].WeightedValue
		}
		return order[stats[i].Channel] < order[stats[j].Channel]
	})

	return stats
}

// channelOrder returns the credit map's channels in first-seen journey
// order, so tie ordering in the final sort depends on the input and not
// on map iteration. Channels absent from the journey (the single-touch
// collapse cases) follow in sorted order.
func channelOrder(credits map[string]float64, journey []*models.Touchpoint) []string {
	ordered := make([]string, 0, len(credits))
	seen := make(map[string]bool, len(credits))
	for _, tp := range journey {
		key := ChannelKey(tp.Source, tp.Medium)
		if _, ok := credits[key]; ok && !seen[key] {
			seen[key] = true
			ordered = append(ordered, key)
		}
	}
	if len(ordered) < len(credits) {
		rest := make([]string, 0, len(credits)-len(ordered))
		for key := range credits {
			if !seen[key] {
				rest = append(rest, key)
			}
		}
		sort.Strings(rest)
		ordered = append(ordered, rest...)
	}
	return ordered
}

// round2 rounds credit to two decimals for display. Weighted value is
// intentionally left at full precision.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
