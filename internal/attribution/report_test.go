package attribution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halotrack/halo-server/internal/models"
)

func TestAggregateBySourceLinear(t *testing.T) {
	a := NewAllocator(0)
	c := wonConversion(day(6))
	journeys := map[string][]*models.Touchpoint{
		"sess-1": {
			tp("google", "cpc", day(0)),
			tp("facebook", "cpc", day(5)),
		},
	}

	stats := AggregateBySource(a, []*models.Conversion{c}, journeys, models.ModelLinear)

	require.Len(t, stats, 2)
	for _, st := range stats {
		assert.InDelta(t, 0.5, st.TotalCredit, 1e-9)
		assert.InDelta(t, 0.5, st.WonCredit, 1e-9)
		assert.InDelta(t, 500, st.WeightedValue, 1e-9)
		assert.InDelta(t, 100, st.WinRate, 1e-9)
	}
}

func TestAggregateBySourceLastTouch(t *testing.T) {
	a := NewAllocator(0)
	c := wonConversion(day(6))
	journeys := map[string][]*models.Touchpoint{
		"sess-1": {
			tp("google", "cpc", day(0)),
			tp("facebook", "cpc", day(5)),
		},
	}

	stats := AggregateBySource(a, []*models.Conversion{c}, journeys, models.ModelLastTouch)

	require.Len(t, stats, 1)
	assert.Equal(t, "facebook / cpc", stats[0].Channel)
	assert.InDelta(t, 1.0, stats[0].TotalCredit, 1e-9)
	assert.InDelta(t, 1000, stats[0].WeightedValue, 1e-9)
}

func TestAggregateBySourceLostDeals(t *testing.T) {
	a := NewAllocator(0)

	won := wonConversion(day(6))
	lost := wonConversion(day(6))
	lost.ExternalID = "o-2"
	lost.Status = models.StatusLost

	journeys := map[string][]*models.Touchpoint{
		"sess-1": {tp("google", "cpc", day(0))},
	}

	stats := AggregateBySource(a, []*models.Conversion{won, lost}, journeys, models.ModelFirstTouch)

	require.Len(t, stats, 1)
	st := stats[0]
	assert.Equal(t, "google / cpc", st.Channel)
	assert.InDelta(t, 2.0, st.TotalCredit, 1e-9)
	assert.InDelta(t, 1.0, st.WonCredit, 1e-9)
	assert.InDelta(t, 1000, st.WeightedValue, 1e-9)
	assert.InDelta(t, 50, st.WinRate, 1e-9)
}

func TestAggregateBySourceOrderIndependent(t *testing.T) {
	a := NewAllocator(0)

	c1 := wonConversion(day(6))
	c2 := wonConversion(day(7))
	c2.ExternalID = "o-2"
	c2.Total = 400

	journeys := map[string][]*models.Touchpoint{
		"sess-1": {
			tp("google", "cpc", day(0)),
			tp("facebook", "cpc", day(5)),
		},
	}

	forward := AggregateBySource(a, []*models.Conversion{c1, c2}, journeys, models.ModelLinear)
	reverse := AggregateBySource(a, []*models.Conversion{c2, c1}, journeys, models.ModelLinear)

	require.Equal(t, len(forward), len(reverse))
	byChannel := func(stats []ChannelStats) map[string]ChannelStats {
		m := make(map[string]ChannelStats)
		for _, st := range stats {
			st2 := st
			m[st.Channel] = st2
		}
		return m
	}
	fm, rm := byChannel(forward), byChannel(reverse)
	for channel, st := range fm {
		assert.InDelta(t, st.TotalCredit, rm[channel].TotalCredit, 1e-9)
		assert.InDelta(t, st.WeightedValue, rm[channel].WeightedValue, 1e-9)
	}
}

func TestAggregateBySourceSortsByWeightedValue(t *testing.T) {
	a := NewAllocator(0)

	big := wonConversion(day(6))
	big.Attribution.LastTouch = &models.Touch{Source: "google", Medium: "cpc"}
	big.Total = 5000

	small := wonConversion(day(6))
	small.ExternalID = "o-2"
	small.Total = 100

	stats := AggregateBySource(a, []*models.Conversion{small, big}, nil, models.ModelLastTouch)

	require.Len(t, stats, 2)
	assert.Equal(t, "google / cpc", stats[0].Channel)
	assert.Equal(t, "facebook / cpc", stats[1].Channel)
}

func TestAggregateBySourceTieOrderFollowsJourney(t *testing.T) {
	a := NewAllocator(0)
	c := wonConversion(day(6))

	journeys := map[string][]*models.Touchpoint{
		"sess-1": {
			tp("google", "cpc", day(0)),
			tp("facebook", "cpc", day(5)),
		},
	}
	stats := AggregateBySource(a, []*models.Conversion{c}, journeys, models.ModelLinear)
	require.Len(t, stats, 2)
	assert.Equal(t, "google / cpc", stats[0].Channel)
	assert.Equal(t, "facebook / cpc", stats[1].Channel)

	// Reversing the journey reverses the tie order; it never depends on
	// map iteration.
	reversed := map[string][]*models.Touchpoint{
		"sess-1": {
			tp("facebook", "cpc", day(0)),
			tp("google", "cpc", day(5)),
		},
	}
	stats = AggregateBySource(a, []*models.Conversion{c}, reversed, models.ModelLinear)
	require.Len(t, stats, 2)
	assert.Equal(t, "facebook / cpc", stats[0].Channel)
	assert.Equal(t, "google / cpc", stats[1].Channel)
}

func TestAggregateBySourceRoundsDisplayCredit(t *testing.T) {
	a := NewAllocator(0)
	c := wonConversion(day(6))
	journeys := map[string][]*models.Touchpoint{
		"sess-1": {
			tp("google", "cpc", day(0)),
			tp("facebook", "cpc", day(1)),
			tp("newsletter", "email", day(2)),
		},
	}

	stats := AggregateBySource(a, []*models.Conversion{c}, journeys, models.ModelLinear)

	require.Len(t, stats, 3)
	for _, st := range stats {
		// 1/3 rounds to 0.33 for display.
		assert.Equal(t, 0.33, st.TotalCredit)
		// Weighted value keeps full precision.
		assert.InDelta(t, 1000.0/3, st.WeightedValue, 1e-9)
	}
}
