package attribution

import (
	"math"
	"strings"
	"time"

	"github.com/halotrack/halo-server/internal/models"
)

// Channel sentinels used when a touch or conversion carries no source or
// medium information.
const (
	DirectSource  = "Direct"
	NoneMedium    = "(none)"
	DirectChannel = "Direct / (none)"
)

// ChannelKey builds the "source / medium" reporting key, substituting the
// Direct/(none) sentinels for missing fields.
func ChannelKey(source, medium string) string {
	if source == "" {
		source = DirectSource
	}
	if medium == "" {
		medium = NoneMedium
	}
	return source + " / " + medium
}

// Allocator distributes fractional conversion credit across the
// touchpoints of a visitor journey. Credits for one conversion always
// sum to 1.
type Allocator struct {
	halfLife time.Duration
}

// NewAllocator creates an allocator. halfLife controls the time_decay
// model; a zero value falls back to seven days.
func NewAllocator(halfLife time.Duration) *Allocator {
	if halfLife <= 0 {
		halfLife = 7 * 24 * time.Hour
	}
	return &Allocator{halfLife: halfLife}
}

// isMarketingTouch reports whether a touchpoint counts toward multi-touch
// credit: it needs a real source (not the Direct sentinel) and a real
// medium (not empty or "(none)").
func isMarketingTouch(tp *models.Touchpoint) bool {
	if tp.Source == "" || strings.EqualFold(tp.Source, DirectSource) {
		return false
	}
	if tp.Medium == "" || tp.Medium == NoneMedium {
		return false
	}
	return true
}

// Allocate computes the per-channel credit map for one conversion.
// touchpoints must belong to the conversion's session and be ordered by
// timestamp ascending. With no marketing touches, or under the
// first_touch/last_touch models, credit collapses to a single channel
// taken from the stored attribution snapshot.
func (a *Allocator) Allocate(c *models.Conversion, touchpoints []*models.Touchpoint, model models.AttributionModel) map[string]float64 {
	marketing := make([]*models.Touchpoint, 0, len(touchpoints))
	for _, tp := range touchpoints {
		if isMarketingTouch(tp) {
			marketing = append(marketing, tp)
		}
	}

	switch {
	case model == models.ModelFirstTouch:
		return map[string]float64{a.singleTouchChannel(c, true): 1}
	case model == models.ModelLastTouch, len(marketing) == 0:
		return map[string]float64{a.singleTouchChannel(c, false): 1}
	}

	total := len(marketing)
	weights := make([]float64, total)

	switch model {
	case models.ModelLinear:
		for i := range weights {
			weights[i] = 1 / float64(total)
		}

	case models.ModelPositionBased, models.ModelUShaped:
		switch total {
		case 1:
			weights[0] = 1
		case 2:
			weights[0], weights[1] = 0.5, 0.5
		default:
			weights[0] = 0.4
			weights[total-1] = 0.4
			middle := 0.2 / float64(total-2)
			for i := 1; i < total-1; i++ {
				weights[i] = middle
			}
		}

	case models.ModelTimeDecay:
		// Exponential half-life decay favoring recent touches:
		// weight proportional to 2^(-daysBeforeConversion/halfLife),
		// renormalized so the credits sum to 1.
		halfLifeDays := a.halfLife.Hours() / 24
		var sum float64
		for i, tp := range marketing {
			daysBefore := c.CreatedAt.Sub(tp.Timestamp).Hours() / 24
			if daysBefore < 0 {
				daysBefore = 0
			}
			w := math.Pow(2, -daysBefore/halfLifeDays)
			weights[i] = w
			sum += w
		}
		for i := range weights {
			weights[i] /= sum
		}

	default:
		// Unknown model: treat as last touch.
		return map[string]float64{a.singleTouchChannel(c, false): 1}
	}

	credits := make(map[string]float64)
	for i, tp := range marketing {
		credits[ChannelKey(tp.Source, tp.Medium)] += weights[i]
	}
	return credits
}

// singleTouchChannel picks the channel for single-touch models and the
// zero-touch fallback: the stored first or last touch snapshot, then the
// conversion's raw platform/source, then the Direct sentinel.
func (a *Allocator) singleTouchChannel(c *models.Conversion, first bool) string {
	if c.Attribution != nil {
		var touch *models.Touch
		if first {
			touch = c.Attribution.FirstTouch
		} else {
			touch = c.Attribution.LastTouch
		}
		if touch != nil && (touch.Source != "" || touch.Medium != "") {
			return ChannelKey(touch.Source, touch.Medium)
		}
	}
	if c.Platform != "" {
		return ChannelKey(c.Platform, "")
	}
	return DirectChannel
}
