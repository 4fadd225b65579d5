package attribution

import (
	"math"
	"time"

	"github.com/halotrack/halo-server/internal/models"
)

// BuildSnapshot constructs the attribution snapshot stored with a
// conversion. The snapshot is computed once at resolution time and is the
// system of record for first/last-touch reporting even if the session is
// mutated afterwards. A nil session yields a snapshot carrying only the
// match type.
func BuildSnapshot(session *models.Session, matchType models.MatchType) *models.AttributionData {
	if session == nil {
		return &models.AttributionData{MatchType: models.MatchNone}
	}

	first := session.FirstTouch
	last := session.LastTouch
	clickIDs := session.ClickIDs
	device := session.Device

	return &models.AttributionData{
		SessionID:  session.SessionID,
		FirstTouch: &first,
		LastTouch:  &last,
		ClickIDs:   &clickIDs,
		Device:     &device,
		MatchType:  matchType,
	}
}

// DaysToConvert returns the whole days between the session's first touch
// and the conversion time, or nil when the conversion is unresolved. The
// duration is floored, so a conversion timestamped before the first touch
// counts as a negative day rather than rounding toward zero.
func DaysToConvert(session *models.Session, convertedAt time.Time) *int {
	if session == nil || session.FirstTouch.Timestamp.IsZero() {
		return nil
	}
	days := int(math.Floor(convertedAt.Sub(session.FirstTouch.Timestamp).Hours() / 24))
	return &days
}
