package rules

import (
	"fmt"
	"time"
)

// CooldownResult is the typed outcome of a cooldown check.
type CooldownResult struct {
	Allowed        bool      `json:"allowed"`
	NextEligibleAt time.Time `json:"next_eligible_at,omitempty"`
	Rationale      string    `json:"rationale"`
}

// CooldownCheck decides whether another outreach touch is allowed. The
// window slides from the last contact instant; there is no snapping to
// calendar boundaries.
//
// A zero lastContactAt means no outreach on record, and a non-positive
// window disables the check entirely.
func CooldownCheck(lastContactAt time.Time, window time.Duration, now time.Time) CooldownResult {
	if window <= 0 {
		return CooldownResult{
			Allowed:   true,
			Rationale: "no cooldown window configured",
		}
	}
	if lastContactAt.IsZero() {
		return CooldownResult{
			Allowed:   true,
			Rationale: "no prior outreach on record",
		}
	}

	eligibleAt := lastContactAt.Add(window)
	if now.Before(eligibleAt) {
		return CooldownResult{
			Allowed:        false,
			NextEligibleAt: eligibleAt.UTC(),
			Rationale:      fmt.Sprintf("last contact %s ago; window is %s", now.Sub(lastContactAt), window),
		}
	}

	return CooldownResult{
		Allowed:   true,
		Rationale: fmt.Sprintf("cooldown of %s elapsed", window),
	}
}
