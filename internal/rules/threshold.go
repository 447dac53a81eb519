package rules

import (
	"fmt"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
)

// TierResult is the typed outcome of a threshold evaluation.
type TierResult struct {
	Tier      funnel.Tier `json:"tier"`
	Rationale string      `json:"rationale"`
}

// EvaluateThreshold maps score onto the band set using half-open intervals
// [band.Min, nextBand.Min). Bands come pre-sorted and pre-normalized from
// the definition: the first floor is -Inf, so every finite score lands in
// exactly one band.
func EvaluateThreshold(score float64, bands []funnel.Band) TierResult {
	if len(bands) == 0 {
		return TierResult{Rationale: "no bands configured"}
	}

	// Walk hottest to coldest; the first floor at or below score wins.
	for i := len(bands) - 1; i >= 0; i-- {
		if score >= bands[i].Min {
			return TierResult{
				Tier:      bands[i].Name,
				Rationale: fmt.Sprintf("score %s falls in band %s", formatScore(score), bands[i].Name),
			}
		}
	}

	// Unreachable with a normalized band set; kept for raw band slices.
	return TierResult{
		Tier:      bands[0].Name,
		Rationale: fmt.Sprintf("score %s below every declared floor; coldest band %s", formatScore(score), bands[0].Name),
	}
}

func formatScore(score float64) string {
	return fmt.Sprintf("%.2f", score)
}
