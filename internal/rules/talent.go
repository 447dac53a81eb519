package rules

import (
	"fmt"
	"strings"
)

// TalentFlowSignal is a "person moved" indicator assembled from event
// metadata by the caller.
type TalentFlowSignal struct {
	// Sources are the corroborating source tags (news feed, registry scrape,
	// LinkedIn diff, ...). Comparison is case-insensitive after trimming.
	Sources []string

	// VerifiedFiling marks a signal backed by a filing verified against the
	// official registry. One verified filing outweighs source counting.
	VerifiedFiling bool
}

// TalentFlowResult is the typed outcome of corroboration.
type TalentFlowResult struct {
	Actionable bool   `json:"actionable"`
	Rationale  string `json:"rationale"`
}

// ValidateTalentFlow decides whether a talent-flow signal is actionable:
// at least two independent corroborating sources, or one verified filing.
// Duplicate and blank source tags do not count as corroboration.
func ValidateTalentFlow(sig TalentFlowSignal) TalentFlowResult {
	if sig.VerifiedFiling {
		return TalentFlowResult{
			Actionable: true,
			Rationale:  "verified filing on record",
		}
	}

	distinct := make(map[string]bool, len(sig.Sources))
	for _, s := range sig.Sources {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		distinct[s] = true
	}

	if len(distinct) >= 2 {
		return TalentFlowResult{
			Actionable: true,
			Rationale:  fmt.Sprintf("%d independent corroborating sources", len(distinct)),
		}
	}

	return TalentFlowResult{
		Actionable: false,
		Rationale:  fmt.Sprintf("only %d independent source(s); need 2 or a verified filing", len(distinct)),
	}
}
