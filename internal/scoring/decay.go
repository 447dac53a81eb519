package scoring

import (
	"time"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
)

// DecayFactor returns the freshness multiplier for a signal of the given
// age: 1.0 at age zero, declining linearly to 0.0 at age >= period.
// Negative ages clamp to 1.0 so a future-dated signal counts at full
// weight instead of poisoning the sum.
func DecayFactor(age time.Duration, periodDays int) float64 {
	if periodDays <= 0 {
		return 0
	}
	if age <= 0 {
		return 1.0
	}
	period := time.Duration(periodDays) * 24 * time.Hour
	if age >= period {
		return 0
	}
	return 1.0 - float64(age)/float64(period)
}

// SignalContribution returns one signal's decay-weighted contribution to
// the composite score as of now.
func SignalContribution(sig funnel.PressureSignal, now time.Time) float64 {
	return sig.ImpactWeight * DecayFactor(now.Sub(sig.CreatedAt), sig.DecayPeriodDays)
}

// CompositeAt sums the decay-weighted contributions of all signals as of
// now. An empty slice sums to zero; fully decayed signals contribute
// nothing but are never skipped, so the result is a pure function of
// (signals, now).
func CompositeAt(signals []funnel.PressureSignal, now time.Time) float64 {
	var total float64
	for _, sig := range signals {
		total += SignalContribution(sig, now)
	}
	return total
}
