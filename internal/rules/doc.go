// Package rules provides the stateless movement policies: reply
// classification, threshold tiers, talent-flow corroboration, and outreach
// cooldown.
//
// Every function returns a typed result carrying a rationale, not a bare
// boolean, so movement decisions stay auditable end to end. Nothing in this
// package touches storage or mutates shared state; everything is safe for
// concurrent use.
package rules
