package movement

import (
	"errors"
	"fmt"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
)

// ErrorCode categorizes movement errors.
type ErrorCode string

const (
	// ErrCodeInvalidTransition indicates no edge exists for (state, event).
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// ErrCodeTerminalState indicates the entity sits in an absorbing state.
	ErrCodeTerminalState ErrorCode = "TERMINAL_STATE"

	// ErrCodePreconditionFailed indicates an edge precondition (gate, tier,
	// cooldown, corroboration) rejected the transition.
	ErrCodePreconditionFailed ErrorCode = "PRECONDITION_FAILED"

	// ErrCodeUnknownEntity indicates the event references no registered entity.
	ErrCodeUnknownEntity ErrorCode = "UNKNOWN_ENTITY"

	// ErrCodeStaleState indicates the entity moved between the decision and
	// the conditional state update.
	ErrCodeStaleState ErrorCode = "STALE_STATE"
)

// Error is a structured movement failure.
//
// Rejected transitions are ordinarily reported through
// TransitionDecision.Reason, not through Error; Error surfaces when a
// caller forces an apply that cannot proceed (rejected decision handed to
// ApplyTransition, unknown entity, lost state race).
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// EntityID identifies the affected entity.
	EntityID string

	// EventKey identifies the triggering event, when known.
	EventKey string

	// Reason carries the underlying reject reason, when one applies.
	Reason funnel.RejectReason
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s (entity=%s)", e.Code, e.Message, e.EntityID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf extracts the movement error code from err.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) (ErrorCode, bool) {
	var me *Error
	if errors.As(err, &me) {
		return me.Code, true
	}
	return "", false
}

// IsUnknownEntity returns true if the error reports an unregistered entity.
func IsUnknownEntity(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeUnknownEntity
}

// IsStaleState returns true if the error reports a lost state race.
func IsStaleState(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeStaleState
}

// rejectCode maps a decision reject reason onto the error code used when a
// rejected decision is forced into ApplyTransition.
func rejectCode(reason funnel.RejectReason) ErrorCode {
	switch reason {
	case funnel.ReasonTerminalState:
		return ErrCodeTerminalState
	case funnel.ReasonGateIncomplete, funnel.ReasonTierBelowMin,
		funnel.ReasonCooldownActive, funnel.ReasonUncorroborated:
		return ErrCodePreconditionFailed
	case funnel.ReasonStaleState:
		return ErrCodeStaleState
	default:
		return ErrCodeInvalidTransition
	}
}
