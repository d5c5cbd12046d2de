package mission

import (
	"errors"
	"fmt"
)

// Reason codes attached to REJECTED/EXPIRED missions. Operators rely on the
// DRAWDOWN_LIMIT code being distinct from ordinary policy filtering.
const (
	ReasonTierPattern     = "POLICY_PATTERN"
	ReasonConfidenceFloor = "POLICY_CONFIDENCE"
	ReasonSlotLimit       = "POLICY_SLOTS"
	ReasonCooldown        = "POLICY_COOLDOWN"
	ReasonStaleSignal     = "STALE_SIGNAL"
	ReasonSizing          = "SIZING_ERROR"
	ReasonDrawdownLimit   = "DRAWDOWN_LIMIT"
	ReasonDispatchTimeout = "DISPATCH_TIMEOUT"
	ReasonTerminalReject  = "TERMINAL_REJECTED"
	ReasonChannelDegraded = "CHANNEL_DEGRADED"
	ReasonDeadline        = "DEADLINE_PASSED"
	ReasonQuoteSilence    = "QUOTE_SILENCE"
	ReasonCancelled       = "CANCELLED"
)

// Rejection is a typed, recoverable refusal carrying a reason code.
type Rejection struct {
	Code   string
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return r.Code
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Detail)
}

// Reject builds a Rejection with a formatted detail message.
func Reject(code, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// RejectionCode extracts the reason code from err, or "" when err is not a
// Rejection.
func RejectionCode(err error) string {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Code
	}
	return ""
}

var (
	// ErrUnknownMission is returned for lookups that miss the store.
	ErrUnknownMission = errors.New("mission: unknown mission")
	// ErrBadTransition is returned for lifecycle moves the graph forbids.
	ErrBadTransition = errors.New("mission: illegal state transition")
	// ErrNotCancellable is returned when cancellation is requested past
	// the point of no return (FIRED or later).
	ErrNotCancellable = errors.New("mission: not cancellable once fired")
)
