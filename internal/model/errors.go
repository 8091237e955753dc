package model

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrUnknownStableID is returned when a caller presents a stable id that
	// was never issued.
	ErrUnknownStableID = errors.New("unknown stable id")

	// ErrNeedsReconciliation marks an event that failed after its snapshots
	// were written. The snapshot rows are ahead of the identity bindings and an
	// operator has to replay or repair the event.
	ErrNeedsReconciliation = errors.New("event needs reconciliation")
)

// FaultCode categorizes faults raised by the core.
type FaultCode string

const (
	// CodeNotFound: the resolution engine reports the entity id no longer exists.
	CodeNotFound FaultCode = "NOT_FOUND"

	// CodeAliasCycle: an alias chase revisited a node.
	CodeAliasCycle FaultCode = "ALIAS_CYCLE"

	// CodeTransientIO: a collaborator failed doing I/O.
	CodeTransientIO FaultCode = "TRANSIENT_IO"

	// CodeInvariantViolation: internal state contradicts a structural rule.
	CodeInvariantViolation FaultCode = "INVARIANT_VIOLATION"

	// CodeUnknownStableID: the caller presented a stable id never issued.
	CodeUnknownStableID FaultCode = "UNKNOWN_STABLE_ID"
)

// Fault is a structured error raised by the classifier, the resolver or the
// coordinator.
type Fault struct {
	// Code identifies the fault category.
	Code FaultCode

	// Message is a human-readable description.
	Message string

	// EntityID identifies the affected entity, if any.
	EntityID EntityID

	// StableID identifies the affected stable id, if any.
	StableID StableID

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	msg := fmt.Sprintf("%s: %s", f.Code, f.Message)
	if f.EntityID != 0 {
		msg += fmt.Sprintf(" (entity=%d)", f.EntityID)
	}
	if f.StableID != "" {
		msg += fmt.Sprintf(" (stable_id=%s)", f.StableID)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (f *Fault) Unwrap() error {
	return f.Err
}

// Is lets errors.Is match an unknown stable id fault against the sentinel.
func (f *Fault) Is(target error) bool {
	return f.Code == CodeUnknownStableID && target == ErrUnknownStableID
}

// FaultCodeOf returns the code of the outermost Fault in err's chain, or "".
func FaultCodeOf(err error) FaultCode {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// IsAliasCycle reports whether err carries an alias cycle fault.
func IsAliasCycle(err error) bool {
	return FaultCodeOf(err) == CodeAliasCycle
}

// IsInvariantViolation reports whether err carries an invariant violation.
func IsInvariantViolation(err error) bool {
	return FaultCodeOf(err) == CodeInvariantViolation
}

// IsTransientIO reports whether err carries a transient I/O fault.
func IsTransientIO(err error) bool {
	return FaultCodeOf(err) == CodeTransientIO
}

// IsUnknownStableID reports whether err is or wraps ErrUnknownStableID.
func IsUnknownStableID(err error) bool {
	return errors.Is(err, ErrUnknownStableID)
}

// NewAliasCycleFault reports a cycle that closed at id.
func NewAliasCycleFault(start, closedAt StableID) *Fault {
	return &Fault{
		Code:     CodeAliasCycle,
		Message:  fmt.Sprintf("alias chain starting at %s revisits %s", start, closedAt),
		StableID: closedAt,
	}
}

// NewInvariantFault reports a structural rule that does not hold.
func NewInvariantFault(message string) *Fault {
	return &Fault{Code: CodeInvariantViolation, Message: message}
}

// NewUnknownStableIDFault reports a stable id that was never issued.
func NewUnknownStableIDFault(id StableID) *Fault {
	return &Fault{
		Code:     CodeUnknownStableID,
		Message:  "stable id was never issued",
		StableID: id,
	}
}

// NewTransientFault wraps a collaborator I/O failure.
func NewTransientFault(op string, err error) *Fault {
	return &Fault{Code: CodeTransientIO, Message: op, Err: err}
}
