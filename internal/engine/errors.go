package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/stableid/internal/model"
)

// ErrStopped is delivered to events still queued when the Run loop exits.
var ErrStopped = errors.New("engine stopped")

// RejectError reports an event refused before anything was sent to the
// resolution engine. Nothing is persisted for a rejected event.
type RejectError struct {
	// Code identifies the rejection category.
	Code RejectCode

	// Message is a human-readable description.
	Message string

	// Record identifies the event's record, if it had one.
	Record model.RecordID

	// Err is the underlying validation failure, if any.
	Err error
}

// RejectCode categorizes rejected events.
type RejectCode string

const (
	// ErrCodeInvalidRecordID indicates a missing data source or record key.
	ErrCodeInvalidRecordID RejectCode = "INVALID_RECORD_ID"

	// ErrCodeInvalidFeatures indicates the feature document failed validation.
	ErrCodeInvalidFeatures RejectCode = "INVALID_FEATURES"

	// ErrCodeUnknownKind indicates an event kind the engine does not process.
	ErrCodeUnknownKind RejectCode = "UNKNOWN_EVENT_KIND"
)

// Error implements the error interface.
func (e *RejectError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if !e.Record.IsZero() {
		msg = fmt.Sprintf("%s (record=%s)", msg, e.Record)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying validation failure.
func (e *RejectError) Unwrap() error {
	return e.Err
}

// IsRejected returns true if the error is a RejectError.
// Uses errors.As to handle wrapped errors.
func IsRejected(err error) bool {
	var re *RejectError
	return errors.As(err, &re)
}

// IsNeedsReconciliation returns true if the event failed after snapshots
// were written and the stable id state must be repaired by replaying it.
func IsNeedsReconciliation(err error) bool {
	return errors.Is(err, model.ErrNeedsReconciliation)
}
