package payload

import (
	"errors"
	"fmt"
)

// ErrInvalidPayload is the sentinel wrapped by every ValidationError.
var ErrInvalidPayload = errors.New("invalid booking payload")

// ValidationReason enumerates the only two conditions that make a raw
// booking undispatchable. Every other field degrades to empty or a default.
type ValidationReason string

const (
	ReasonMissingBookingCode ValidationReason = "missing_booking_code"
	ReasonInvalidAmount      ValidationReason = "invalid_amount"
)

// ValidationError is returned by FromMap when a fatal precondition fails.
type ValidationError struct {
	Reason ValidationReason
	Field  string
	Value  any
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s (field %s)", ErrInvalidPayload, e.Reason, e.Field)
	}
	return fmt.Sprintf("%s: %s (field %s, value %v)", ErrInvalidPayload, e.Reason, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidPayload
}

// ReasonOf extracts the validation reason from err, or "" if err is not a ValidationError.
func ReasonOf(err error) ValidationReason {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return ""
}
