package domain

import (
	"errors"
	"fmt"
)

// RejectionCode identifies why an event was refused.
type RejectionCode string

const (
	CodeMalformedEvent       RejectionCode = "MalformedEvent"
	CodeUnknownEventType     RejectionCode = "UnknownEventType"
	CodeDuplicateTransaction RejectionCode = "DuplicateTransaction"
	CodeUnknownTransaction   RejectionCode = "UnknownTransaction"
	CodeAlreadySettled       RejectionCode = "AlreadySettled"
	CodeAmountMismatch       RejectionCode = "AmountMismatch"
	CodeCreditLimitExceeded  RejectionCode = "CreditLimitExceeded"
	CodeOverpaymentRejected  RejectionCode = "OverpaymentRejected"
)

// Rejection is a deterministic refusal of a single event. Retrying the same
// event against the same state yields the same rejection.
type Rejection struct {
	Code   RejectionCode `json:"error"`
	Reason string        `json:"reason"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Reason)
}

// Reject builds a Rejection with a formatted reason.
func Reject(code RejectionCode, format string, args ...interface{}) *Rejection {
	return &Rejection{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps err into a Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// IsRejection reports whether err carries the given code.
func IsRejection(err error, code RejectionCode) bool {
	r, ok := AsRejection(err)
	return ok && r.Code == code
}
