package order

import (
	"fmt"

	"ms-seatsale/internal/validation"
)

// OutcomeKind classifies how a saga step ended.
type OutcomeKind int

const (
	Succeeded OutcomeKind = iota
	// Rejected is a business rule violation. Code says which.
	Rejected
	// Recoverable is a known operational failure, such as a declined capture.
	Recoverable
	// Fatal means local and remote state may disagree about money.
	Fatal
	Unexpected
)

func (k OutcomeKind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case Rejected:
		return "rejected"
	case Recoverable:
		return "recoverable"
	case Fatal:
		return "fatal"
	case Unexpected:
		return "unexpected"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is the result of a purchase or refund step. Rejected and
// Recoverable outcomes are returned as data with a nil error.
type Outcome struct {
	Kind        OutcomeKind     `json:"-"`
	Code        validation.Code `json:"code,omitempty"`
	OrderID     int64           `json:"order_id,omitempty"`
	ChargeID    string          `json:"charge_id,omitempty"`
	RedirectURL string          `json:"redirect_url,omitempty"`
}

func (o Outcome) OK() bool {
	return o.Kind == Succeeded
}

// SagaError is returned alongside Fatal and Unexpected outcomes.
type SagaError struct {
	Kind OutcomeKind
	Code validation.Code
	Err  error
}

func (e *SagaError) Error() string {
	if e.Code != validation.OK {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SagaError) Unwrap() error {
	return e.Err
}

func rejected(code validation.Code) Outcome {
	return Outcome{Kind: Rejected, Code: code}
}

func recoverable(code validation.Code, orderID int64, chargeID string) Outcome {
	return Outcome{Kind: Recoverable, Code: code, OrderID: orderID, ChargeID: chargeID}
}

func failed(kind OutcomeKind, code validation.Code, err error) (Outcome, error) {
	return Outcome{Kind: kind, Code: code}, &SagaError{Kind: kind, Code: code, Err: err}
}
