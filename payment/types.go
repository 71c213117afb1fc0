// Package payment implements the terminal payment operations the protection
// layer guards: subscription payment creation and refunds against a ledger,
// plus the outbound contract for an external payment processor.
//
// Requests are a tagged union: one concrete struct per operation kind,
// validated at the boundary before any terminal operation runs. The wire
// protocol of the external processor is out of scope; the generic contract
// is that every outbound command carries an idempotency key and is
// rate-bounded.
package payment

import (
	"strings"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/pipeline"
)

// Kind tags a payment command.
type Kind string

const (
	KindCreatePayment Kind = "create_payment"
	KindRefund        Kind = "refund"
)

// Command is the tagged union of payment operations.
type Command interface {
	CommandKind() Kind
	Validate() []pipeline.FieldError
}

// supportedCurrencies the platform charges in.
var supportedCurrencies = map[string]bool{
	"EUR": true,
	"USD": true,
	"COP": true,
}

// CreatePaymentRequest starts one subscription payment.
type CreatePaymentRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	PlanID      string `json:"plan_id"`
}

// CommandKind implements Command.
func (r CreatePaymentRequest) CommandKind() Kind { return KindCreatePayment }

// Validate implements pipeline.Validator.
func (r CreatePaymentRequest) Validate() []pipeline.FieldError {
	var errs []pipeline.FieldError
	if r.AmountCents <= 0 {
		errs = append(errs, pipeline.FieldError{Field: "amount_cents", Message: "must be positive"})
	}
	if !supportedCurrencies[strings.ToUpper(r.Currency)] {
		errs = append(errs, pipeline.FieldError{Field: "currency", Message: "unsupported currency"})
	}
	if strings.TrimSpace(r.PlanID) == "" {
		errs = append(errs, pipeline.FieldError{Field: "plan_id", Message: "required"})
	}
	return errs
}

// RefundRequest reverses a previously created payment, fully or partially.
type RefundRequest struct {
	PaymentID   string `json:"payment_id"`
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}

// CommandKind implements Command.
func (r RefundRequest) CommandKind() Kind { return KindRefund }

// Validate implements pipeline.Validator.
func (r RefundRequest) Validate() []pipeline.FieldError {
	var errs []pipeline.FieldError
	if strings.TrimSpace(r.PaymentID) == "" {
		errs = append(errs, pipeline.FieldError{Field: "payment_id", Message: "required"})
	}
	if r.AmountCents <= 0 {
		errs = append(errs, pipeline.FieldError{Field: "amount_cents", Message: "must be positive"})
	}
	if strings.TrimSpace(r.Reason) == "" {
		errs = append(errs, pipeline.FieldError{Field: "reason", Message: "required"})
	}
	return errs
}
