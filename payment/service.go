package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/errors"
)

// Status of a ledger payment.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
)

// Payment is one completed charge in the ledger.
type Payment struct {
	ID          string    `json:"id"`
	CustomerID  string    `json:"customer_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	PlanID      string    `json:"plan_id"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Refund is one reversal in the ledger.
type Refund struct {
	ID          string    `json:"id"`
	PaymentID   string    `json:"payment_id"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ledger is the durable record of payments and refunds. The database
// behind it is an external collaborator; the in-memory implementation
// backs tests and development.
type Ledger interface {
	RecordPayment(ctx context.Context, p Payment) error
	RecordRefund(ctx context.Context, r Refund) error
	Payment(ctx context.Context, id string) (Payment, bool, error)
	MarkRefunded(ctx context.Context, id string) error
	Payments(ctx context.Context) ([]Payment, error)
}

// Service executes the payment terminal operations. Every ledger call is
// bounded by a timeout; a timeout surfaces as a server error to the caller
// and is never silently retried.
type Service struct {
	ledger    Ledger
	processor *ProcessorClient // optional outbound submission
	timeout   time.Duration
	logger    *slog.Logger
}

// NewService creates a payment service over ledger. processor may be nil
// when no external processor is wired (development, tests).
func NewService(ledger Ledger, processor *ProcessorClient, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		ledger:    ledger,
		processor: processor,
		timeout:   timeout,
		logger:    slog.Default().With("component", "payment"),
	}
}

// CreatePayment records one charge for customerID. The caller is
// responsible for wrapping this in the idempotency guard; executed twice it
// will create two ledger records.
func (s *Service) CreatePayment(ctx context.Context, customerID string, req CreatePaymentRequest, idempotencyKey string) (Payment, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p := Payment{
		ID:          uuid.NewString(),
		CustomerID:  customerID,
		AmountCents: req.AmountCents,
		Currency:    strings.ToUpper(req.Currency),
		PlanID:      req.PlanID,
		Status:      StatusCompleted,
		CreatedAt:   time.Now().UTC(),
	}

	if s.processor != nil {
		if err := s.processor.Submit(opCtx, req, idempotencyKey); err != nil {
			return Payment{}, errors.WrapTransient(err, "payment", "CreatePayment", "processor submit")
		}
	}

	if err := s.ledger.RecordPayment(opCtx, p); err != nil {
		return Payment{}, errors.WrapTransient(err, "payment", "CreatePayment", "ledger write")
	}

	s.logger.Info("payment created",
		"payment_id", p.ID, "customer_id", customerID, "amount_cents", p.AmountCents)
	return p, nil
}

// Refund reverses a payment owned by customerID.
func (s *Service) Refund(ctx context.Context, customerID string, req RefundRequest, idempotencyKey string) (Refund, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, found, err := s.ledger.Payment(opCtx, req.PaymentID)
	if err != nil {
		return Refund{}, errors.WrapTransient(err, "payment", "Refund", "ledger read")
	}
	if !found || p.CustomerID != customerID {
		return Refund{}, errors.WrapInvalid(errors.ErrKeyNotFound, "payment", "Refund",
			fmt.Sprintf("payment %s not found", req.PaymentID))
	}
	if p.Status == StatusRefunded {
		return Refund{}, errors.WrapInvalid(errors.ErrInvalidData, "payment", "Refund",
			"payment already refunded")
	}
	if req.AmountCents > p.AmountCents {
		return Refund{}, errors.WrapInvalid(errors.ErrInvalidData, "payment", "Refund",
			"refund exceeds payment amount")
	}

	r := Refund{
		ID:          uuid.NewString(),
		PaymentID:   p.ID,
		AmountCents: req.AmountCents,
		Reason:      req.Reason,
		CreatedAt:   time.Now().UTC(),
	}

	if s.processor != nil {
		if err := s.processor.Submit(opCtx, req, idempotencyKey); err != nil {
			return Refund{}, errors.WrapTransient(err, "payment", "Refund", "processor submit")
		}
	}

	if err := s.ledger.RecordRefund(opCtx, r); err != nil {
		return Refund{}, errors.WrapTransient(err, "payment", "Refund", "ledger write")
	}
	if req.AmountCents == p.AmountCents {
		if err := s.ledger.MarkRefunded(opCtx, p.ID); err != nil {
			return Refund{}, errors.WrapTransient(err, "payment", "Refund", "ledger update")
		}
	}

	s.logger.Info("refund created",
		"refund_id", r.ID, "payment_id", p.ID, "amount_cents", r.AmountCents)
	return r, nil
}

// MemoryLedger is the in-process Ledger used by tests and development.
type MemoryLedger struct {
	mu       sync.Mutex
	payments map[string]Payment
	refunds  map[string]Refund
	order    []string
}

// NewMemoryLedger creates an empty in-process ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		payments: make(map[string]Payment),
		refunds:  make(map[string]Refund),
	}
}

// RecordPayment implements Ledger.
func (l *MemoryLedger) RecordPayment(_ context.Context, p Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payments[p.ID] = p
	l.order = append(l.order, p.ID)
	return nil
}

// RecordRefund implements Ledger.
func (l *MemoryLedger) RecordRefund(_ context.Context, r Refund) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refunds[r.ID] = r
	return nil
}

// Payment implements Ledger.
func (l *MemoryLedger) Payment(_ context.Context, id string) (Payment, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	return p, ok, nil
}

// MarkRefunded implements Ledger.
func (l *MemoryLedger) MarkRefunded(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok {
		return errors.ErrKeyNotFound
	}
	p.Status = StatusRefunded
	l.payments[id] = p
	return nil
}

// Payments implements Ledger, returning payments in creation order.
func (l *MemoryLedger) Payments(_ context.Context) ([]Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Payment, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.payments[id])
	}
	return out, nil
}
