package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePayment(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	svc := NewService(ledger, nil, time.Second)

	p, err := svc.CreatePayment(ctx, "u-1", CreatePaymentRequest{
		AmountCents: 4990,
		Currency:    "eur",
		PlanID:      "premium-monthly",
	}, "key-1")
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "u-1", p.CustomerID)
	assert.Equal(t, int64(4990), p.AmountCents)
	assert.Equal(t, "EUR", p.Currency, "currency normalized to upper case")
	assert.Equal(t, StatusCompleted, p.Status)

	stored, found, err := ledger.Payment(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, p.ID, stored.ID)
}

func TestRefundFull(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	svc := NewService(ledger, nil, time.Second)

	p, err := svc.CreatePayment(ctx, "u-1", CreatePaymentRequest{
		AmountCents: 4990, Currency: "EUR", PlanID: "premium-monthly",
	}, "key-1")
	require.NoError(t, err)

	r, err := svc.Refund(ctx, "u-1", RefundRequest{
		PaymentID: p.ID, AmountCents: 4990, Reason: "cancelled",
	}, "key-2")
	require.NoError(t, err)
	assert.Equal(t, p.ID, r.PaymentID)

	// Full refund flips the payment status
	stored, _, err := ledger.Payment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, stored.Status)
}

func TestRefundPartialKeepsStatus(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	svc := NewService(ledger, nil, time.Second)

	p, err := svc.CreatePayment(ctx, "u-1", CreatePaymentRequest{
		AmountCents: 4990, Currency: "EUR", PlanID: "premium-monthly",
	}, "key-1")
	require.NoError(t, err)

	_, err = svc.Refund(ctx, "u-1", RefundRequest{
		PaymentID: p.ID, AmountCents: 1000, Reason: "partial credit",
	}, "key-2")
	require.NoError(t, err)

	stored, _, err := ledger.Payment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
}

func TestRefundRejections(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	svc := NewService(ledger, nil, time.Second)

	p, err := svc.CreatePayment(ctx, "u-1", CreatePaymentRequest{
		AmountCents: 1000, Currency: "EUR", PlanID: "premium-monthly",
	}, "key-1")
	require.NoError(t, err)

	// Unknown payment
	_, err = svc.Refund(ctx, "u-1", RefundRequest{
		PaymentID: "nope", AmountCents: 100, Reason: "x",
	}, "k")
	assert.Error(t, err)

	// Someone else's payment
	_, err = svc.Refund(ctx, "u-2", RefundRequest{
		PaymentID: p.ID, AmountCents: 100, Reason: "x",
	}, "k")
	assert.Error(t, err)

	// Over-refund
	_, err = svc.Refund(ctx, "u-1", RefundRequest{
		PaymentID: p.ID, AmountCents: 2000, Reason: "x",
	}, "k")
	assert.Error(t, err)

	// Already refunded
	_, err = svc.Refund(ctx, "u-1", RefundRequest{
		PaymentID: p.ID, AmountCents: 1000, Reason: "cancel",
	}, "k")
	require.NoError(t, err)
	_, err = svc.Refund(ctx, "u-1", RefundRequest{
		PaymentID: p.ID, AmountCents: 1000, Reason: "cancel again",
	}, "k2")
	assert.Error(t, err)
}

func TestCreatePaymentRequestValidate(t *testing.T) {
	valid := CreatePaymentRequest{AmountCents: 100, Currency: "EUR", PlanID: "p"}
	assert.Empty(t, valid.Validate())

	cases := []struct {
		name string
		req  CreatePaymentRequest
	}{
		{"zero amount", CreatePaymentRequest{AmountCents: 0, Currency: "EUR", PlanID: "p"}},
		{"negative amount", CreatePaymentRequest{AmountCents: -1, Currency: "EUR", PlanID: "p"}},
		{"unsupported currency", CreatePaymentRequest{AmountCents: 100, Currency: "GBP", PlanID: "p"}},
		{"missing plan", CreatePaymentRequest{AmountCents: 100, Currency: "EUR"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotEmpty(t, tc.req.Validate())
		})
	}
}

func TestRefundRequestValidate(t *testing.T) {
	valid := RefundRequest{PaymentID: "p-1", AmountCents: 100, Reason: "cancelled"}
	assert.Empty(t, valid.Validate())

	assert.NotEmpty(t, RefundRequest{AmountCents: 100, Reason: "x"}.Validate())
	assert.NotEmpty(t, RefundRequest{PaymentID: "p", Reason: "x"}.Validate())
	assert.NotEmpty(t, RefundRequest{PaymentID: "p", AmountCents: 100}.Validate())
}

func TestCommandKinds(t *testing.T) {
	var cmds = []Command{CreatePaymentRequest{}, RefundRequest{}}
	assert.Equal(t, KindCreatePayment, cmds[0].CommandKind())
	assert.Equal(t, KindRefund, cmds[1].CommandKind())
}

func TestMemoryLedgerPaymentsOrder(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	svc := NewService(ledger, nil, time.Second)

	var ids []string
	for i := 0; i < 3; i++ {
		p, err := svc.CreatePayment(ctx, "u-1", CreatePaymentRequest{
			AmountCents: 100, Currency: "EUR", PlanID: "p",
		}, "")
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	payments, err := ledger.Payments(ctx)
	require.NoError(t, err)
	require.Len(t, payments, 3)
	for i, p := range payments {
		assert.Equal(t, ids[i], p.ID, "creation order preserved")
	}
}
