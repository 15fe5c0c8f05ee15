package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/csmaxi/miturno/services/billing-service/internal/mercadopago"
	"github.com/jackc/pgx/v5"
)

type fakeProvider struct {
	payment    mercadopago.Payment
	paymentErr error
	order      mercadopago.MerchantOrder
	orderErr   error
}

func (f *fakeProvider) GetPayment(ctx context.Context, paymentID string) (mercadopago.Payment, error) {
	return f.payment, f.paymentErr
}

func (f *fakeProvider) GetMerchantOrder(ctx context.Context, orderID string) (mercadopago.MerchantOrder, error) {
	return f.order, f.orderErr
}

type approvedCall struct {
	ownerID, plan, paymentID string
}

type fakeActivator struct {
	calls []approvedCall
}

func (f *fakeActivator) ApplyApproved(ctx context.Context, tx pgx.Tx, ownerID, plan, externalPaymentID string, now time.Time) (bool, error) {
	f.calls = append(f.calls, approvedCall{ownerID, plan, externalPaymentID})
	return true, nil
}

func (f *fakeActivator) ApplyDowngrade(ctx context.Context, tx pgx.Tx, ownerID string, now time.Time) (bool, error) {
	return true, nil
}

func TestEffectivePaymentID(t *testing.T) {
	cases := []struct {
		name   string
		id     string
		typ    string
		dataID string
		want   string
	}{
		{"payment type uses data id", "ignored", "payment", "pay-1", "pay-1"},
		{"payment type with only data id", "", "payment", "pay-2", "pay-2"},
		{"other type uses bare id", "order-9", "topic_merchant_order_wh", "", "order-9"},
		{"payment type with empty data id resolves empty", "order-9", "payment", "", ""},
		{"nothing set", "", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EffectivePaymentID(tc.id, tc.typ, tc.dataID); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseReference(t *testing.T) {
	ref, err := parseReference(`{"owner_id":"o1","plan":"premium"}`)
	if err != nil {
		t.Fatalf("parseReference: %v", err)
	}
	if ref.OwnerID != "o1" || ref.Plan != "premium" {
		t.Fatalf("unexpected reference: %+v", ref)
	}
}

func TestParseReferenceMalformed(t *testing.T) {
	for _, raw := range []string{"not json", `{"owner_id":""}`, `{"plan":"premium"}`, `42`} {
		if _, err := parseReference(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestMissingPaymentReference(t *testing.T) {
	r := New(nil, nil, nil, discardLogger())
	if _, err := r.HandleNotification(context.Background(), nil, "payment", "", "payment", ""); err != ErrMissingPaymentReference {
		t.Fatalf("expected ErrMissingPaymentReference, got %v", err)
	}
}

func TestApplyPaymentIgnoresUnapproved(t *testing.T) {
	r := New(nil, nil, nil, discardLogger())
	outcome, err := r.applyPayment(context.Background(), nil, mercadopago.Payment{Status: "pending"}, "p-1")
	if err != nil {
		t.Fatalf("applyPayment: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeIgnored)
	}
}

func TestApplyPaymentMalformedReferenceDoesNotFail(t *testing.T) {
	r := New(nil, nil, nil, discardLogger())
	outcome, err := r.applyPayment(context.Background(), nil, mercadopago.Payment{
		Status:            "approved",
		ExternalReference: "{{broken",
	}, "p-2")
	if err != nil {
		t.Fatalf("malformed reference must not propagate: %v", err)
	}
	if outcome != OutcomeMalformed {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeMalformed)
	}
}

func TestMerchantOrderNotPaidIgnored(t *testing.T) {
	sub := &fakeActivator{}
	r := New(nil, sub, &fakeProvider{
		order: mercadopago.MerchantOrder{OrderStatus: "opened"},
	}, discardLogger())

	outcome, err := r.HandleNotification(context.Background(), nil, "merchant_order", "mo-1", "", "")
	if err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeIgnored)
	}
	if len(sub.calls) != 0 {
		t.Fatalf("unpaid order must not activate, got %d calls", len(sub.calls))
	}
}

func TestMerchantOrderMalformedReference(t *testing.T) {
	sub := &fakeActivator{}
	r := New(nil, sub, &fakeProvider{
		order: mercadopago.MerchantOrder{
			OrderStatus:       "paid",
			ExternalReference: "{{broken",
			Payments:          []mercadopago.MerchantOrderPayment{{ID: 111}},
		},
	}, discardLogger())

	outcome, err := r.HandleNotification(context.Background(), nil, "merchant_order", "mo-2", "", "")
	if err != nil {
		t.Fatalf("malformed reference must not propagate: %v", err)
	}
	if outcome != OutcomeMalformed {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeMalformed)
	}
	if len(sub.calls) != 0 {
		t.Fatalf("malformed reference must not activate, got %d calls", len(sub.calls))
	}
}

func TestMerchantOrderUsesFirstPaymentID(t *testing.T) {
	sub := &fakeActivator{}
	r := New(nil, sub, &fakeProvider{
		order: mercadopago.MerchantOrder{
			OrderStatus:       "paid",
			ExternalReference: `{"owner_id":"o1","plan":"premium"}`,
			Payments:          []mercadopago.MerchantOrderPayment{{ID: 111}, {ID: 222}},
		},
	}, discardLogger())

	outcome, err := r.HandleNotification(context.Background(), nil, "merchant_order", "mo-3", "", "")
	if err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if outcome != OutcomeActivated {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeActivated)
	}
	if len(sub.calls) != 1 {
		t.Fatalf("expected one activation, got %d", len(sub.calls))
	}
	if got := sub.calls[0]; got != (approvedCall{"o1", "premium", "111"}) {
		t.Fatalf("unexpected activation: %+v", got)
	}
}

func TestPaymentLookupFailureFallsBackToMerchantOrder(t *testing.T) {
	sub := &fakeActivator{}
	r := New(nil, sub, &fakeProvider{
		paymentErr: errors.New("boom"),
		order: mercadopago.MerchantOrder{
			OrderStatus:       "paid",
			ExternalReference: `{"owner_id":"o2","plan":"premium"}`,
			Payments:          []mercadopago.MerchantOrderPayment{{ID: 333}},
		},
	}, discardLogger())

	outcome, err := r.HandleNotification(context.Background(), nil, "merchant_order", "mo-4", "payment", "pay-4")
	if err != nil {
		t.Fatalf("fallback must absorb the payment lookup error: %v", err)
	}
	if outcome != OutcomeActivated {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeActivated)
	}
	if got := sub.calls[0]; got != (approvedCall{"o2", "premium", "333"}) {
		t.Fatalf("unexpected activation: %+v", got)
	}
}

func TestRepeatedApprovedPaymentActivatesIdentically(t *testing.T) {
	sub := &fakeActivator{}
	r := New(nil, sub, &fakeProvider{
		payment: mercadopago.Payment{
			ID:                555,
			Status:            "approved",
			ExternalReference: `{"owner_id":"o3","plan":"premium"}`,
		},
	}, discardLogger())

	for i := 0; i < 2; i++ {
		outcome, err := r.HandleNotification(context.Background(), nil, "payment", "", "payment", "555")
		if err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
		if outcome != OutcomeActivated {
			t.Fatalf("delivery %d: outcome = %q, want %q", i+1, outcome, OutcomeActivated)
		}
	}
	if len(sub.calls) != 2 {
		t.Fatalf("expected two activations, got %d", len(sub.calls))
	}
	if sub.calls[0] != sub.calls[1] {
		t.Fatalf("redelivery must apply the same state: %+v vs %+v", sub.calls[0], sub.calls[1])
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
