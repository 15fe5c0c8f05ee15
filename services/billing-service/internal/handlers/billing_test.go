package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/csmaxi/miturno/services/billing-service/internal/mercadopago"
	"github.com/csmaxi/miturno/services/billing-service/internal/reconcile"
	"github.com/csmaxi/miturno/services/billing-service/internal/storage"
	"github.com/jackc/pgx/v5"
)

type fakeTx struct {
	pgx.Tx
	commit   func() error
	rollback func()
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.commit != nil {
		return t.commit()
	}
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.rollback != nil {
		t.rollback()
	}
	return nil
}

// fakeStore stages provider events per transaction and keeps them only on
// commit, matching the real repository's behavior under rollback.
type fakeStore struct {
	events map[string]struct{}
	staged []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: map[string]struct{}{}}
}

func (s *fakeStore) Begin(ctx context.Context) (pgx.Tx, error) {
	s.staged = nil
	return &fakeTx{
		commit: func() error {
			for _, key := range s.staged {
				s.events[key] = struct{}{}
			}
			s.staged = nil
			return nil
		},
		rollback: func() { s.staged = nil },
	}, nil
}

func (s *fakeStore) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt storage.ProviderEvent) error {
	if _, ok := s.events[evt.ProviderEventID]; ok {
		return storage.ErrDuplicateProviderEvent
	}
	s.staged = append(s.staged, evt.ProviderEventID)
	return nil
}

func (s *fakeStore) EnsureSubscription(ctx context.Context, tx pgx.Tx, ownerID string) error {
	return nil
}

func (s *fakeStore) InsertCheckoutIntent(ctx context.Context, tx pgx.Tx, ci storage.CheckoutIntent) error {
	return nil
}

func (s *fakeStore) GetSubscription(ctx context.Context, ownerID string) (storage.Subscription, error) {
	return storage.Subscription{}, pgx.ErrNoRows
}

type flakyProvider struct {
	failures int
	payment  mercadopago.Payment
}

func (p *flakyProvider) GetPayment(ctx context.Context, paymentID string) (mercadopago.Payment, error) {
	if p.failures > 0 {
		p.failures--
		return mercadopago.Payment{}, errors.New("provider unavailable")
	}
	return p.payment, nil
}

func (p *flakyProvider) GetMerchantOrder(ctx context.Context, orderID string) (mercadopago.MerchantOrder, error) {
	return mercadopago.MerchantOrder{}, errors.New("no merchant order")
}

type recordingActivator struct {
	activations int
}

func (a *recordingActivator) ApplyApproved(ctx context.Context, tx pgx.Tx, ownerID, plan, externalPaymentID string, now time.Time) (bool, error) {
	a.activations++
	return true, nil
}

func (a *recordingActivator) ApplyDowngrade(ctx context.Context, tx pgx.Tx, ownerID string, now time.Time) (bool, error) {
	return true, nil
}

func webhookRequest() *http.Request {
	return httptest.NewRequest(http.MethodGet,
		"/api/v1/billing/webhooks/mercadopago?topic=payment&type=payment&data.id=123", nil)
}

// A delivery that fails on the provider lookup must not consume its replay
// record: the provider's retry with the same parameters has to reprocess the
// notification and activate the subscription.
func TestWebhookRetryAfterProviderFailure(t *testing.T) {
	store := newFakeStore()
	act := &recordingActivator{}
	provider := &flakyProvider{
		failures: 1,
		payment: mercadopago.Payment{
			ID:                123,
			Status:            "approved",
			ExternalReference: `{"owner_id":"o1","plan":"premium"}`,
		},
	}
	rec := reconcile.New(nil, act, provider, discardLogger())
	h := NewBillingHandler(store, nil, rec, nil, discardLogger(), Config{})

	w := httptest.NewRecorder()
	h.Webhook(w, webhookRequest())
	if w.Code != http.StatusBadGateway {
		t.Fatalf("first delivery: status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	if act.activations != 0 {
		t.Fatalf("first delivery must not activate, got %d", act.activations)
	}
	if len(store.events) != 0 {
		t.Fatalf("failed delivery must not keep its replay record, got %d", len(store.events))
	}

	w = httptest.NewRecorder()
	h.Webhook(w, webhookRequest())
	if w.Code != http.StatusOK {
		t.Fatalf("retry: status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}
	if act.activations != 1 {
		t.Fatalf("retry must activate exactly once, got %d", act.activations)
	}

	w = httptest.NewRecorder()
	h.Webhook(w, webhookRequest())
	if w.Code != http.StatusOK {
		t.Fatalf("redelivery: status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "duplicate") {
		t.Fatalf("redelivery after success must report duplicate, got %s", w.Body.String())
	}
	if act.activations != 1 {
		t.Fatalf("redelivery must not re-run the provider flow, got %d activations", act.activations)
	}
}

func TestWebhookWithoutPaymentReference(t *testing.T) {
	h := NewBillingHandler(newFakeStore(), nil, reconcile.New(nil, nil, nil, discardLogger()), nil, discardLogger(), Config{})

	w := httptest.NewRecorder()
	h.Webhook(w, httptest.NewRequest(http.MethodGet, "/api/v1/billing/webhooks/mercadopago?topic=payment&type=payment", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
