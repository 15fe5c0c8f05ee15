// Package reconcile maps asynchronous payment-provider notifications back to
// durable subscription state, and periodically re-verifies stored payments
// against the provider.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/csmaxi/miturno/services/billing-service/internal/mercadopago"
	"github.com/csmaxi/miturno/services/billing-service/internal/storage"
	"github.com/jackc/pgx/v5"
)

var (
	ErrMissingPaymentReference = errors.New("notification carries no payment reference")
	ErrMalformedReference      = errors.New("external reference did not parse")
)

// Provider is the read-back surface of the payment API the reconciler needs.
type Provider interface {
	GetPayment(ctx context.Context, paymentID string) (mercadopago.Payment, error)
	GetMerchantOrder(ctx context.Context, orderID string) (mercadopago.MerchantOrder, error)
}

// Store is the slice of the billing repository the periodic loop uses.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	TryAdvisoryLock(ctx context.Context, key int64) (bool, error)
	AdvisoryUnlock(ctx context.Context, key int64)
	ListForReconcile(ctx context.Context, limit int) ([]storage.Subscription, error)
}

// Activator applies subscription transitions within the caller's transaction.
type Activator interface {
	ApplyApproved(ctx context.Context, tx pgx.Tx, ownerID, plan, externalPaymentID string, now time.Time) (bool, error)
	ApplyDowngrade(ctx context.Context, tx pgx.Tx, ownerID string, now time.Time) (bool, error)
}

// externalReference is the payload round-tripped through the provider to
// correlate a notification back to the purchase.
type externalReference struct {
	OwnerID string `json:"owner_id"`
	Plan    string `json:"plan"`
}

// Outcome describes what a notification amounted to, for the ack body and logs.
type Outcome string

const (
	OutcomeActivated Outcome = "activated"
	OutcomeNoMatch   Outcome = "no_match"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeMalformed Outcome = "malformed_reference"
)

type Reconciler struct {
	repo     Store
	subSvc   Activator
	provider Provider
	logger   *slog.Logger
	now      func() time.Time
}

func New(repo Store, subSvc Activator, provider Provider, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		repo:     repo,
		subSvc:   subSvc,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

// EffectivePaymentID resolves which of the notification's identifiers names
// the payment: data.id when type is "payment", the bare id otherwise.
func EffectivePaymentID(id, typ, dataID string) string {
	if typ == "payment" {
		return strings.TrimSpace(dataID)
	}
	return strings.TrimSpace(id)
}

// HandleNotification processes one webhook delivery. Logical no-ops (no
// matching subscription, payment not approved, unknown topic) are outcomes,
// not errors: the provider retries on anything else. State changes go through
// the caller's transaction, alongside its replay-protection record, so a
// failed delivery rolls back whole and the provider's retry reprocesses it.
func (r *Reconciler) HandleNotification(ctx context.Context, tx pgx.Tx, topic, id, typ, dataID string) (Outcome, error) {
	paymentID := EffectivePaymentID(id, typ, dataID)
	if paymentID == "" {
		return "", ErrMissingPaymentReference
	}

	if topic == "payment" || typ == "payment" {
		payment, err := r.provider.GetPayment(ctx, paymentID)
		if err != nil {
			if topic == "merchant_order" {
				r.logger.Warn("payment lookup failed, falling back to merchant order", "payment_id", paymentID, "err", err)
				return r.handleMerchantOrder(ctx, tx, id)
			}
			return "", fmt.Errorf("payment lookup: %w", err)
		}
		return r.applyPayment(ctx, tx, payment, paymentID)
	}

	if topic == "merchant_order" {
		return r.handleMerchantOrder(ctx, tx, id)
	}

	r.logger.Info("notification ignored", "topic", topic, "type", typ)
	return OutcomeIgnored, nil
}

func (r *Reconciler) applyPayment(ctx context.Context, tx pgx.Tx, payment mercadopago.Payment, paymentID string) (Outcome, error) {
	if payment.Status != "approved" || strings.TrimSpace(payment.ExternalReference) == "" {
		r.logger.Info("payment not applicable", "payment_id", paymentID, "status", payment.Status)
		return OutcomeIgnored, nil
	}

	ref, err := parseReference(payment.ExternalReference)
	if err != nil {
		r.logger.Warn("malformed external reference", "payment_id", paymentID, "err", err)
		return OutcomeMalformed, nil
	}

	return r.activate(ctx, tx, ref, paymentID)
}

func (r *Reconciler) handleMerchantOrder(ctx context.Context, tx pgx.Tx, orderID string) (Outcome, error) {
	order, err := r.provider.GetMerchantOrder(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("merchant order lookup: %w", err)
	}
	if order.OrderStatus != "paid" || strings.TrimSpace(order.ExternalReference) == "" || len(order.Payments) == 0 {
		r.logger.Info("merchant order not applicable", "order_id", orderID, "status", order.OrderStatus)
		return OutcomeIgnored, nil
	}

	ref, err := parseReference(order.ExternalReference)
	if err != nil {
		r.logger.Warn("malformed external reference", "order_id", orderID, "err", err)
		return OutcomeMalformed, nil
	}

	paymentID := strconv.FormatInt(order.Payments[0].ID, 10)
	return r.activate(ctx, tx, ref, paymentID)
}

func (r *Reconciler) activate(ctx context.Context, tx pgx.Tx, ref externalReference, paymentID string) (Outcome, error) {
	updated, err := r.subSvc.ApplyApproved(ctx, tx, ref.OwnerID, ref.Plan, paymentID, r.now())
	if err != nil {
		return "", err
	}
	if !updated {
		// Checkout pre-creates the subscription row, so a miss means the
		// notification references an owner this system never sold to.
		r.logger.Warn("no subscription matched notification", "owner_id", ref.OwnerID, "payment_id", paymentID)
		return OutcomeNoMatch, nil
	}
	r.logger.Info("subscription activated", "owner_id", ref.OwnerID, "plan", ref.Plan, "payment_id", paymentID)
	return OutcomeActivated, nil
}

func parseReference(raw string) (externalReference, error) {
	var ref externalReference
	if err := json.Unmarshal([]byte(raw), &ref); err != nil {
		return externalReference{}, fmt.Errorf("%w: %v", ErrMalformedReference, err)
	}
	ref.OwnerID = strings.TrimSpace(ref.OwnerID)
	ref.Plan = strings.TrimSpace(ref.Plan)
	if ref.OwnerID == "" || ref.Plan == "" {
		return externalReference{}, ErrMalformedReference
	}
	return ref, nil
}
