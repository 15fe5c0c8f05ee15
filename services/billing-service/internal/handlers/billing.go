package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/csmaxi/miturno/libs/auth"
	"github.com/csmaxi/miturno/services/billing-service/internal/entitlements"
	"github.com/csmaxi/miturno/services/billing-service/internal/mercadopago"
	"github.com/csmaxi/miturno/services/billing-service/internal/reconcile"
	"github.com/csmaxi/miturno/services/billing-service/internal/storage"
	"github.com/csmaxi/miturno/services/billing-service/internal/subscriptions"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CheckoutProvider is the slice of the payment API the checkout flow uses.
type CheckoutProvider interface {
	CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest) (mercadopago.Preference, error)
}

// Store is the slice of the billing repository the handlers use.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	EnsureSubscription(ctx context.Context, tx pgx.Tx, ownerID string) error
	InsertCheckoutIntent(ctx context.Context, tx pgx.Tx, ci storage.CheckoutIntent) error
	InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt storage.ProviderEvent) error
	GetSubscription(ctx context.Context, ownerID string) (storage.Subscription, error)
}

type Config struct {
	PremiumPrice    float64
	Currency        string
	NotificationURL string
	SuccessURL      string
	FailureURL      string
}

type BillingHandler struct {
	repo       Store
	subSvc     *subscriptions.Service
	reconciler *reconcile.Reconciler
	provider   CheckoutProvider
	logger     *slog.Logger
	cfg        Config
}

func NewBillingHandler(repo Store, subSvc *subscriptions.Service, reconciler *reconcile.Reconciler, provider CheckoutProvider, logger *slog.Logger, cfg Config) *BillingHandler {
	if cfg.Currency == "" {
		cfg.Currency = "ARS"
	}
	return &BillingHandler{
		repo:       repo,
		subSvc:     subSvc,
		reconciler: reconciler,
		provider:   provider,
		logger:     logger,
		cfg:        cfg,
	}
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

type checkoutResponse struct {
	CheckoutID  string `json:"checkout_id"`
	RedirectURL string `json:"redirect_url"`
}

type subscriptionResponse struct {
	OwnerID     string              `json:"owner_id"`
	Plan        string              `json:"plan"`
	Status      string              `json:"status"`
	PeriodStart string              `json:"period_start,omitempty"`
	PeriodEnd   string              `json:"period_end,omitempty"`
	Limits      entitlements.Limits `json:"limits"`
}

// Checkout builds the hosted-checkout session for the premium plan,
// embedding the external reference that the webhook will parse back.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	plan := strings.ToLower(strings.TrimSpace(req.Plan))
	if plan != "premium" {
		http.Error(w, "plan must be premium", http.StatusBadRequest)
		return
	}

	ref, err := json.Marshal(map[string]string{
		"owner_id": claims.OwnerID,
		"plan":     plan,
	})
	if err != nil {
		http.Error(w, "failed to build reference", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	pref, err := h.provider.CreatePreference(ctx, mercadopago.PreferenceRequest{
		Items: []mercadopago.PreferenceItem{{
			Title:     "miturno premium plan",
			Quantity:  1,
			UnitPrice: h.cfg.PremiumPrice,
			Currency:  h.cfg.Currency,
		}},
		ExternalReference: string(ref),
		NotificationURL:   h.cfg.NotificationURL,
		BackURLs: map[string]string{
			"success": h.cfg.SuccessURL,
			"failure": h.cfg.FailureURL,
		},
		AutoReturn: "approved",
	})
	if err != nil {
		h.logger.Error("checkout creation failed", "owner_id", claims.OwnerID, "err", err)
		http.Error(w, fmt.Sprintf("checkout creation failed: %v", err), http.StatusBadGateway)
		return
	}

	intentID := uuid.NewString()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.repo.EnsureSubscription(ctx, tx, claims.OwnerID); err != nil {
		http.Error(w, "failed to prepare subscription", http.StatusInternalServerError)
		return
	}
	if err := h.repo.InsertCheckoutIntent(ctx, tx, storage.CheckoutIntent{
		ID:           intentID,
		OwnerID:      claims.OwnerID,
		Plan:         plan,
		PreferenceID: pref.ID,
		RedirectURL:  pref.InitPoint,
	}); err != nil {
		http.Error(w, "failed to record checkout", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		CheckoutID:  intentID,
		RedirectURL: pref.InitPoint,
	})
}

// Webhook is the provider's notification callback. Identifiers arrive as
// query parameters; the body, when present, is ignored. Anything that is a
// logical no-op still acks with 200 so the provider stops retrying.
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	topic := strings.TrimSpace(q.Get("topic"))
	id := strings.TrimSpace(q.Get("id"))
	typ := strings.TrimSpace(q.Get("type"))
	dataID := strings.TrimSpace(q.Get("data.id"))

	paymentID := reconcile.EffectivePaymentID(id, typ, dataID)
	if paymentID == "" {
		http.Error(w, "notification carries no payment reference", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	payload, err := json.Marshal(map[string]string{
		"topic":   topic,
		"id":      id,
		"type":    typ,
		"data_id": dataID,
	})
	if err != nil {
		http.Error(w, "failed to record event", http.StatusInternalServerError)
		return
	}

	// Replay protection and the subscription update share one transaction:
	// a delivery that fails past this point rolls back its dedupe record
	// too, so the provider's retry is reprocessed instead of being answered
	// with "duplicate".
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = h.repo.InsertProviderEvent(ctx, tx, storage.ProviderEvent{
		Provider:        "mercadopago",
		ProviderEventID: topic + ":" + typ + ":" + paymentID,
		EventType:       topic,
		Payload:         payload,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
		http.Error(w, "failed to record event", http.StatusInternalServerError)
		return
	}

	outcome, err := h.reconciler.HandleNotification(ctx, tx, topic, id, typ, dataID)
	if err != nil {
		if errors.Is(err, reconcile.ErrMissingPaymentReference) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("notification handling failed", "topic", topic, "payment_id", paymentID, "err", err)
		http.Error(w, "provider lookup failed", http.StatusBadGateway)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

// Subscription returns the owner's current subscription, with free-plan
// defaults when no row exists yet.
func (h *BillingHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sub, err := h.repo.GetSubscription(r.Context(), claims.OwnerID)
	if err != nil {
		if storage.IsNotFound(err) {
			writeJSON(w, http.StatusOK, subscriptionResponse{
				OwnerID: claims.OwnerID,
				Plan:    "free",
				Status:  "active",
				Limits:  entitlements.LimitsForPlan("free"),
			})
			return
		}
		http.Error(w, "failed to load subscription", http.StatusInternalServerError)
		return
	}

	resp := subscriptionResponse{
		OwnerID: sub.OwnerID,
		Plan:    sub.Plan,
		Status:  sub.Status,
		Limits:  entitlements.LimitsForPlan(sub.Plan),
	}
	if sub.PeriodStart != nil {
		resp.PeriodStart = sub.PeriodStart.Format(time.RFC3339)
	}
	if sub.PeriodEnd != nil {
		resp.PeriodEnd = sub.PeriodEnd.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Downgrade is the owner-initiated return to the free plan.
func (h *BillingHandler) Downgrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updated, err := h.subSvc.ApplyDowngrade(ctx, tx, claims.OwnerID, time.Now())
	if err != nil {
		http.Error(w, "failed to downgrade", http.StatusInternalServerError)
		return
	}
	if !updated {
		http.Error(w, "subscription not found", http.StatusNotFound)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"plan":   "free",
		"status": "active",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
