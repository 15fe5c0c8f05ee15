package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/csmaxi/miturno/libs/db"
	"github.com/jackc/pgx/v5"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

type Subscription struct {
	OwnerID           string
	Plan              string
	Status            string
	ExternalPaymentID string
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	UpdatedAt         time.Time
}

func (r *Repository) GetSubscription(ctx context.Context, ownerID string) (Subscription, error) {
	var s Subscription
	var ps, pe *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT owner_id::text, plan, status, COALESCE(external_payment_id, ''),
		       period_start, period_end, updated_at
		FROM subscriptions
		WHERE owner_id = $1
	`, ownerID).Scan(&s.OwnerID, &s.Plan, &s.Status, &s.ExternalPaymentID, &ps, &pe, &s.UpdatedAt)
	if err != nil {
		return Subscription{}, err
	}
	s.PeriodStart = ps
	s.PeriodEnd = pe
	return s, nil
}

func (r *Repository) UpsertSubscription(ctx context.Context, tx pgx.Tx, s Subscription) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO subscriptions (owner_id, plan, status, external_payment_id, period_start, period_end)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id)
		DO UPDATE SET plan = EXCLUDED.plan,
		              status = EXCLUDED.status,
		              external_payment_id = EXCLUDED.external_payment_id,
		              period_start = EXCLUDED.period_start,
		              period_end = EXCLUDED.period_end,
		              updated_at = now()
	`, s.OwnerID, s.Plan, s.Status, nullIfEmpty(s.ExternalPaymentID), s.PeriodStart, s.PeriodEnd)
	return err
}

// ActivateSubscription is the reconciler's conditional write: it updates the
// owner's existing row and records the payment id that proved the purchase.
// A miss (no row for the owner) is reported, not invented into an insert.
// Matching is by owner only, so a later approved payment for a different
// checkout of the same owner re-keys the row to that payment id; the owner
// holds one subscription, so the newest proof of payment wins.
func (r *Repository) ActivateSubscription(ctx context.Context, tx pgx.Tx, ownerID, plan, externalPaymentID string, periodStart, periodEnd time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE subscriptions
		SET plan = $2,
		    status = 'active',
		    external_payment_id = $3,
		    period_start = $4,
		    period_end = $5,
		    updated_at = now()
		WHERE owner_id = $1
	`, ownerID, plan, externalPaymentID, periodStart, periodEnd)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) DowngradeSubscription(ctx context.Context, tx pgx.Tx, ownerID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE subscriptions
		SET plan = 'free',
		    status = 'active',
		    external_payment_id = NULL,
		    period_start = NULL,
		    period_end = NULL,
		    updated_at = now()
		WHERE owner_id = $1
	`, ownerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListForReconcile returns premium rows carrying a payment id, oldest-checked
// first, for the periodic re-verify loop.
func (r *Repository) ListForReconcile(ctx context.Context, limit int) ([]Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT owner_id::text, plan, status, COALESCE(external_payment_id, ''),
		       period_start, period_end, updated_at
		FROM subscriptions
		WHERE plan <> 'free' AND external_payment_id IS NOT NULL AND external_payment_id <> ''
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var s Subscription
		var ps, pe *time.Time
		if err := rows.Scan(&s.OwnerID, &s.Plan, &s.Status, &s.ExternalPaymentID, &ps, &pe, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.PeriodStart = ps
		s.PeriodEnd = pe
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EnsureSubscription guarantees the owner has a subscription row for the
// webhook to match, without disturbing whatever state the row is in.
func (r *Repository) EnsureSubscription(ctx context.Context, tx pgx.Tx, ownerID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO subscriptions (owner_id, plan, status)
		VALUES ($1, 'free', 'active')
		ON CONFLICT (owner_id) DO NOTHING
	`, ownerID)
	return err
}

type CheckoutIntent struct {
	ID           string
	OwnerID      string
	Plan         string
	PreferenceID string
	RedirectURL  string
	CreatedAt    time.Time
}

func (r *Repository) InsertCheckoutIntent(ctx context.Context, tx pgx.Tx, ci CheckoutIntent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO checkout_intents (id, owner_id, plan, preference_id, redirect_url)
		VALUES ($1, $2, $3, $4, $5)
	`, ci.ID, ci.OwnerID, ci.Plan, ci.PreferenceID, nullIfEmpty(ci.RedirectURL))
	return err
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

// InsertProviderEvent gives webhook replay handling: the unique key on
// (provider, provider_event_id) turns redelivery into ErrDuplicateProviderEvent.
func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var locked bool
	err := r.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked)
	return locked, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) {
	_, _ = r.pool.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key)
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
