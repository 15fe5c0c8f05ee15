// Package subscriptions encapsulates subscription state transitions and their
// side effects (outbox events), shared by the webhook, downgrade and
// reconcile flows.
package subscriptions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/csmaxi/miturno/libs/outbox"
	"github.com/csmaxi/miturno/services/billing-service/internal/entitlements"
	"github.com/csmaxi/miturno/services/billing-service/internal/storage"
	"github.com/jackc/pgx/v5"
)

type Service struct {
	repo       *storage.Repository
	outboxRepo *outbox.Repository
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository) *Service {
	return &Service{repo: repo, outboxRepo: outboxRepo}
}

// ApplyApproved activates the owner's subscription for the paid plan and
// refreshes the period to 30 days from now. Returns false without error when
// no subscription row exists for the owner: the caller acks regardless.
func (s *Service) ApplyApproved(ctx context.Context, tx pgx.Tx, ownerID, plan, externalPaymentID string, now time.Time) (bool, error) {
	periodStart := now.UTC()
	periodEnd := periodStart.AddDate(0, 0, 30)

	updated, err := s.repo.ActivateSubscription(ctx, tx, ownerID, plan, externalPaymentID, periodStart, periodEnd)
	if err != nil || !updated {
		return updated, err
	}

	limits := entitlements.LimitsForPlan(plan)
	payload, err := json.Marshal(map[string]any{
		"owner_id":                 ownerID,
		"plan":                     limits.Plan,
		"max_services":             limits.MaxServices,
		"max_monthly_appointments": limits.MaxMonthlyAppointments,
		"external_payment_id":      externalPaymentID,
		"period_start":             periodStart.Format(time.RFC3339),
		"period_end":               periodEnd.Format(time.RFC3339),
	})
	if err != nil {
		return false, err
	}

	return true, s.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "subscription",
		AggregateID:   ownerID,
		EventType:     "billing.subscription.activated.v1",
		Payload:       payload,
	})
}

// ApplyDowngrade is the owner-initiated return to the free plan.
func (s *Service) ApplyDowngrade(ctx context.Context, tx pgx.Tx, ownerID string, now time.Time) (bool, error) {
	updated, err := s.repo.DowngradeSubscription(ctx, tx, ownerID)
	if err != nil || !updated {
		return updated, err
	}

	limits := entitlements.LimitsForPlan("free")
	payload, err := json.Marshal(map[string]any{
		"owner_id":                 ownerID,
		"plan":                     limits.Plan,
		"max_services":             limits.MaxServices,
		"max_monthly_appointments": limits.MaxMonthlyAppointments,
		"downgraded_at":            now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return false, err
	}

	return true, s.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "subscription",
		AggregateID:   ownerID,
		EventType:     "billing.subscription.changed.v1",
		Payload:       payload,
	})
}
