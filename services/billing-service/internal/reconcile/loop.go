package reconcile

import (
	"context"
	"strconv"
	"strings"
	"time"
)

type LoopConfig struct {
	Interval        time.Duration
	BatchSize       int
	AdvisoryLockKey int64
}

// RunLoop re-verifies stored payment ids against the provider on an interval.
// Best-effort leader election: only the instance holding the advisory lock
// reconciles, so multiple billing replicas don't hammer the provider.
func (r *Reconciler) RunLoop(ctx context.Context, cfg LoopConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.AdvisoryLockKey == 0 {
		cfg.AdvisoryLockKey = 7301001
	}

	for {
		if ctx.Err() != nil {
			return
		}
		locked, err := r.repo.TryAdvisoryLock(ctx, cfg.AdvisoryLockKey)
		if err != nil {
			r.logger.Error("reconcile: failed to acquire advisory lock", "err", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if !locked {
			r.logger.Info("reconcile: advisory lock held by another instance", "lock_key", cfg.AdvisoryLockKey)
			time.Sleep(30 * time.Second)
			continue
		}
		r.logger.Info("reconcile: advisory lock acquired", "lock_key", cfg.AdvisoryLockKey)
		defer r.repo.AdvisoryUnlock(context.Background(), cfg.AdvisoryLockKey)
		break
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	r.reconcileOnce(ctx, cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileOnce(ctx, cfg.BatchSize)
		}
	}
}

func (r *Reconciler) reconcileOnce(ctx context.Context, batchSize int) {
	subs, err := r.repo.ListForReconcile(ctx, batchSize)
	if err != nil {
		r.logger.Error("reconcile: failed to list subscriptions", "err", err)
		return
	}

	for _, s := range subs {
		if ctx.Err() != nil {
			return
		}
		if strings.TrimSpace(s.ExternalPaymentID) == "" {
			continue
		}

		payment, err := r.provider.GetPayment(ctx, s.ExternalPaymentID)
		if err != nil {
			r.logger.Warn("reconcile: payment fetch failed", "err", err, "owner_id", s.OwnerID, "payment_id", s.ExternalPaymentID)
			continue
		}

		switch payment.Status {
		case "approved":
			// Paid and on the plan it paid for: nothing to fix.
			continue
		case "refunded", "cancelled", "charged_back", "rejected":
			tx, err := r.repo.Begin(ctx)
			if err != nil {
				r.logger.Error("reconcile: db begin failed", "err", err)
				return
			}
			_, applyErr := r.subSvc.ApplyDowngrade(ctx, tx, s.OwnerID, r.now())
			if applyErr != nil {
				_ = tx.Rollback(ctx)
				r.logger.Warn("reconcile: downgrade failed", "err", applyErr, "owner_id", s.OwnerID)
				continue
			}
			if err := tx.Commit(ctx); err != nil {
				_ = tx.Rollback(ctx)
				r.logger.Warn("reconcile: commit failed", "err", err, "owner_id", s.OwnerID)
				continue
			}
			r.logger.Info("reconcile: subscription downgraded", "owner_id", s.OwnerID, "payment_status", payment.Status,
				"payment_id", strconv.FormatInt(payment.ID, 10))
		default:
			r.logger.Info("reconcile: payment in transient state", "owner_id", s.OwnerID, "status", payment.Status)
		}
	}
}
