package storage

import (
	"context"

	"github.com/csmaxi/miturno/libs/db"
)

// Entitlement is the locally mirrored plan state for an owner. Rows are
// written by the billing event consumer; absence means the free plan.
type Entitlement struct {
	OwnerID                string
	Plan                   string
	MaxMonthlyAppointments int
	MaxServices            int
}

const (
	FreeMonthlyAppointmentLimit = 20
	FreeServiceLimit            = 3
)

type EntitlementsRepository struct {
	pool *db.Pool
}

func NewEntitlementsRepository(pool *db.Pool) *EntitlementsRepository {
	return &EntitlementsRepository{pool: pool}
}

func (r *EntitlementsRepository) Get(ctx context.Context, ownerID string) (Entitlement, error) {
	ent := Entitlement{
		OwnerID:                ownerID,
		Plan:                   "free",
		MaxMonthlyAppointments: FreeMonthlyAppointmentLimit,
		MaxServices:            FreeServiceLimit,
	}
	err := r.pool.QueryRow(ctx, `
		SELECT plan, max_monthly_appointments, max_services
		FROM owner_entitlements
		WHERE owner_id = $1
	`, ownerID).Scan(&ent.Plan, &ent.MaxMonthlyAppointments, &ent.MaxServices)
	if err != nil {
		if IsNotFound(err) {
			return ent, nil
		}
		return Entitlement{}, err
	}
	return ent, nil
}

func (r *EntitlementsRepository) Upsert(ctx context.Context, ent Entitlement) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO owner_entitlements (owner_id, plan, max_monthly_appointments, max_services, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (owner_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			max_monthly_appointments = EXCLUDED.max_monthly_appointments,
			max_services = EXCLUDED.max_services,
			updated_at = now()
	`, ent.OwnerID, ent.Plan, ent.MaxMonthlyAppointments, ent.MaxServices)
	return err
}
