package storage

import (
	"context"
	"errors"
	"time"

	"github.com/csmaxi/miturno/libs/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

type Owner struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Slug         string
	Phone        string
	Timezone     string
	CreatedAt    time.Time
}

func (r *Repository) CreateOwnerTx(ctx context.Context, tx pgx.Tx, o Owner) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, name, slug, phone, timezone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, o.ID, o.Email, o.PasswordHash, o.Name, o.Slug, o.Phone, o.Timezone)
	return err
}

// CreateFreeSubscriptionTx seeds the subscription row billing expects to
// find: every owner starts on the free plan.
func (r *Repository) CreateFreeSubscriptionTx(ctx context.Context, tx pgx.Tx, ownerID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO subscriptions (owner_id, plan, status)
		VALUES ($1, 'free', 'active')
		ON CONFLICT (owner_id) DO NOTHING
	`, ownerID)
	return err
}

func (r *Repository) GetOwnerByEmail(ctx context.Context, email string) (Owner, error) {
	var o Owner
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, email, password_hash, name, COALESCE(slug, ''), COALESCE(phone, ''), timezone, created_at
		FROM users
		WHERE email = $1
	`, email).Scan(&o.ID, &o.Email, &o.PasswordHash, &o.Name, &o.Slug, &o.Phone, &o.Timezone, &o.CreatedAt)
	return o, err
}

func (r *Repository) GetOwner(ctx context.Context, ownerID string) (Owner, error) {
	var o Owner
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, email, password_hash, name, COALESCE(slug, ''), COALESCE(phone, ''), timezone, created_at
		FROM users
		WHERE id = $1
	`, ownerID).Scan(&o.ID, &o.Email, &o.PasswordHash, &o.Name, &o.Slug, &o.Phone, &o.Timezone, &o.CreatedAt)
	return o, err
}

func (r *Repository) UpdateProfile(ctx context.Context, ownerID, name, slug, phone, timezone string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users
		SET name = $2, slug = $3, phone = $4, timezone = $5, updated_at = now()
		WHERE id = $1
	`, ownerID, name, slug, phone, timezone)
	return err
}

type Service struct {
	ID           string
	OwnerID      string
	Name         string
	DurationMins int
	Price        string
	Description  string
	IsActive     bool
	CreatedAt    time.Time
}

func (r *Repository) CreateService(ctx context.Context, s Service) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO services (id, owner_id, name, duration_minutes, price, description, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, s.OwnerID, s.Name, s.DurationMins, s.Price, s.Description, s.IsActive)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListServices(ctx context.Context, ownerID string, includeInactive bool) ([]Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, owner_id::text, name, duration_minutes, price::text, COALESCE(description, ''), is_active, created_at
		FROM services
		WHERE owner_id = $1
			AND ($2 OR is_active)
		ORDER BY created_at DESC
	`, ownerID, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		var s Service
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Name, &s.DurationMins, &s.Price, &s.Description, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) CountServices(ctx context.Context, ownerID string) (int, error) {
	var cnt int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM services WHERE owner_id = $1 AND is_active
	`, ownerID).Scan(&cnt)
	return cnt, err
}

// MaxServices reads the plan cap mirrored by billing events; missing row
// means the free plan.
func (r *Repository) MaxServices(ctx context.Context, ownerID string) (int, error) {
	const freeMax = 3
	var max int
	err := r.pool.QueryRow(ctx, `
		SELECT max_services FROM owner_entitlements WHERE owner_id = $1
	`, ownerID).Scan(&max)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return freeMax, nil
		}
		return 0, err
	}
	if max <= 0 {
		return freeMax, nil
	}
	return max, nil
}

func (r *Repository) UpdateService(ctx context.Context, s Service) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE services
		SET name = $3, duration_minutes = $4, price = $5, description = $6, is_active = $7, updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`, s.ID, s.OwnerID, s.Name, s.DurationMins, s.Price, s.Description, s.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) DeactivateService(ctx context.Context, ownerID, serviceID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE services
		SET is_active = false, updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`, serviceID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

type Window struct {
	ID      int64
	OwnerID string
	Weekday int
	Start   string
	End     string
}

func (r *Repository) CreateWindow(ctx context.Context, w Window) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO availability (owner_id, weekday, start_time, end_time)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, w.OwnerID, w.Weekday, w.Start, w.End).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) ListWindows(ctx context.Context, ownerID string) ([]Window, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id::text, weekday, start_time, end_time
		FROM availability
		WHERE owner_id = $1
		ORDER BY weekday ASC, id ASC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Window
	for rows.Next() {
		var w Window
		if err := rows.Scan(&w.ID, &w.OwnerID, &w.Weekday, &w.Start, &w.End); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) DeleteWindow(ctx context.Context, ownerID string, windowID int64) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM availability
		WHERE id = $1 AND owner_id = $2
	`, windowID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
