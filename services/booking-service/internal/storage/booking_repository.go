package storage

import (
	"context"
	"errors"
	"time"

	"github.com/csmaxi/miturno/libs/db"
	"github.com/csmaxi/miturno/services/booking-service/internal/availability"
	"github.com/csmaxi/miturno/services/booking-service/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type BookingRepository struct {
	pool *db.Pool
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// ServiceInfo is the subset of the catalog row booking needs. Duration is
// frozen into the appointment at creation; later catalog edits do not touch
// existing rows.
type ServiceInfo struct {
	ID           string
	OwnerID      string
	Name         string
	DurationMins int
	Price        string
	IsActive     bool
}

func (r *BookingRepository) GetService(ctx context.Context, ownerID, serviceID string) (ServiceInfo, error) {
	var s ServiceInfo
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, owner_id::text, name, duration_minutes, price::text, is_active
		FROM services
		WHERE owner_id = $1 AND id = $2
	`, ownerID, serviceID).Scan(&s.ID, &s.OwnerID, &s.Name, &s.DurationMins, &s.Price, &s.IsActive)
	if err != nil {
		return ServiceInfo{}, err
	}
	return s, nil
}

func (r *BookingRepository) ListWindows(ctx context.Context, ownerID string) ([]availability.Window, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, start_time, end_time
		FROM availability
		WHERE owner_id = $1
		ORDER BY weekday ASC, id ASC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.Window
	for rows.Next() {
		var w availability.Window
		if err := rows.Scan(&w.Weekday, &w.Start, &w.End); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *BookingRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(owner_id, service_id, client_name, client_phone, date, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id::text
	`, appt.OwnerID, appt.ServiceID, appt.ClientName, appt.ClientPhone,
		appt.Date, appt.StartTime, appt.EndTime, appt.Status).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *BookingRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, ownerID, appointmentID string) (model.Appointment, error) {
	var appt model.Appointment
	var cancelledAt *time.Time
	err := tx.QueryRow(ctx, `
		SELECT id::text, owner_id::text, service_id::text, client_name, client_phone,
			date, start_time, end_time, status, COALESCE(notes, ''), cancelled_at, created_at
		FROM appointments
		WHERE id = $1 AND owner_id = $2
		FOR UPDATE
	`, appointmentID, ownerID).Scan(
		&appt.ID,
		&appt.OwnerID,
		&appt.ServiceID,
		&appt.ClientName,
		&appt.ClientPhone,
		&appt.Date,
		&appt.StartTime,
		&appt.EndTime,
		&appt.Status,
		&appt.Notes,
		&cancelledAt,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func (r *BookingRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, ownerID, appointmentID, status, notes string) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			notes = CASE WHEN $4 <> '' THEN $4 ELSE notes END,
			cancelled_at = CASE WHEN $3 = 'cancelled' THEN now() ELSE cancelled_at END
		WHERE id = $1 AND owner_id = $2
	`, appointmentID, ownerID, status, notes)
	return err
}

// ListTakenStarts returns the start times already held by non-cancelled
// appointments on the given day.
func (r *BookingRepository) ListTakenStarts(ctx context.Context, ownerID string, day time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time
		FROM appointments
		WHERE owner_id = $1 AND date = $2 AND status <> 'cancelled'
		ORDER BY start_time ASC
	`, ownerID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var starts []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		starts = append(starts, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return starts, nil
}

func (r *BookingRepository) ListByOwner(ctx context.Context, ownerID, status string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, owner_id::text, service_id::text, client_name, client_phone,
			date, start_time, end_time, status, COALESCE(notes, ''), cancelled_at, created_at
		FROM appointments
		WHERE owner_id = $1
			AND ($2 = '' OR status = $2)
		ORDER BY date DESC, start_time DESC
		LIMIT $3
	`, ownerID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var appt model.Appointment
		var cancelledAt *time.Time
		if err := rows.Scan(
			&appt.ID,
			&appt.OwnerID,
			&appt.ServiceID,
			&appt.ClientName,
			&appt.ClientPhone,
			&appt.Date,
			&appt.StartTime,
			&appt.EndTime,
			&appt.Status,
			&appt.Notes,
			&cancelledAt,
			&appt.CreatedAt,
		); err != nil {
			return nil, err
		}
		appt.CancelledAt = cancelledAt
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *BookingRepository) CountActiveInRange(ctx context.Context, tx pgx.Tx, ownerID string, startInclusive, endExclusive time.Time) (int, error) {
	var cnt int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE owner_id = $1
		  AND status <> 'cancelled'
		  AND date >= $2
		  AND date < $3
	`, ownerID, startInclusive, endExclusive).Scan(&cnt)
	return cnt, err
}

// IsConflict matches the partial unique index on (owner_id, date, start_time)
// for non-cancelled rows: two clients racing for one slot lose here.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "23P01")
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
