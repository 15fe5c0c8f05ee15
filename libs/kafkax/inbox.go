package kafkax

import (
	"context"
	"errors"

	"github.com/csmaxi/miturno/libs/db"
	"github.com/jackc/pgx/v5/pgconn"
)

// InboxRepository is the Postgres-backed Inbox. The unique constraint on
// event_id is what makes redelivery detection work.
type InboxRepository struct {
	pool *db.Pool
}

func NewInboxRepository(pool *db.Pool) *InboxRepository {
	return &InboxRepository{pool: pool}
}

func (r *InboxRepository) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}

	return false, err
}
