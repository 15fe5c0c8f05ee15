package storage

import (
	"context"

	"github.com/csmaxi/miturno/libs/db"
)

type Notification struct {
	EventID      string
	EventType    string
	OwnerID      string
	Text         string
	WhatsAppLink string
	Provider     string
	Status       string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (event_id, event_type, owner_id, text, whatsapp_link, provider, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.EventID, n.EventType, n.OwnerID, n.Text, n.WhatsAppLink, n.Provider, n.Status)
	return err
}
