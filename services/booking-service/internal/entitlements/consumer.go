// Package entitlements keeps the local mirror of billing plan state up to
// date by consuming billing subscription events.
package entitlements

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/csmaxi/miturno/services/booking-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

const (
	TopicSubscriptionActivated = "billing.subscription.activated.v1"
	TopicSubscriptionChanged   = "billing.subscription.changed.v1"
)

type subscriptionEvent struct {
	OwnerID                string `json:"owner_id"`
	Plan                   string `json:"plan"`
	MaxMonthlyAppointments int    `json:"max_monthly_appointments"`
	MaxServices            int    `json:"max_services"`
}

type Updater struct {
	repo   *storage.EntitlementsRepository
	logger *slog.Logger
}

func NewUpdater(repo *storage.EntitlementsRepository, logger *slog.Logger) *Updater {
	return &Updater{repo: repo, logger: logger}
}

func (u *Updater) Handle(ctx context.Context, msg kafka.Message) error {
	var evt subscriptionEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return fmt.Errorf("decode subscription event: %w", err)
	}
	evt.OwnerID = strings.TrimSpace(evt.OwnerID)
	if evt.OwnerID == "" {
		// Malformed producer payload; skipping beats redelivery loops.
		u.logger.Warn("subscription event without owner_id", "topic", msg.Topic)
		return nil
	}
	if evt.Plan == "" {
		evt.Plan = "free"
	}
	if evt.MaxMonthlyAppointments <= 0 {
		evt.MaxMonthlyAppointments = storage.FreeMonthlyAppointmentLimit
	}
	if evt.MaxServices <= 0 {
		evt.MaxServices = storage.FreeServiceLimit
	}

	err := u.repo.Upsert(ctx, storage.Entitlement{
		OwnerID:                evt.OwnerID,
		Plan:                   evt.Plan,
		MaxMonthlyAppointments: evt.MaxMonthlyAppointments,
		MaxServices:            evt.MaxServices,
	})
	if err != nil {
		return fmt.Errorf("upsert entitlement: %w", err)
	}
	u.logger.Info("entitlements updated", "owner_id", evt.OwnerID, "plan", evt.Plan)
	return nil
}
