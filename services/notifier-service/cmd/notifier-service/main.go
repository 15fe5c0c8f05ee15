package main

import (
	"context"
	"net/http"
	"time"

	"github.com/csmaxi/miturno/libs/config"
	"github.com/csmaxi/miturno/libs/db"
	"github.com/csmaxi/miturno/libs/httpx"
	"github.com/csmaxi/miturno/libs/kafkax"
	otelx "github.com/csmaxi/miturno/libs/otel"
	"github.com/csmaxi/miturno/libs/runtime"
	"github.com/csmaxi/miturno/services/notifier-service/internal/notify"
	"github.com/csmaxi/miturno/services/notifier-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

var bookingTopics = []string{
	"booking.appointment.booked.v1",
	"booking.appointment.confirmed.v1",
	"booking.appointment.cancelled.v1",
	"booking.appointment.completed.v1",
}

func main() {
	service := config.String("SERVICE_NAME", "notifier-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	kafkaBrokers, err := config.RequiredString("KAFKA_BROKERS")
	if err != nil {
		panic(err)
	}

	var sender notify.Sender
	webhookURL := config.String("NOTIFY_WEBHOOK_URL", "")
	if webhookURL == "" {
		logger.Warn("NOTIFY_WEBHOOK_URL not set; notifications are recorded but not delivered")
		sender = notify.NewNoopSender()
	} else {
		sender = notify.NewWebhookSender(webhookURL, config.String("NOTIFY_WEBHOOK_TOKEN", ""))
	}

	notifications := storage.NewRepository(pool)

	handler := func(ctx context.Context, msg kafka.Message) error {
		evt, err := notify.ParseAppointmentEvent(msg.Value)
		if err != nil {
			// Poison payloads are logged and skipped, not redelivered.
			logger.Error("invalid appointment event", "topic", msg.Topic, "err", err)
			return nil
		}
		out, err := notify.Compose(msg.Topic, evt)
		if err != nil {
			logger.Error("compose failed", "topic", msg.Topic, "err", err)
			return nil
		}

		status := "sent"
		if err := sender.Deliver(ctx, out); err != nil {
			logger.Error("delivery failed", "topic", msg.Topic, "owner_id", evt.OwnerID, "err", err)
			status = "failed"
		}

		meta := kafkax.ExtractEventMeta(msg)
		return notifications.Insert(ctx, storage.Notification{
			EventID:      meta.EventID,
			EventType:    msg.Topic,
			OwnerID:      evt.OwnerID,
			Text:         out.Text,
			WhatsAppLink: out.WhatsAppLink,
			Provider:     sender.ProviderID(),
			Status:       status,
		})
	}

	consumer := kafkax.NewConsumer(logger, kafkax.NewInboxRepository(pool), kafkax.ConsumerConfig{
		Brokers: kafkaBrokers,
		GroupID: config.String("KAFKA_GROUP_ID", "notifier-service"),
		Topics:  bookingTopics,
	}, handler)
	go consumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)},
	)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
