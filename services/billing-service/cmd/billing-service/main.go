package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/csmaxi/miturno/libs/auth"
	"github.com/csmaxi/miturno/libs/config"
	"github.com/csmaxi/miturno/libs/db"
	"github.com/csmaxi/miturno/libs/httpx"
	"github.com/csmaxi/miturno/libs/kafkax"
	otelx "github.com/csmaxi/miturno/libs/otel"
	"github.com/csmaxi/miturno/libs/outbox"
	"github.com/csmaxi/miturno/libs/runtime"
	"github.com/csmaxi/miturno/services/billing-service/internal/handlers"
	"github.com/csmaxi/miturno/services/billing-service/internal/mercadopago"
	"github.com/csmaxi/miturno/services/billing-service/internal/reconcile"
	"github.com/csmaxi/miturno/services/billing-service/internal/storage"
	"github.com/csmaxi/miturno/services/billing-service/internal/subscriptions"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "billing-service")
	port, err := config.Port("PORT", "8083")
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

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	mpClient := mercadopago.NewClient(
		config.String("MP_BASE_URL", mercadopago.DefaultBaseURL),
		config.String("MP_ACCESS_TOKEN", ""),
	)

	subSvc := subscriptions.New(repo, outboxRepo)
	reconciler := reconcile.New(repo, subSvc, mpClient, logger)

	if config.String("MP_ACCESS_TOKEN", "") == "" {
		logger.Warn("payment reconcile loop disabled: MP_ACCESS_TOKEN missing")
	} else {
		go reconciler.RunLoop(ctx, reconcile.LoopConfig{
			Interval:        time.Duration(config.Int("RECONCILE_INTERVAL_MINUTES", 5)) * time.Minute,
			BatchSize:       config.Int("RECONCILE_BATCH_SIZE", 50),
			AdvisoryLockKey: int64(config.Int("RECONCILE_LOCK_KEY", 7301001)),
		})
	}

	premiumPrice, err := strconv.ParseFloat(config.String("PREMIUM_PRICE", "9999"), 64)
	if err != nil {
		logger.Error("invalid PREMIUM_PRICE", "err", err)
		panic(err)
	}
	h := handlers.NewBillingHandler(repo, subSvc, reconciler, mpClient, logger, handlers.Config{
		PremiumPrice:    premiumPrice,
		Currency:        config.String("PREMIUM_CURRENCY", "ARS"),
		NotificationURL: config.String("MP_NOTIFICATION_URL", ""),
		SuccessURL:      config.String("CHECKOUT_SUCCESS_URL", ""),
		FailureURL:      config.String("CHECKOUT_FAILURE_URL", ""),
	})

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if kafkaBrokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	owner := auth.RequireOwner(jwtSecret)
	mux.Handle("/api/v1/billing/checkout", owner(http.HandlerFunc(h.Checkout)))
	mux.Handle("/api/v1/billing/subscription", owner(http.HandlerFunc(h.Subscription)))
	mux.Handle("/api/v1/billing/downgrade", owner(http.HandlerFunc(h.Downgrade)))
	mux.HandleFunc("/api/v1/billing/webhooks/mercadopago", h.Webhook)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "billing")

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
