package main

import (
	"context"
	"net/http"
	"time"

	"github.com/csmaxi/miturno/libs/auth"
	"github.com/csmaxi/miturno/libs/config"
	"github.com/csmaxi/miturno/libs/db"
	"github.com/csmaxi/miturno/libs/httpx"
	"github.com/csmaxi/miturno/libs/kafkax"
	otelx "github.com/csmaxi/miturno/libs/otel"
	"github.com/csmaxi/miturno/libs/outbox"
	"github.com/csmaxi/miturno/libs/runtime"
	"github.com/csmaxi/miturno/services/booking-service/internal/entitlements"
	"github.com/csmaxi/miturno/services/booking-service/internal/handlers"
	"github.com/csmaxi/miturno/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8082")
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

	repo := storage.NewBookingRepository(pool)
	entRepo := storage.NewEntitlementsRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	if kafkaBrokers != "" {
		updater := entitlements.NewUpdater(entRepo, logger)
		consumer := kafkax.NewConsumer(logger, kafkax.NewInboxRepository(pool), kafkax.ConsumerConfig{
			Brokers: kafkaBrokers,
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topics: []string{
				entitlements.TopicSubscriptionActivated,
				entitlements.TopicSubscriptionChanged,
			},
		}, updater.Handle)
		go consumer.Run(ctx)
	}

	bookingHandler := handlers.NewBookingHandler(repo, entRepo, outboxRepo, logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if kafkaBrokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	// Public booking endpoints are rate limited per client IP. Redis keeps
	// the window shared across replicas; without Redis we fall back to the
	// in-process limiter.
	var publicLimit httpx.Middleware
	rateLimit := config.Int("PUBLIC_RATE_LIMIT", 30)
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			panic(err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		limiter := httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, "booking:public")
		publicLimit = limiter.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
	} else {
		publicLimit = httpx.NewRateLimiter(rateLimit, time.Minute).Middleware()
	}

	public := func(h http.HandlerFunc) http.Handler {
		return httpx.Chain(h, publicLimit)
	}
	owner := auth.RequireOwner(jwtSecret)

	mux.Handle("/api/v1/public/dates", public(bookingHandler.Dates))
	mux.Handle("/api/v1/public/slots", public(bookingHandler.Slots))
	mux.Handle("/api/v1/public/book", public(bookingHandler.Create))
	mux.Handle("/api/v1/appointments", owner(http.HandlerFunc(bookingHandler.List)))
	mux.Handle("/api/v1/appointments/confirm", owner(http.HandlerFunc(bookingHandler.Confirm)))
	mux.Handle("/api/v1/appointments/cancel", owner(http.HandlerFunc(bookingHandler.Cancel)))
	mux.Handle("/api/v1/appointments/complete", owner(http.HandlerFunc(bookingHandler.Complete)))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: []string{config.String("CORS_ALLOWED_ORIGINS", "*")},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")

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
