package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mcruz90/wellnessbook/libs/config"
	"github.com/mcruz90/wellnessbook/libs/db"
	"github.com/mcruz90/wellnessbook/libs/httpx"
	"github.com/mcruz90/wellnessbook/libs/kafkax"
	otelx "github.com/mcruz90/wellnessbook/libs/otel"
	"github.com/mcruz90/wellnessbook/libs/runtime"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/availability"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/fees"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/handlers"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/lifecycle"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/outbox"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/payments"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/storage"
	"github.com/mcruz90/wellnessbook/services/appointments-service/migrations"
)

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "appointments-service")
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

	if config.Bool("MIGRATE_ON_START", false) {
		if err := migrations.Up(ctx, pool.Pool); err != nil {
			logger.Error("migrations failed", "err", err)
			panic(err)
		}
	}

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	apptRepo := storage.NewAppointmentRepository(pool)
	slotRepo := storage.NewSlotRepository(pool)
	providerRepo := storage.NewProviderRepository(pool)
	paymentRepo := storage.NewPaymentRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	stripeKey, err := config.RequiredString("STRIPE_SECRET_KEY")
	if err != nil {
		panic(err)
	}
	coordinator := payments.NewCoordinator(paymentRepo, payments.NewStripeProcessor(stripeKey), logger)

	policy := fees.NewPolicy(config.String("FEE_CURRENCY", fees.DefaultCurrency))
	resolver := availability.NewResolver(slotRepo, apptRepo, providerRepo)
	svc := lifecycle.NewService(apptRepo, slotRepo, providerRepo, coordinator, policy, outboxRepo, logger)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	availabilityHandler := handlers.NewAvailabilityHandler(resolver)
	appointmentsHandler := handlers.NewAppointmentsHandler(svc, apptRepo, coordinator, policy, logger)
	slotsHandler := handlers.NewSlotsHandler(slotRepo, svc, logger)
	ordersHandler := handlers.NewOrdersHandler(coordinator, apptRepo, outboxRepo, logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if kafkaBrokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
	}

	// Rate limiting: Redis fixed window when configured, in-process fallback
	// for single-instance deployments.
	var limiterMiddleware httpx.Middleware
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limiter := httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT", 60), time.Minute, service)
		limiterMiddleware = limiter.Middleware(logger, true)
		readyChecks = append(readyChecks, runtime.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	} else {
		limiterMiddleware = httpx.NewRateLimiter(config.Int("RATE_LIMIT", 60), time.Minute).Middleware()
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	authed := handlers.WithAuth(jwtSecret)
	mux.Handle("/api/v1/availability", http.HandlerFunc(availabilityHandler.Resolve))
	mux.Handle("/api/v1/appointments", authed(route(map[string]http.HandlerFunc{
		http.MethodPost: appointmentsHandler.Create,
		http.MethodGet:  appointmentsHandler.List,
	})))
	mux.Handle("/api/v1/appointments/cancel", authed(http.HandlerFunc(appointmentsHandler.Cancel)))
	mux.Handle("/api/v1/appointments/modify", authed(http.HandlerFunc(appointmentsHandler.Modify)))
	mux.Handle("/api/v1/appointments/complete", authed(http.HandlerFunc(appointmentsHandler.Complete)))
	mux.Handle("/api/v1/appointments/payments", authed(http.HandlerFunc(appointmentsHandler.RecordPayment)))
	mux.Handle("/api/v1/slots", authed(http.HandlerFunc(slotsHandler.Create)))
	mux.Handle("/api/v1/slots/", authed(http.HandlerFunc(slotsHandler.Delete)))
	mux.Handle("/api/v1/orders/payments", authed(http.HandlerFunc(ordersHandler.RecordPayment)))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		limiterMiddleware,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: splitCSV(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
		}),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "appointments")

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

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// route dispatches by method on a single path.
func route(byMethod map[string]http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := byMethod[r.Method]; ok {
			h(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
}
