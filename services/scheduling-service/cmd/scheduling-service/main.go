package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/caredesk/clinicsched/libs/auth"
	"github.com/caredesk/clinicsched/libs/config"
	"github.com/caredesk/clinicsched/libs/db"
	"github.com/caredesk/clinicsched/libs/httpx"
	"github.com/caredesk/clinicsched/libs/kafkax"
	otelx "github.com/caredesk/clinicsched/libs/otel"
	"github.com/caredesk/clinicsched/libs/runtime"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/booking"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/consumer"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/directory"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/handlers"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/inbox"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8085")
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

	outboxRepo := outbox.NewRepository(pool)
	apptRepo := storage.NewAppointmentRepository(pool, outboxRepo)
	templateRepo := storage.NewTemplateRepository(pool)
	idemRepo := storage.NewIdempotencyRepository(pool)

	// The pg provider reads replicated directory tables directly; the remote
	// provider takes over once the directory service's gRPC API is generated
	// and deployed.
	var dir directory.Provider = directory.NewPGProvider(pool)
	if remote, err := directory.NewRemoteProvider(config.String("DIRECTORY_GRPC_ADDR", "")); err != nil {
		logger.Error("directory grpc provider init failed; using pg provider", "err", err)
	} else if remote != nil {
		dir = remote
	}

	svc := booking.NewService(apptRepo, templateRepo, dir, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	if brokers := strings.TrimSpace(config.String("KAFKA_BROKERS", "")); brokers != "" {
		inboxRepo := inbox.NewRepository(pool)
		eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "scheduling-service"),
			Topic:   config.String("KAFKA_CONSUME_TOPIC", consumer.TopicPractitionerDeactivated),
		}, consumer.NewDirectoryHandler(svc, logger))
		go eventConsumer.Run(ctx)
	}

	var jwksClient *auth.JWKSClient
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		jwksTTL := 300
		if v, err := strconv.Atoi(config.String("JWKS_CACHE_SECONDS", "300")); err == nil && v > 0 {
			jwksTTL = v
		}
		jwksClient = auth.NewJWKSClient(jwksURL, time.Duration(jwksTTL)*time.Second)
	}
	authenticator := &handlers.Authenticator{
		Secret: config.String("JWT_SECRET", "dev-secret"),
		JWKS:   jwksClient,
	}

	staff := handlers.NewStaffHandler(svc, logger)
	channel := handlers.NewChannelHandler(svc, idemRepo, config.String("CHANNEL_API_KEY", ""), logger)

	limitPerMinute := 60
	if v, err := strconv.Atoi(config.String("RATE_LIMIT_PER_MINUTE", "60")); err == nil && v > 0 {
		limitPerMinute = v
	}
	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		redisDB := 0
		if v, err := strconv.Atoi(config.String("REDIS_DB", "0")); err == nil && v >= 0 {
			redisDB = v
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, isTruthy(config.String("RATE_LIMIT_FAIL_OPEN", "true")))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)

	// Public channel surface: API key auth, rate limited.
	mux.Handle("/api/v1/public/slots", rateLimitMW(http.HandlerFunc(channel.Slots)))
	mux.Handle("/api/v1/public/book", rateLimitMW(http.HandlerFunc(channel.Book)))

	// Staff surface: JWT auth.
	requireAuth := authenticator.Middleware
	mux.Handle("/api/v1/slots", requireAuth(http.HandlerFunc(staff.Slots)))
	mux.Handle("/api/v1/appointments", requireAuth(http.HandlerFunc(staff.Appointments)))
	mux.Handle("/api/v1/appointments/reschedule", requireAuth(http.HandlerFunc(staff.Reschedule)))
	mux.Handle("/api/v1/appointments/status", requireAuth(http.HandlerFunc(staff.TransitionStatus)))
	mux.Handle("/api/v1/appointments/cancel", requireAuth(http.HandlerFunc(staff.Cancel)))
	mux.Handle("/api/v1/templates", requireAuth(http.HandlerFunc(staff.Templates)))
	mux.Handle("/api/v1/templates/deactivate", requireAuth(http.HandlerFunc(staff.DeactivateTemplate)))

	bodyLimit := int64(1 << 20)
	if v, err := strconv.Atoi(config.String("REQUEST_BODY_LIMIT_BYTES", "1048576")); err == nil && v > 0 {
		bodyLimit = int64(v)
	}
	requestTimeout := 10 * time.Second
	if v, err := strconv.Atoi(config.String("REQUEST_TIMEOUT_SECONDS", "10")); err == nil && v > 0 {
		requestTimeout = time.Duration(v) * time.Second
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,X-Tenant-Id,X-Api-Key,Idempotency-Key")),
			AllowCredentials: isTruthy(config.String("CORS_ALLOW_CREDENTIALS", "false")),
			MaxAge:           10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(bodyLimit),
		httpx.WithTimeout(requestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
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

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func isTruthy(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}
