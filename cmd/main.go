/**
 * @description
 * This is the main entry point for the payment-service. It loads configuration, opens
 * the invoice store, connects the optional Redis and RabbitMQ collaborators, wires the
 * Paystack client into the initiator and reconciler, starts the overdue invoice
 * scheduler and serves HTTP until it receives SIGINT or SIGTERM.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Rate limiting for payment initialization.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/paystackclient, pkg/rabbitmq: Gateway and event bus clients.
 */
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/payment-service/internal/api"
	"github.com/transfa/payment-service/internal/app"
	"github.com/transfa/payment-service/internal/config"
	"github.com/transfa/payment-service/internal/store"
	"github.com/transfa/payment-service/pkg/paystackclient"
	"github.com/transfa/payment-service/pkg/rabbitmq"
)

// invoiceAndRoleStore is satisfied by both store implementations.
type invoiceAndRoleStore interface {
	store.InvoiceStore
	store.UserRoleStore
}

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting payment-service\" port=%s store=%s", cfg.ServerPort, cfg.StoreDriver)

	var repository invoiceAndRoleStore
	switch cfg.StoreDriver {
	case "memory":
		log.Println("level=warn component=bootstrap msg=\"using in-memory invoice store; state is lost on restart\"")
		repository = store.NewMemoryRepository()
	default:
		dbpool := openDatabase(cfg.DatabaseURL)
		defer dbpool.Close()
		repository = store.NewPostgresRepository(dbpool)
	}

	publisher := rabbitmq.ConnectPublisher(cfg.RabbitMQURL, "bootstrap")
	defer publisher.Close()

	var rateLimiter app.RateLimiter
	if redisClient := connectRedis(cfg); redisClient != nil {
		defer redisClient.Close()
		rateLimiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	paystack := paystackclient.NewClient(cfg.PaystackAPIBaseURL, cfg.PaystackSecretKey, cfg.GatewayTimeout())
	initiator := app.NewPaymentInitiator(paystack, cfg.PaystackCallbackURL, cfg.GatewayTimeout())
	verifier := app.NewSignatureVerifier(cfg.PaystackWebhookSecret)
	reconciler := app.NewWebhookReconciler(verifier, repository, publisher, cfg.BillingEventsExchange, cfg.StoreTimeout())
	gate := app.NewAccessGate(cfg.LoginPath)
	roles := app.NewRoleResolver(repository)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	jobs := app.NewJobs(repository, publisher, cfg.BillingEventsExchange, time.Duration(cfg.OverdueInvoiceAfterHours)*time.Hour, cfg.StoreTimeout(), logger)
	scheduler := app.NewScheduler(jobs, logger, cfg.OverdueInvoiceJobSchedule)
	if err := scheduler.Start(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"overdue invoice job disabled\" err=%v", err)
	}

	router := api.NewRouter(api.RouterConfig{
		Payments: api.NewPaymentHandlers(initiator, reconciler),
		Sessions: api.NewSessionHandlers(roles, repository, cfg.DashboardPath, cfg.AdminHomePath),
		Gate:     gate,
		Roles:    roles,
		Auth: api.AuthMiddlewareConfig{
			JWKSURL:             cfg.ClerkJWKSURL,
			ExpectedAudience:    cfg.ClerkAudience,
			ExpectedIssuer:      cfg.ClerkIssuer,
			AllowHeaderFallback: cfg.AuthAllowHeaderFallback,
		},
		AllowedOrigins:               cfg.AllowedOrigins(),
		DashboardPath:                cfg.DashboardPath,
		RateLimiter:                  rateLimiter,
		InitializeRateLimitPerMinute: cfg.InitializeRateLimitPerMinute,
		TrustProxyHeaders:            cfg.TrustProxyHeaders,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	<-scheduler.Stop().Done()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

func openDatabase(databaseURL string) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")
	return dbpool
}

func connectRedis(cfg config.Config) *redis.Client {
	if cfg.InitializeRateLimitPerMinute <= 0 {
		return nil
	}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; initialize rate limiting disabled\" env=REDIS_URL")
		return nil
	}

	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; initialize rate limiting disabled\" err=%v", err)
		return nil
	}

	redisClient := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; initialize rate limiting disabled\" err=%v", err)
		redisClient.Close()
		return nil
	}

	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return redisClient
}
