package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"contentlift_backend/internal/controller"
	"contentlift_backend/internal/middleware"
	"contentlift_backend/pkg/archive"
	"contentlift_backend/pkg/billing"
	"contentlift_backend/pkg/config"
	"contentlift_backend/pkg/cron"
	"contentlift_backend/pkg/database"
	"contentlift_backend/pkg/email"
	"contentlift_backend/pkg/lock"
	"contentlift_backend/pkg/metrics"
	"contentlift_backend/pkg/seed"
	"contentlift_backend/pkg/subscription"
	"contentlift_backend/pkg/telemetry"
	"contentlift_backend/pkg/utils/jwt"
)

func main() {
	cfg := config.Load()

	log := logrus.StandardLogger()
	log.SetLevel(cfg.LogLevel)
	log.SetFormatter(&logrus.JSONFormatter{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: "contentlift-billing",
		Insecure:    cfg.Telemetry.Insecure,
		SampleRate:  cfg.Telemetry.SampleRate,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("Could not initialize tracing")
	}

	store := openStore(cfg, log)
	if err := seed.SeedPlans(ctx, store, cfg.PlansFile); err != nil {
		log.WithError(err).Fatal("Could not seed subscription plans")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mtr := metrics.New(registry)

	opts := []subscription.Option{
		subscription.WithLogger(log),
		subscription.WithMetrics(mtr),
	}

	if cfg.Redis.URL != "" {
		client, err := lock.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			log.WithError(err).Fatal("Could not connect to redis")
		}
		defer client.Close()
		opts = append(opts, subscription.WithLocker(lock.NewRedisLocker(client, cfg.Redis.LockTTL)))
		log.Info("Using redis account locks")
	}

	var mailer *email.Service
	if cfg.Email.ResendAPIKey != "" {
		mailer, err = email.NewService(email.Config{
			APIKey:  cfg.Email.ResendAPIKey,
			From:    cfg.Email.From,
			BaseURL: cfg.Email.BaseURL,
			AppURL:  cfg.Server.AppURL,
		}, log)
		if err != nil {
			log.WithError(err).Fatal("Could not initialize email service")
		}
		opts = append(opts, subscription.WithNotifier(mailer))
	} else {
		log.Warn("RESEND_API_KEY is not set, lifecycle emails are disabled")
	}

	manager := subscription.NewManager(store, newProvider(cfg, log), subscription.Config{
		ProviderTimeout: cfg.Billing.ProviderTimeout,
		StoreTimeout:    cfg.Billing.StoreTimeout,
		PlanCacheTTL:    cfg.Billing.PlanCacheTTL,
	}, opts...)

	if mailer != nil {
		scheduler, err := cron.Start(cfg.Billing.ReminderSchedule, cron.NewRenewalReminder(store, mailer, log))
		if err != nil {
			log.WithError(err).Fatal("Could not initialize renewal reminder cron")
		}
		defer scheduler.Stop()
	}

	signer := jwt.NewSigner(cfg.JWT.Secret)
	if cfg.DevMode() {
		token, err := signer.GenerateToken("dev-account", "dev@contentlift.local")
		if err == nil {
			log.WithField("token", token).Warn("Development mode: use this bearer token for local requests")
		}
	}
	if cfg.Stripe.WebhookSecret == "" {
		log.Warn("STRIPE_WEBHOOK_SECRET is not set, webhooks will be rejected")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: controller.ErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.Server.CORSOrigins}))
	app.Use(middleware.Metrics(mtr))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	controller.SetupRoutes(app, controller.Handlers{
		Auth:          middleware.AuthMiddleware(signer),
		Subscriptions: controller.NewSubscriptionController(manager),
		Billing:       controller.NewBillingController(manager),
		Webhooks:      controller.NewWebhookController(manager, newArchiver(ctx, cfg, log), cfg.Stripe.WebhookSecret, log),
	})

	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("Server shutdown failed")
		}
	}()

	log.Infof("Server is running on port %s", cfg.Server.Port)
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.WithError(err).Error("Server stopped")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.WithError(err).Warn("Could not flush traces")
	}
}

func openStore(cfg *config.Config, log *logrus.Logger) subscription.Store {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL is not set, using the in-memory store")
		return subscription.NewMemoryStore()
	}

	db, err := database.Open(cfg.Database.URL)
	if err != nil {
		log.WithError(err).Fatal("Could not connect to database")
	}
	if err := database.Migrate(db, database.Models()...); err != nil {
		log.WithError(err).Fatal("Migration failed")
	}
	return database.NewGormStore(db)
}

func newProvider(cfg *config.Config, log *logrus.Logger) subscription.Provider {
	if cfg.Stripe.SecretKey == "" {
		log.Warn("STRIPE_SECRET_KEY is not set, using the sandbox billing provider")
		return billing.NewSandbox()
	}
	stripe := billing.NewStripeProvider(billing.StripeConfig{
		SecretKey: cfg.Stripe.SecretKey,
		BaseURL:   cfg.Stripe.BaseURL,
		Logger:    log,
	})
	return billing.NewRateLimited(stripe, cfg.Billing.ProviderRPS, cfg.Billing.ProviderBurst)
}

func newArchiver(ctx context.Context, cfg *config.Config, log *logrus.Logger) archive.Archiver {
	if cfg.Archive.Bucket == "" {
		return archive.Discard{}
	}
	archiver, err := archive.NewS3Archiver(ctx, archive.Config{
		Bucket:          cfg.Archive.Bucket,
		Region:          cfg.Archive.Region,
		Endpoint:        cfg.Archive.Endpoint,
		AccessKeyID:     cfg.Archive.AccessKeyID,
		SecretAccessKey: cfg.Archive.SecretAccessKey,
	})
	if err != nil {
		log.WithError(err).Fatal("Could not initialize event archive")
	}
	log.WithField("bucket", cfg.Archive.Bucket).Info("Archiving webhook payloads to S3")
	return archiver
}
