package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/amocrm-adapter/internal/amocrm"
	"github.com/Checker-Finance/amocrm-adapter/internal/api"
	"github.com/Checker-Finance/amocrm-adapter/internal/lock"
	"github.com/Checker-Finance/amocrm-adapter/internal/publisher"
	internalsecrets "github.com/Checker-Finance/amocrm-adapter/internal/secrets"
	"github.com/Checker-Finance/amocrm-adapter/pkg/config"
	"github.com/Checker-Finance/amocrm-adapter/pkg/logger"
	"github.com/Checker-Finance/amocrm-adapter/pkg/secrets"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [amocrm-adapter]...")

	// --- Optional credential overlay from AWS Secrets Manager ---
	if cfg.SecretID != "" {
		awsProvider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		resolver := internalsecrets.NewCredentialResolver(logger.L(), awsProvider)
		if _, err := resolver.Apply(ctx, cfg.SecretID, cfg); err != nil {
			logg.Warnw("amocrm credentials not loaded from AWS; using environment", "error", err)
		}
	}

	if missing := cfg.Missing(); len(missing) > 0 {
		logg.Warnw("amocrm configuration incomplete; affected calls will fail", "missing", missing)
	}

	// --- Token store ---
	tokens := amocrm.NewTokenStore(logger.L(), amocrm.Credentials{
		ClientID:          cfg.ClientID,
		ClientSecret:      cfg.ClientSecret,
		RedirectURI:       cfg.RedirectURI,
		AuthorizationCode: cfg.Code,
		Subdomain:         cfg.Subdomain,
	}, cfg.AuthBaseURL, cfg.TokenFile)
	if err := tokens.Load(ctx); err != nil {
		// the service still starts; CRM calls fail until POST /amo-crm/token/refresh succeeds
		logg.Errorw("amocrm token unavailable", "error", err)
	}

	health := api.Health{Tokens: tokens}

	// --- Contact lock (Redis when configured, in-process otherwise) ---
	var locker amocrm.Locker = lock.NewLocal()
	var redisLock *lock.Redis
	if cfg.RedisAddr != "" {
		rl, err := lock.NewRedis(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, cfg.LockTTL, cfg.LockWait, logger.L())
		if err != nil {
			logg.Fatalw("failed to init redis lock", "error", err)
		}
		redisLock = rl
		locker = rl
		health.Store = rl
	}

	// --- Event publisher (optional) ---
	var events amocrm.EventPublisher
	var pub *publisher.Publisher
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err = publisher.New(nc, cfg.NATSSubjectPrefix, cfg.ServiceName, logger.L())
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
		events = pub
		health.Events = pub
	}

	// --- amoCRM client + service ---
	client := amocrm.NewClient(logger.L(), cfg.APIURI, tokens, cfg.CRMTimeout, cfg.CRMRetryMax)
	svc := amocrm.NewService(logger.L(), client, amocrm.LeadSettings{
		ResponsibleUserID: cfg.ResponsibleUserID,
		PipelineID:        cfg.PipelineID,
		StatusID:          cfg.StatusID,
	}, locker, events)

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	})
	app.Use(logger.FiberMiddleware(logger.L()))

	handler := api.NewAmoCRMHandler(logger.L(), svc, tokens)
	if cfg.AdminToken == "" {
		logg.Warnw("AMOCRM_ADMIN_TOKEN not set; POST /amo-crm/token/refresh is open to any caller")
	} else {
		app.All("/log-level", api.AdminAuth(cfg.AdminToken), adaptor.HTTPHandler(logger.LevelHandler()))
	}
	api.RegisterRoutes(app, health, handler, cfg.AdminToken)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[amocrm-adapter] running",
		"env", cfg.Env,
		"redis", cfg.RedisAddr != "",
		"nats", cfg.NATSURL != "")

	<-ctx.Done()
	logg.Info("shutting down [amocrm-adapter]...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if pub != nil {
		if err := pub.Drain(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
	}
	if redisLock != nil {
		if err := redisLock.Close(); err != nil {
			logg.Warnw("redis.close_failed", "error", err)
		}
	}
}
