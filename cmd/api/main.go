package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/scoutlink/unlock-api/internal/config"
	"github.com/scoutlink/unlock-api/internal/domain/grant"
	"github.com/scoutlink/unlock-api/internal/domain/identity"
	"github.com/scoutlink/unlock-api/internal/domain/pricing"
	"github.com/scoutlink/unlock-api/internal/domain/unlock"
	"github.com/scoutlink/unlock-api/internal/domain/wallet"
	"github.com/scoutlink/unlock-api/internal/middleware"
	"github.com/scoutlink/unlock-api/internal/pkg/database"
	"github.com/scoutlink/unlock-api/internal/pkg/email"
	"github.com/scoutlink/unlock-api/internal/pkg/jwt"
	"github.com/scoutlink/unlock-api/internal/pkg/logger"
	"github.com/scoutlink/unlock-api/internal/pkg/schema"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting unlock API")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.DefaultPool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	// Redis only backs the pricing cache and the pair lock; run without it.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = database.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, using in-process lock and no pricing cache")
			rdb = nil
		} else {
			defer database.CloseRedis(rdb)
		}
	}

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)
	inspector := schema.NewInspector(db, cfg.SchemaCacheTTL, cfg.StoreTimeout)

	// ---------- Ledger ----------
	walletRepo := wallet.NewRepository(db, wallet.Options{
		QueryTimeout: cfg.StoreTimeout,
		DedupeWindow: cfg.LedgerDedupeWindow,
	})
	walletService := wallet.NewService(walletRepo)

	// ---------- Grants / pricing / identities ----------
	grantStore := grant.NewStore(db, inspector, grant.WithTimeout(cfg.StoreTimeout))
	priceResolver := pricing.NewResolver(pricing.NewRepository(db), rdb, cfg.UnlockProductCode, cfg.PricingCacheTTL)
	identities := identity.NewResolver(db)

	// ---------- Notifications ----------
	var sender email.Sender = email.LogSender{}
	if cfg.NotificationsEnabled() {
		sender = email.NewSendGridClient(email.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		})
	}
	notifier := unlock.NewNotifier(sender, email.NewRenderer(), cfg.FrontendURL)

	var locker unlock.Locker = unlock.NewLocalLocker()
	if rdb != nil {
		locker = unlock.NewRedisLocker(rdb, cfg.UnlockLockTTL)
	}

	orchestrator := unlock.NewOrchestrator(unlock.Deps{
		Ledger:        walletService,
		Grants:        grantStore,
		Pricing:       priceResolver,
		Identities:    identities,
		Notifier:      notifier,
		Locker:        locker,
		NotifyTimeout: cfg.NotifyTimeout,
	})

	// ---------- Handlers ----------
	unlockHandler := unlock.NewHandler(orchestrator)
	walletHandler := wallet.NewHandler(walletService)
	authMiddleware := middleware.Auth(jwtService)

	r := newRouter(routeDeps{
		AllowedOrigins: cfg.AllowedOrigins,
		Auth:           authMiddleware,
		Unlocks:        unlockHandler.Routes(authMiddleware),
		Wallet:         walletHandler.Routes(authMiddleware),
		TopUp:          walletHandler.TopUp,
		Reset:          unlockHandler.Reset,
	})

	server := newServer(":"+cfg.Port, r)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let in-flight unlock notifications finish.
	orchestrator.Wait()

	log.Info().Msg("Server exited properly")
}
