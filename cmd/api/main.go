package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"authgate/internal/config"
	"authgate/internal/db"
	"authgate/internal/email"
	apihttp "authgate/internal/http"
	"authgate/internal/identity"
	"authgate/internal/repository"
	"authgate/internal/secrets"
	"authgate/internal/service"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	var vault secrets.Source
	if vaultURL := os.Getenv("VAULT_URL"); vaultURL != "" {
		vault = secrets.NewVaultClient(vaultURL, os.Getenv("VAULT_TOKEN"))
	}

	cfg, err := config.Resolve(ctx, vault)
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if err := db.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	var limiter service.RateLimiter
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			limiter = service.NewRedisMailRateLimiter(redisClient, 10*time.Minute, 3)
		}
		cancel()
	}

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	var providers []identity.Provider
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		providers = append(providers, identity.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleCallbackURL))
	}
	if cfg.VippsClientID != "" && cfg.VippsClientSecret != "" {
		providers = append(providers, identity.NewVippsProvider(cfg.VippsClientID, cfg.VippsClientSecret, cfg.VippsCallbackURL, cfg.VippsBaseURL))
	}

	accountRepo := repository.NewPgAccountRepository(pool)
	tokenServ := service.NewTokenService(cfg.SecretKey, cfg.SessionTTL(), cfg.VerificationTTL(), cfg.ResetTTL())
	notifier := service.NewNotificationService(logger, emailSender, cfg.BaseURL)
	accountServ := service.NewAccountService(logger, accountRepo, tokenServ, notifier, limiter)

	authHandler := apihttp.NewAuthHandler(logger, accountServ, tokenServ, providers)
	router := apihttp.NewRouter(logger, authHandler, tokenServ)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
