package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"aigency/internal/agent"
	"aigency/internal/auth"
	"aigency/internal/billing"
	"aigency/internal/cache"
	"aigency/internal/config"
	"aigency/internal/facebook"
	"aigency/internal/httpserver"
	"aigency/internal/llm"
	"aigency/internal/logging"
	"aigency/internal/metrics"
	"aigency/internal/repo"
	"aigency/internal/search"
	"aigency/internal/seal"
)

const sessionSweepInterval = time.Hour

func serve(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting aigency", "env", cfg.AppEnv, "app_url", cfg.AppURL)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repository.Close()

	if err := runMigrations(ctx, cfg, repository); err != nil {
		return err
	}
	logger.Info("database migrated", "driver", cfg.DatabaseDriver)

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	sealer, err := seal.New(key)
	if err != nil {
		return fmt.Errorf("init sealer: %w", err)
	}

	provider := llm.NewOpenAIProvider(llm.Config{
		APIKey:    cfg.LLMAPIKey,
		BaseURL:   cfg.LLMBaseURL,
		Model:     cfg.LLMModel,
		MaxTokens: cfg.LLMMaxTokens,
		Timeout:   cfg.LLMTimeout,
	}, metricRegistry, logger)

	searcher := search.NewDuckDuckGo(search.Config{RatePerSecond: cfg.SearchRateLimit}, redisClient, metricRegistry, logger)
	chatAgent := agent.New(provider, repository, searcher, metricRegistry, logger, cfg.LLMMaxTokens)

	var gateway billing.Gateway
	if cfg.StripeConfigured() {
		gateway = billing.NewStripeGateway(cfg.StripeSecretKey, logger)
	} else {
		logger.Warn("stripe not configured, checkout disabled")
	}
	packages := billing.Packages(billing.PriceIDs{
		Starter: cfg.StripePriceStarter,
		Growth:  cfg.StripePriceGrowth,
		Pro:     cfg.StripePricePro,
	})
	billingService := billing.NewService(gateway, repository, packages, cfg.AppURL, logger)

	var handlers httpserver.Handlers
	if cfg.StripeWebhookSecret != "" {
		processor := billing.NewCreditProcessor(repository, metricRegistry, logger)
		handlers.StripeWebhook = billing.NewWebhookHandler(logger, metricRegistry, cfg.StripeWebhookSecret, processor)
	}

	authService := auth.NewService(repository, redisClient, billingService, logger)

	graph := facebook.New(facebook.Config{BaseURL: cfg.GraphBaseURL()}, logger, metricRegistry)
	var fbOAuth *facebook.OAuthConfig
	if cfg.FacebookConfigured() {
		fbOAuth = &facebook.OAuthConfig{
			ClientID:     cfg.FacebookClientID,
			ClientSecret: cfg.FacebookClientSecret,
			Version:      cfg.FacebookAPIVersion,
		}
	} else {
		logger.Warn("facebook app not configured, oauth flows disabled")
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, handlers, httpserver.Dependencies{
		Repository:    repository,
		Auth:          authService,
		Agent:         chatAgent,
		Billing:       billingService,
		Facebook:      graph,
		FacebookOAuth: fbOAuth,
		Nonces:        redisClient,
		Sealer:        sealer,
		AppURL:        strings.TrimRight(cfg.AppURL, "/"),
		SecureCookies: cfg.IsProduction(),
	}, cfg.PublicBasePath)

	go sweepSessions(ctx, repository, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

// sweepSessions removes expired sessions until ctx is done.
func sweepSessions(ctx context.Context, repository repo.Repository, logger *slog.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := repository.DeleteExpiredSessions(ctx, time.Now())
			if err != nil {
				logger.Warn("session sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("expired sessions removed", "count", removed)
			}
		}
	}
}
