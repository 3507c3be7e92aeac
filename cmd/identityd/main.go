package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/emberblog/identity/internal/cache"
	"github.com/emberblog/identity/internal/config"
	"github.com/emberblog/identity/internal/email"
	"github.com/emberblog/identity/internal/handler"
	"github.com/emberblog/identity/internal/linker"
	appMiddleware "github.com/emberblog/identity/internal/middleware"
	"github.com/emberblog/identity/internal/provider"
	"github.com/emberblog/identity/internal/registry"
	"github.com/emberblog/identity/internal/store"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	cfg.LogConfig(logger)

	ctx := context.Background()

	// Initialize the identity store
	pg, err := store.NewPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	// Initialize the provider-config cache (Redis or in-memory)
	var providerCache cache.Cache
	if cfg.ProviderCacheRedisEnabled && cfg.RedisEnabled {
		logger.Info("using Redis provider-config cache")
		redisCache, err := cache.NewRedis(&cache.RedisConfig{
			Host:   cfg.RedisHost,
			Port:   cfg.RedisPort,
			Proto:  cfg.RedisProto,
			Pass:   cfg.RedisPass,
			DB:     cfg.RedisDB,
			Prefix: cfg.ProviderCacheRedisPrefix,
		})
		if err != nil {
			return fmt.Errorf("creating Redis cache: %w", err)
		}
		defer redisCache.Close()
		providerCache = redisCache
	} else {
		logger.Info("using in-memory provider-config cache")
		providerCache = cache.NewMemory(cfg.ProviderCacheTTL)
	}

	// Outbound HTTP clients. Providers reachable only through an egress
	// proxy get the proxied client; the rest go direct.
	direct, err := provider.NewHTTPClient(provider.DefaultRequestTimeout, "")
	if err != nil {
		return fmt.Errorf("creating HTTP client: %w", err)
	}
	proxied, err := provider.NewHTTPClient(provider.DefaultRequestTimeout, cfg.OutboundProxy)
	if err != nil {
		return fmt.Errorf("creating proxied HTTP client: %w", err)
	}
	clients := provider.Clients{Direct: direct, Proxied: proxied}

	// Initialize provider registry and register the built-in factories
	providerRegistry := registry.New(pg, providerCache, clients, cfg.ProviderCacheTTL, logger)
	providerRegistry.RegisterFactory("weibo", provider.WeiboFactory)
	providerRegistry.RegisterFactory("google", provider.GoogleFactory)
	providerRegistry.RegisterFactory("github", provider.GitHubFactory)
	providerRegistry.RegisterFactory("facebook", provider.FacebookFactory)
	providerRegistry.RegisterFactory("qq", provider.QQFactory)

	if adapters, err := providerRegistry.Enabled(ctx); err != nil {
		logger.Warn("could not load provider configuration", "error", err)
	} else if len(adapters) == 0 {
		logger.Warn("no identity providers enabled")
	} else {
		for _, a := range adapters {
			logger.Info("enabled identity provider", "type", a.Type())
		}
	}

	// Email dispatch for the confirmation side channel
	sender := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPass)

	// Account linker
	lk := linker.New(pg, sender, cfg.LinkSecret, cfg.SiteURL, logger)

	// Initialize handlers
	handlers := handler.NewHandlers(cfg, providerRegistry, lk, pg, logger)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.Logger(logger))
	r.Use(middleware.Recoverer)

	// Session middleware
	sessionStore, err := appMiddleware.NewSessionStore(cfg)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}
	r.Use(appMiddleware.Session(sessionStore))

	// Routes
	handlers.Mount(r)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}

		close(done)
	}()

	logger.Info("starting server", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	logger.Info("server stopped")

	return nil
}
