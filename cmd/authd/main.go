// Package main is the authd service entry point: authentication, ABAC
// authorization, and custodial embedded-wallet deposits/withdrawals.
package main

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vaultauth/core/domain/audit"
	"github.com/vaultauth/core/domain/credential"
	"github.com/vaultauth/core/domain/deposit"
	"github.com/vaultauth/core/domain/policy"
	"github.com/vaultauth/core/domain/ratelimit"
	"github.com/vaultauth/core/domain/session"
	"github.com/vaultauth/core/domain/settings"
	"github.com/vaultauth/core/domain/sidecar"
	"github.com/vaultauth/core/domain/wallet"
	"github.com/vaultauth/core/infrastructure/database"
	sllogging "github.com/vaultauth/core/infrastructure/logging"
	slmetrics "github.com/vaultauth/core/infrastructure/metrics"
	slmiddleware "github.com/vaultauth/core/infrastructure/middleware"
	"github.com/vaultauth/core/infrastructure/security"
	"github.com/vaultauth/core/internal/config"
)

// app bundles every constructed service so handlers and background workers
// close over a single value rather than a sprawl of package-level globals.
type app struct {
	cfg                *config.Config
	logger             *sllogging.Logger
	db                 *database.Repository
	settings           *settings.Cache
	sessions           *session.Service
	credentials        *credential.Manager
	wallets            *wallet.Service
	sidecar            *sidecar.Client
	deposits           *deposit.Service
	audit              *audit.Service
	engine             *policy.Engine
	redis              *redis.Client
	webhookReplayGuard *security.ReplayProtection
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("authd: load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("authd: invalid config: %v", err)
	}

	logger := sllogging.NewFromEnv("authd")

	a, err := buildApp(cfg, logger)
	if err != nil {
		log.Fatalf("authd: %v", err)
	}
	defer a.db.Close()
	defer a.wallets.Close()
	if a.redis != nil {
		defer a.redis.Close()
	}

	router := a.buildRouter()

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	a.startWorkers(workerCtx)

	shutdown := slmiddleware.NewGracefulShutdown(server, cfg.Server.ShutdownTimeout)
	shutdown.OnShutdown(func() {
		stopWorkers()
		logger.Info(context.Background(), "authd shutting down", nil)
	})
	shutdown.ListenForSignals()

	logger.Info(context.Background(), "authd listening", map[string]interface{}{"port": cfg.Server.Port})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("authd: server error: %v", err)
	}

	shutdown.Wait()
}

func buildApp(cfg *config.Config, logger *sllogging.Logger) (*app, error) {
	db, err := database.NewRepository(database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.Name,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	settingsCache := settings.New(db, logger)
	if err := settingsCache.Refresh(context.Background()); err != nil {
		logger.WithError(err).Warn("authd: initial settings refresh failed, serving defaults until next TTL")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	sessions := session.New(db)

	privateKey, err := credential.ParsePrivateKeyPEM([]byte(cfg.JWT.PrivateKeyPEM))
	if err != nil {
		return nil, err
	}
	credManager, err := credential.New(credential.Config{
		PrivateKey:        privateKey,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
		AccessTokenTTL:    cfg.JWT.AccessTokenTTL,
		RefreshTokenTTL:   cfg.JWT.RefreshTokenTTL,
		LegacyHS256Secret: cfg.JWT.LegacyHS256Secret,
		LegacyGraceUntil:  cfg.JWT.LegacyGraceUntil,
	}, db, logger)
	if err != nil {
		return nil, err
	}

	envelopeKey, err := decodeHexKey(cfg.Wallet.EnvelopeKeyHex)
	if err != nil {
		return nil, err
	}
	wallets := wallet.New(wallet.Config{
		MasterKey:     envelopeKey,
		RotationGrace: cfg.Wallet.RotationGrace,
		UnlockTTL:     cfg.Wallet.UnlockCacheTTL,
	}, db, logger)

	sidecarClient, err := sidecar.New(sidecar.Config{
		BaseURL:      cfg.Sidecar.BaseURL,
		ServiceID:    "authd",
		Timeout:      cfg.Sidecar.Timeout,
		MaxBodyBytes: cfg.Sidecar.MaxBodyBytes,
	}, logger)
	if err != nil {
		return nil, err
	}

	var noteEncryptionKey []byte
	if cfg.Privacy.NoteEncryptionKeyHex != "" {
		noteEncryptionKey, err = decodeHexKey(cfg.Privacy.NoteEncryptionKeyHex)
		if err != nil {
			return nil, err
		}
	}

	deposits := deposit.New(deposit.Config{
		RequiredConfirmations: cfg.Deposit.RequiredConfirmations,
		PublicDepositTTL:      cfg.Deposit.ExpiryWindow,
		NoteEncryptionKey:     noteEncryptionKey,
		DefaultPrivacyPeriod:  cfg.Privacy.DefaultPeriod,
		MaxWithdrawalAttempts: cfg.Privacy.WithdrawalMaxRetries,
	}, db, sidecarClient, wallets, logger)

	auditSvc := audit.New(db, audit.DefaultBackoffConfig(), logger)

	engine := policy.New(defaultPolicyRules())

	return &app{
		cfg:                cfg,
		logger:             logger,
		db:                 db,
		settings:           settingsCache,
		sessions:           sessions,
		credentials:        credManager,
		wallets:            wallets,
		sidecar:            sidecarClient,
		deposits:           deposits,
		audit:              auditSvc,
		engine:             engine,
		redis:              redisClient,
		webhookReplayGuard: security.NewReplayProtection(webhookReplayWindow, logger),
	}, nil
}

// defaultPolicyRules seeds the ABAC engine with the baseline rules this
// service enforces: a resource owner may always act on their own resource,
// and an explicit deny on a suspended account always wins.
func defaultPolicyRules() []policy.Rule {
	return []policy.Rule{
		{
			Action:       "*",
			ResourceType: "*",
			Effect:       policy.Deny,
			Expression:   `subject.Role === "suspended"`,
		},
		{
			Action:       "*",
			ResourceType: "*",
			Effect:       policy.Allow,
			Expression:   `resource.OwnerID === subject.ID`,
		},
		{
			Action:       "*",
			ResourceType: "*",
			Effect:       policy.Allow,
			Expression:   `subject.role === "admin"`,
		},
	}
}

func (a *app) buildRouter() *mux.Router {
	router := mux.NewRouter()

	router.Use(slmiddleware.LoggingMiddleware(a.logger))
	router.Use(slmiddleware.NewRecoveryMiddleware(a.logger).Handler)
	if slmetrics.Enabled() {
		collector := slmetrics.Init("authd")
		router.Use(slmiddleware.MetricsMiddleware("authd", collector))
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	router.Use(slmiddleware.NewCORSMiddleware(&slmiddleware.CORSConfig{
		AllowedOrigins:         a.cfg.Server.CORSOrigins,
		AllowedMethods:         []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:         []string{"Content-Type", "Authorization", a.cfg.CSRF.HeaderName},
		ExposedHeaders:         []string{"X-Trace-ID"},
		AllowCredentials:       true,
		MaxAgeSeconds:          3600,
		PreflightStatus:        http.StatusOK,
		RejectDisallowedOrigin: true,
	}).Handler)
	router.Use(slmiddleware.NewBodyLimitMiddleware(0).Handler)

	var rateStore ratelimit.Store
	if a.redis != nil {
		rateStore = ratelimit.NewSharedStore(a.redis, a.cfg.RateLimit.RedisKeyPrefix, a.logger)
	} else {
		rateStore = ratelimit.NewMemoryStore(a.logger)
	}
	limiter := ratelimit.NewLimiter(rateStore, ratelimit.Config{
		Window:      a.cfg.RateLimit.WindowSize,
		MaxRequests: a.cfg.RateLimit.MaxRequests,
	})

	a.registerRoutes(router, limiter)
	return router
}
