// Command server runs the certificate API.
//
//	@title						Certificate Service API
//	@version					1.0
//	@description				Certificate issuance and public verification.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-cert-backend/internal/audit"
	"github.com/tbourn/go-cert-backend/internal/cache"
	"github.com/tbourn/go-cert-backend/internal/config"
	"github.com/tbourn/go-cert-backend/internal/coord"
	"github.com/tbourn/go-cert-backend/internal/csrf"
	httpapi "github.com/tbourn/go-cert-backend/internal/http"
	"github.com/tbourn/go-cert-backend/internal/observability"
	"github.com/tbourn/go-cert-backend/internal/ratelimit"
	"github.com/tbourn/go-cert-backend/internal/repo"
	"github.com/tbourn/go-cert-backend/internal/signing"
	"github.com/tbourn/go-cert-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogger(sysutil.LogOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Version: version,
		Env:     cfg.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	signer, err := signing.NewSigner(cfg.SigningKeySeed)
	if err != nil {
		return err
	}
	if cfg.SigningKeySeed == "" {
		log.Warn().Str("public_key", signer.PublicKey()).Msg("no signing key seed configured; using an ephemeral key")
	}

	var sink audit.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return err
		}
		sink = ks
	}

	responses := cache.New(store, cache.Options{
		Channel:   cfg.Cache.InvalidationChannel,
		LocalSize: localSize(cfg.Cache),
		LocalTTL:  cfg.Cache.LocalTTL,
		Policy:    coord.FailOpen,
	})
	auditLog := audit.New(db, sink)

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{
		DB:      db,
		Cache:   responses,
		Limiter: ratelimit.New(store, budgets(cfg.RateLimit)),
		CSRF:    csrf.New(store, cfg.CSRF.TTL),
		Signer:  signer,
		Audit:   auditLog,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("api_base", cfg.APIBasePath).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return responses.Run(gCtx) })
	g.Go(func() error { return auditLog.Run(gCtx) })
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// openStore connects to Redis when configured and falls back to the
// in-process store otherwise. Either way the store sits behind a breaker.
func openStore(ctx context.Context, cfg config.Config) (coord.Client, error) {
	var next coord.Client
	if cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set; coordination is local to this instance")
		next = coord.NewMemory()
	} else {
		rdb, err := coord.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		log.Info().Str("redis", sysutil.RedactURL(cfg.RedisURL)).Msg("coordination store connected")
		next = rdb
	}
	return coord.NewBreaker(next, coord.BreakerSettings{
		Name:     "coord",
		Failures: cfg.Breaker.Failures,
		Timeout:  cfg.Breaker.Timeout,
	}), nil
}

func localSize(c config.CacheConfig) int {
	if !c.LocalEnabled {
		return 0
	}
	return c.LocalSize
}

func budgets(rl config.RateLimitConfig) ratelimit.Budgets {
	out := ratelimit.DefaultBudgets()
	for class, b := range map[ratelimit.Class]config.Budget{
		ratelimit.ClassDefault:            rl.Default,
		ratelimit.ClassAuth:               rl.Auth,
		ratelimit.ClassVerification:       rl.Verification,
		ratelimit.ClassUserManagement:     rl.UserManagement,
		ratelimit.ClassTemplateManagement: rl.TemplateManagement,
	} {
		if b.Points > 0 && b.Window > 0 {
			out[class] = ratelimit.Budget{Points: b.Points, Window: b.Window}
		}
	}
	return out
}
