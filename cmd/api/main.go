package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/noah-isme/cart-pricing/internal/app"
	"github.com/noah-isme/cart-pricing/internal/auth"
	"github.com/noah-isme/cart-pricing/internal/cart"
	"github.com/noah-isme/cart-pricing/internal/common"
	"github.com/noah-isme/cart-pricing/internal/config"
	"github.com/noah-isme/cart-pricing/internal/health"
	"github.com/noah-isme/cart-pricing/internal/obs"
	"github.com/noah-isme/cart-pricing/internal/ratelimit"
)

const metricsNamespace = "cart"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("component", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   cfg.ServiceName,
		Endpoint:      cfg.OTLPEndpoint,
		SamplingRatio: cfg.TraceSampling,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise tracing")
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs.MustRegisterDomainMetrics(metricsNamespace, registry)
	httpMetrics := obs.NewHTTPMetrics(metricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), registry)

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	deps, err := app.Open(startCtx, cfg, logger, "cart-pricing-api")
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	limiterStore, err := ratelimit.NewStore(deps.Redis, ratelimit.DefaultPrefix)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limit store")
	}
	cartLimiter, err := ratelimit.New(limiterStore, cfg.RateLimitCart)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}

	router := newRouter(routerDeps{
		Logger:         logger,
		Metrics:        httpMetrics,
		Gatherer:       registry,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		BodyLimit:      cfg.BodyLimitBytes,
		Auth: auth.Middleware{Parser: auth.Verifier{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		}},
		Idempotency: common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL},
		RateLimit: ratelimit.Handler{
			Limiter: cartLimiter,
			OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
		},
		Health: health.Handler{Probes: map[string]health.Probe{
			"db":    health.DB(deps.DB),
			"redis": health.Redis(deps.Redis),
		}},
		Cart:        &cart.Handler{Svc: deps.Cart, Validate: validator.New()},
		EnablePprof: cfg.EnablePprof,
		PprofUser:   cfg.PprofUser,
		PprofPass:   cfg.PprofPass,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           obs.HTTPHandler(router, "cart-pricing-api"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown http server")
		}
	}()

	health.SetReady(true)
	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}
