package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"stablecdp/native/cdp"
	"stablecdp/native/common"
	"stablecdp/observability"
	"stablecdp/observability/logging"
	telemetry "stablecdp/observability/otel"
	"stablecdp/services/cdpd/chain"
	"stablecdp/services/cdpd/config"
	"stablecdp/services/cdpd/oracle"
	"stablecdp/services/cdpd/server"
	"stablecdp/services/cdpd/service"
	"stablecdp/services/cdpd/storage"
)

func main() {
	var (
		cfgPath                       string
		allowInsecureBearerWithoutTLS bool
	)
	flag.StringVar(&cfgPath, "config", "services/cdpd/config.yaml", "path to cdpd configuration file")
	flag.BoolVar(&allowInsecureBearerWithoutTLS, "allow-insecure-bearer-without-tls", false, "allow admin bearer authentication without TLS (dev only)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CDPD_ENV"))
	logger := logging.Setup("cdpd", env)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("cdpd", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	var loadOptions []config.Option
	if allowInsecureBearerWithoutTLS {
		if env != "dev" {
			log.Fatalf("cdpd: --allow-insecure-bearer-without-tls requires CDPD_ENV=dev")
		}
		logger.Warn("allowing admin bearer token without TLS (development override)")
		loadOptions = append(loadOptions, config.WithAllowInsecureBearerWithoutTLS())
	}

	cfg, err := config.Load(cfgPath, loadOptions...)
	if err != nil {
		log.Fatalf("cdpd: load config: %v", err)
	}
	registry, err := config.LoadRegistry(cfg.PolicyPath)
	if err != nil {
		log.Fatalf("cdpd: load registry: %v", err)
	}
	engine, err := cdp.NewEngine(registry.Policy)
	if err != nil {
		log.Fatalf("cdpd: engine: %v", err)
	}

	dsn, err := storage.FileDSN(cfg.Database)
	if err != nil {
		log.Fatalf("cdpd: resolve storage DSN: %v", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("cdpd: open storage: %v", err)
	}
	defer store.Close()

	feed := buildFeed(cfg, registry, logger)

	pauses := common.NewPauseSwitch()
	svc, err := service.New(service.Config{
		Engine:     engine,
		Registry:   registry,
		Store:      store,
		Prices:     feed,
		Chain:      chain.NewLogAdapter(logger),
		Pauses:     pauses,
		Logger:     logger,
		Metrics:    observability.CDPMetrics(),
		MaxRetries: cfg.Service.MaxRetries,
	})
	if err != nil {
		log.Fatalf("cdpd: service: %v", err)
	}
	if cfg.Service.EmergencyShutdown {
		svc.SetShutdown(true, "configured at startup")
	}

	auth, err := server.NewAuthenticator(server.AuthConfig{
		BearerToken: cfg.Admin.BearerToken,
		AllowMTLS:   cfg.Admin.MTLS.Enabled,
		JWTSecret:   cfg.Admin.JWT.Secret,
		JWTIssuer:   cfg.Admin.JWT.Issuer,
		JWTAudience: cfg.Admin.JWT.Audience,
		ClockSkew:   cfg.Admin.JWT.ClockSkew.Duration,
	})
	if err != nil {
		logger.Warn("admin endpoints disabled", "error", err)
		auth = nil
	}

	srv, err := server.New(server.Config{
		ListenAddress:  cfg.ListenAddress,
		RequestTimeout: cfg.Service.RequestTimeout.Duration,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		TLS: buildTLS(cfg.Admin),
	}, svc, store, logger, auth)
	if err != nil {
		log.Fatalf("cdpd: server: %v", err)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(sigCtx)
	group.Go(func() error { return feed.Run(ctx) })
	group.Go(func() error { return srv.Run(ctx) })
	if err := group.Wait(); err != nil && sigCtx.Err() == nil {
		logger.Error("cdpd exited", "error", err)
		os.Exit(1)
	}
	logger.Info("cdpd stopped")
}

func buildFeed(cfg config.Config, registry config.Registry, logger *slog.Logger) *oracle.Feed {
	builder := oracle.NewRegistry()
	sources := make([]oracle.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		built, err := builder.Build(src.Name, src.Type, src.Endpoint, src.APIKey, src.Prices)
		if err != nil {
			log.Fatalf("cdpd: build source %s: %v", src.Name, err)
		}
		sources = append(sources, built)
	}

	decimals := make(map[string]uint8, len(registry.Collateral))
	for _, symbol := range registry.Symbols() {
		entry, _ := registry.Lookup(symbol)
		decimals[symbol] = entry.PriceDecimals
	}

	metrics := observability.CDPMetrics()
	feed, err := oracle.NewFeed(sources, decimals, cfg.Oracle.MaxAge.Duration, cfg.Oracle.Timeout.Duration,
		oracle.WithInterval(cfg.Oracle.Interval.Duration),
		oracle.WithLogger(logger),
		oracle.WithListener(oracle.ListenerFunc(func(_ context.Context, update oracle.Update) {
			metrics.RecordQuoteAge(update.CollateralType, time.Since(update.Price.AsOf.Time()))
		})),
	)
	if err != nil {
		log.Fatalf("cdpd: oracle feed: %v", err)
	}
	return feed
}

func buildTLS(admin config.AdminConfig) server.TLSConfig {
	if admin.TLS.Disable {
		return server.TLSConfig{Disabled: true}
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if admin.MTLS.Enabled {
		caData, err := os.ReadFile(admin.MTLS.ClientCAPath)
		if err != nil {
			log.Fatalf("cdpd: load admin client CA: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caData) {
			log.Fatalf("cdpd: parse admin client CA: %s", admin.MTLS.ClientCAPath)
		}
		tlsConfig.ClientCAs = pool
		// Public routes stay reachable without a client certificate.
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return server.TLSConfig{
		CertFile: admin.TLS.CertPath,
		KeyFile:  admin.TLS.KeyPath,
		Config:   tlsConfig,
	}
}
