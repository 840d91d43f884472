package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"subtrack/internal/amqp"
	"subtrack/internal/backend"
	"subtrack/internal/cache"
	"subtrack/internal/config"
	"subtrack/internal/core"
	apphttp "subtrack/internal/http"
	"subtrack/internal/log"
	"subtrack/internal/rates"
	"subtrack/internal/services"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: log.ComponentApp,
		Format:    "text",
		Output:    os.Stdout,
	})
	log.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer result.Close()

	ratesCfg, err := ratesConfig(cfg, logger)
	if err != nil {
		logger.Error("Invalid rate endpoints", "error", err)
		os.Exit(1)
	}
	ratesSvc := rates.NewService(ratesCfg)
	defer ratesSvc.Close()
	go ratesSvc.Run(ctx)

	// Rate updates are announced on the broker when one is configured
	var publisher services.RatesPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, 3, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, rate updates will not be published", "error", err)
		} else {
			defer client.Close()
			publisher = client
		}
	}

	subs := services.NewSubscriptionService(result.Store, logger)
	agg := services.NewAggregator(ratesSvc, cfg.RenewalWindowDays, logger)

	srv := apphttp.NewServer(apphttp.Options{
		Addr:              ":" + cfg.Port,
		Subscriptions:     subs,
		Aggregator:        agg,
		Rates:             ratesSvc,
		ReportingCurrency: core.Currency(cfg.ReportingCurrency),
		SummaryCacheTTL:   cfg.SummaryCacheTTL,
		RefreshWait:       10 * time.Second,
		Checks: map[string]apphttp.CheckFunc{
			"store": result.Ping,
		},
		Logger: logger,
	})

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	snaps, unsubscribe := ratesSvc.Subscribe()
	defer unsubscribe()
	go services.RelayRateUpdates(ctx, snaps, publisher, func(rates.Snapshot) { srv.Invalidate() }, logger)

	caches := cache.NewManager(logger)
	caches.Register("summary", srv.SummaryCache())
	go caches.Run(ctx, time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting subtrack server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"reporting_currency", cfg.ReportingCurrency)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		cancel()
		<-done
		os.Exit(1)
	}

	<-done
	logger.Info("Server stopped gracefully")
}

// ratesConfig builds the rate service configuration. Empty endpoint lists
// select the built-in providers.
func ratesConfig(cfg *config.Config, logger *log.Logger) (rates.Config, error) {
	rc := rates.DefaultConfig()
	rc.Crypto = rates.DefaultCryptoEndpoints(cfg.CoinMarketCapKey)

	if len(cfg.RatesFiatEndpoints) > 0 {
		eps, err := rates.ParseEndpoints(rates.GroupFiat, cfg.RatesFiatEndpoints, cfg.CoinMarketCapKey)
		if err != nil {
			return rates.Config{}, err
		}
		rc.Fiat = eps
	}
	if len(cfg.RatesCryptoEndpoints) > 0 {
		eps, err := rates.ParseEndpoints(rates.GroupCrypto, cfg.RatesCryptoEndpoints, cfg.CoinMarketCapKey)
		if err != nil {
			return rates.Config{}, err
		}
		rc.Crypto = eps
	}

	rc.RequestTimeout = cfg.RatesRequestTimeout
	rc.RefreshInterval = cfg.RatesRefreshInterval
	rc.MaxRetries = cfg.RatesMaxRetries
	rc.RetryStep = cfg.RatesRetryStep
	rc.Logger = logger
	return rc, nil
}
