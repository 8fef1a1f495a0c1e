package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nanobill/nanobill/internal/api"
	"github.com/nanobill/nanobill/internal/caps"
	"github.com/nanobill/nanobill/internal/clock"
	"github.com/nanobill/nanobill/internal/config"
	"github.com/nanobill/nanobill/internal/engine"
	"github.com/nanobill/nanobill/internal/feed"
	"github.com/nanobill/nanobill/internal/metrics"
	"github.com/nanobill/nanobill/internal/money"
	"github.com/nanobill/nanobill/internal/rates"
	"github.com/nanobill/nanobill/internal/session"
	"github.com/nanobill/nanobill/internal/settlement"
	"github.com/nanobill/nanobill/internal/storage"
	"github.com/nanobill/nanobill/internal/storage/bolt"
	"github.com/nanobill/nanobill/internal/storage/memory"
	"github.com/nanobill/nanobill/internal/storage/redis"
	"github.com/nanobill/nanobill/internal/systemd"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the nanobill server",
	Long:  `Start the metering engine with the HTTP API, websocket live feed and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting nanobill")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize the payer ledger
	ledger, err := openLedger(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Payer ledger initialized")

	clk := clock.RealClock{}

	// Initialize the rate table, seeded from configuration when present and
	// falling back to the built-in development rates otherwise.
	feeder := feederFromConfig(cfg.Rates)
	fiat, units, err := feeder.Fetch(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to fetch initial rates: %w", err)
	}
	table, err := rates.NewTable(fiat, units, clk, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize rate table: %w", err)
	}

	refresher := rates.NewRefresher(table, feeder, cfg.RatesRefreshInterval(), logger)
	refresher.Start()
	defer refresher.Stop()

	logger.Info().
		Dur("refresh_interval", cfg.RatesRefreshInterval()).
		Msg("Rate table initialized")

	// Initialize the metering core
	store := session.NewStore(clk, logger)
	enforcer := caps.NewEnforcer(ledger, cfg.Metering.AutoStop, logger)

	hub, err := feed.NewHub(cfg.Feed.BufferSize, cfg.Feed.ReplayCacheSize, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize feed hub: %w", err)
	}
	defer hub.Close()

	eng := engine.New(store, enforcer, hub, ledger, clk, cfg.TickInterval(), logger)

	coordinator := settlement.NewCoordinator(store, table, clk, logger)
	coordinator.OnChange(func(rec settlement.Record) {
		hub.PublishSettlement(feed.SettlementNote{
			SettlementID: rec.ID,
			SessionID:    rec.SessionID,
			Charged:      rec.Charged.String(),
			UnitAmount:   rec.UnitAmount.String(),
			Status:       string(rec.Status),
			TxRef:        rec.TxRef,
		})
	})

	logger.Info().
		Dur("tick_interval", cfg.TickInterval()).
		Bool("auto_stop", cfg.Metering.AutoStop).
		Msg("Metering engine initialized")

	// Start the tick loop
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go eng.Run(runCtx)

	// Start the API server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(apiAddr, eng, store, coordinator, table, hub, logger)
	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Start the metrics server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// Notify systemd that startup is complete
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd")
	}

	logger.Info().Msg("nanobill startup complete")
	logger.Info().Msgf("API: http://%s/api", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd")
	}

	cancelRun()

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}
	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("nanobill stopped")
	return nil
}

// openLedger opens the configured payer ledger backend.
func openLedger(cfg config.StorageConfig) (storage.PayerLedger, error) {
	switch cfg.Type {
	case "memory":
		return memory.Open(), nil
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// feederFromConfig builds the rate feeder, preferring configured rates over
// the built-in development defaults.
func feederFromConfig(cfg config.RatesConfig) *rates.StaticFeeder {
	if len(cfg.Fiat) == 0 && len(cfg.Units) == 0 {
		return rates.DefaultStaticFeeder()
	}

	feeder := &rates.StaticFeeder{
		FiatRates:  make(map[string]money.Amount, len(cfg.Fiat)),
		UnitPrices: make(map[string]money.Amount, len(cfg.Units)),
	}
	for code, rate := range cfg.Fiat {
		if amount, err := money.FromFloat64(rate); err == nil {
			feeder.FiatRates[code] = amount
		}
	}
	for symbol, price := range cfg.Units {
		if amount, err := money.FromFloat64(price); err == nil {
			feeder.UnitPrices[symbol] = amount
		}
	}
	return feeder
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
