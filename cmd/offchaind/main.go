package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"

	"vasppay/internal/chain"
	"vasppay/internal/common/database"
	"vasppay/internal/common/events"
	"vasppay/internal/common/middleware"
	"vasppay/internal/common/nats"
	"vasppay/internal/ingestion"
	"vasppay/internal/offchain/directory"
	"vasppay/internal/offchain/dispatcher"
	"vasppay/internal/offchain/handler"
	"vasppay/internal/offchain/payment"
	"vasppay/internal/offchain/preapproval"
	"vasppay/internal/offchain/settlement"
	"vasppay/internal/offchain/store"
	"vasppay/internal/settings"
	"vasppay/internal/wallet"
	walletapi "vasppay/internal/wallet/api"
	walletstore "vasppay/internal/wallet/store"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"OFFCHAIN_PORT" default:"8443"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	VASPAddress      string `envconfig:"VASP_ADDRESS" required:"true"`
	ComplianceKeyHex string `envconfig:"COMPLIANCE_KEY" required:"true"`
	ChainID          uint8  `envconfig:"CHAIN_ID" default:"2"`
	GasCurrency      string `envconfig:"GAS_CURRENCY" default:"XUS"`

	TravelRuleThreshold uint64        `envconfig:"TRAVEL_RULE_THRESHOLD" default:"1000000000"`
	DispatchInterval    time.Duration `envconfig:"DISPATCH_INTERVAL" default:"1s"`
	SettlementInterval  time.Duration `envconfig:"SETTLEMENT_INTERVAL" default:"5s"`
	IngestInterval      time.Duration `envconfig:"INGEST_INTERVAL" default:"2s"`
	OutboundTimeout     time.Duration `envconfig:"OUTBOUND_TIMEOUT" default:"30s"`
	InboundTimeout      time.Duration `envconfig:"INBOUND_TIMEOUT" default:"15s"`

	BlockedCountries []string `envconfig:"BLOCKED_COUNTRIES"`
	WatchlistNames   []string `envconfig:"WATCHLIST_NAMES"`

	Database database.Config
	NATS     nats.Config
	JSONRPC  chain.JSONRPCConfig
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	vaspAddress, err := chain.ParseAccountAddress(cfg.VASPAddress)
	if err != nil {
		logger.Error("invalid VASP address", "error", err)
		os.Exit(1)
	}
	complianceKey, err := parseComplianceKey(cfg.ComplianceKeyHex)
	if err != nil {
		logger.Error("invalid compliance key", "error", err)
		os.Exit(1)
	}
	hrp := chain.HRPForChainID(cfg.ChainID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var publisher events.Publisher
	natsClient, err := nats.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Warn("NATS unavailable; lifecycle events disabled", "error", err)
	} else {
		defer natsClient.Close()
		publisher = nats.NewPublisher(natsClient, logger)
	}

	chainClient := chain.NewJSONRPCClient(cfg.JSONRPC, logger)
	dir := directory.New(chainClient, logger)
	offStore := store.NewPostgresStore(db)

	walletService := wallet.NewService(wallet.Config{
		VASPAddress:      vaspAddress,
		HRP:              hrp,
		BlockedCountries: cfg.BlockedCountries,
		WatchlistNames:   cfg.WatchlistNames,
	}, walletstore.New(db), logger)

	payments := payment.NewMachine(payment.Config{
		VASPAddress:         vaspAddress,
		HRP:                 hrp,
		ComplianceKey:       complianceKey,
		TravelRuleThreshold: cfg.TravelRuleThreshold,
	}, offStore, walletService, dir, publisher, logger)
	preApprovals := preapproval.NewMachine(offStore, walletService, publisher, logger)

	myIdentifier, err := chain.EncodeAccountIdentifier(hrp, vaspAddress, chain.SubAddress{})
	if err != nil {
		logger.Error("failed to encode VASP identifier", "error", err)
		os.Exit(1)
	}
	client := dispatcher.NewClient(dir, complianceKey, myIdentifier, cfg.OutboundTimeout, logger)

	wireHandler := handler.New(hrp, complianceKey, dir, payments, preApprovals, logger)
	walletHandler := walletapi.NewHandler(walletService, payments, preApprovals, offStore, client)
	settingsHandler := settings.NewHandler(settings.Info{
		VASPAddress: vaspAddress.Hex(),
		Identifier:  myIdentifier,
		ChainID:     cfg.ChainID,
		PublicKey:   hex.EncodeToString(complianceKey.Public().(ed25519.PublicKey)),
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.SenderAddress)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(cfg.InboundTimeout))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	wireHandler.Register(r)
	settingsHandler.Register(r)
	r.Route("/api/v1/wallet", func(r chi.Router) {
		r.Mount("/", walletHandler.Routes())
	})

	disp := dispatcher.New(client, offStore, payments, preApprovals, hrp, cfg.DispatchInterval, logger)
	submitter := settlement.New(offStore, chainClient, payments, client, hrp, cfg.GasCurrency, cfg.SettlementInterval, logger)
	ingest := ingestion.NewWorker(chainClient, offStore, payments, walletService,
		ingestion.NewPGCursor(db, "inbound"), vaspAddress, cfg.IngestInterval, logger)

	go disp.Run(ctx)
	go submitter.Run(ctx)
	go ingest.Run(ctx)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting off-chain service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"vasp_address", vaspAddress.Hex(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

// parseComplianceKey accepts either a 32-byte Ed25519 seed or a 64-byte
// private key, hex encoded.
func parseComplianceKey(s string) (ed25519.PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("compliance key is not hex: %w", err)
	}
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	default:
		return nil, fmt.Errorf("compliance key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
	}
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
