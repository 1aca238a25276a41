package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ari-apc-lab/croupier-backend/internal/api"
	"github.com/ari-apc-lab/croupier-backend/internal/auth"
	"github.com/ari-apc-lab/croupier-backend/internal/catalog"
	"github.com/ari-apc-lab/croupier-backend/internal/config"
	"github.com/ari-apc-lab/croupier-backend/internal/database"
	"github.com/ari-apc-lab/croupier-backend/internal/marketplace"
	"github.com/ari-apc-lab/croupier-backend/internal/orchestrator"
	"github.com/ari-apc-lab/croupier-backend/internal/reconciler"
	"github.com/ari-apc-lab/croupier-backend/internal/store"
	"github.com/ari-apc-lab/croupier-backend/internal/vault"
)

var (
	port        = flag.Int("port", 0, "API server port (overrides config)")
	metricsPort = flag.Int("metrics-port", 0, "Metrics server port (overrides config)")
	configFile  = flag.String("config", "configs/croupier.yaml", "Path to configuration file")
)

func main() {
	flag.Parse()

	log := newLogger()
	defer log.Sync()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *metricsPort != 0 {
		cfg.Server.MetricsPort = *metricsPort
	}

	db, err := database.Open(cfg.Database.Dialect, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	orch := orchestrator.NewClient(orchestrator.Config{
		Host:     cfg.Orchestrator.Host,
		Username: cfg.Orchestrator.Username,
		Password: cfg.Orchestrator.Password,
		Tenant:   cfg.Orchestrator.Tenant,
		Timeout:  cfg.OrchestratorTimeout(),
	}, log.Named("orchestrator"))

	execStore := store.NewExecutionStore(db)
	rec := reconciler.New(execStore, orch, log.Named("reconciler"))
	sync := catalog.New(db, log.Named("catalog"))

	var market *marketplace.Client
	if cfg.Marketplace.URL != "" {
		market = marketplace.NewClient(
			cfg.Marketplace.URL,
			cfg.Marketplace.ConsumerKey,
			cfg.Marketplace.ConsumerSecret,
			log.Named("marketplace"),
		)
	}

	intro := auth.NewIntrospector(
		cfg.Keycloak.IntrospectionEndpoint,
		cfg.Keycloak.ClientID,
		cfg.Keycloak.ClientSecret,
		log.Named("auth"),
	)

	server := api.NewServer(api.Deps{
		DB:           db,
		Orchestrator: orch,
		Reconciler:   rec,
		Executions:   execStore,
		Catalog:      sync,
		Vault:        vault.NewClient(cfg.Vault.Address, cfg.Vault.Port, log.Named("vault")),
		Marketplace:  market,
		AuthHandler:  auth.Middleware(intro, cfg.Keycloak.DevSecret, log.Named("auth")),
		Log:          log.Named("api"),
	})

	go startMetricsServer(cfg.Server.MetricsPort, log)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.Router(),
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down servers...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("API server shutdown error: %v", err)
		}
	}()

	log.Infof("Starting API server on port %d", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("API server error: %v", err)
	}
}

func newLogger() *zap.SugaredLogger {
	var logger *zap.Logger
	var err error
	if os.Getenv("CROUPIER_DEBUG") != "" {
		logger, err = zap.NewDevelopment()
	} else {
		gin.SetMode(gin.ReleaseMode)
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger.Sugar()
}

func startMetricsServer(port int, log *zap.SugaredLogger) {
	metricsRouter := gin.New()
	metricsRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: metricsRouter,
	}

	log.Infof("Starting metrics server on port %d", port)
	if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Errorf("Metrics server error: %v", err)
	}
}
