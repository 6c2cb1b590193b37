package main

import (
	"context"
	"embed"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erc7824/nitrolite/keynode/pkg/log"
	"github.com/erc7824/nitrolite/keynode/pkg/pkey"
	"github.com/erc7824/nitrolite/keynode/pkg/sign"
)

//go:embed config/migrations/*/*.sql
var embedMigrations embed.FS

func main() {
	bootLogger := log.NewZapLogger(log.Config{Format: "console", Level: log.LevelInfo, Output: "stderr"})

	config, err := LoadConfig(bootLogger)
	if err != nil {
		bootLogger.Fatal("failed to load configuration", "error", err)
	}

	logger := log.NewZapLogger(config.logConf).WithName("keynode")
	ctx := log.SetContextLogger(context.Background(), logger)

	db, err := ConnectToDB(config.dbConf, logger)
	if err != nil {
		logger.Fatal("failed to setup database", "error", err)
	}

	pemData, err := os.ReadFile(config.nodeKeyPath)
	if err != nil {
		logger.Fatal("failed to read node key", "path", config.nodeKeyPath, "error", err)
	}
	signer, err := sign.NewKeySignerFromPEM(pemData, pkey.DigestName(config.responseDigest))
	if err != nil {
		logger.Fatal("failed to initialise node signer", "error", err)
	}
	defer signer.Close()
	logger.Info("node signer initialized",
		"algorithm", signer.PublicKey().Algorithm(),
		"fingerprint", signer.PublicKey().Fingerprint(),
		"digest", signer.Digest())

	metrics := NewMetrics()
	keyStore := NewKeyStore(db)
	keyService := NewKeyService(keyStore, metrics)

	if err := keyService.ImportManifest(ctx, config.keys); err != nil {
		logger.Fatal("failed to import manifest keys", "error", err)
	}

	rpcNode := NewRPCNode(signer, logger)
	NewRPCRouter(rpcNode, config, signer, keyService, metrics, logger)

	rpcListenEndpoint := "/ws"
	rpcMux := http.NewServeMux()
	rpcMux.HandleFunc(rpcListenEndpoint, rpcNode.HandleConnection)

	rpcServer := &http.Server{
		Addr:    config.rpcListenAddr,
		Handler: rpcMux,
	}

	metricsEndpoint := "/metrics"
	metricsMux := http.NewServeMux()
	metricsMux.Handle(metricsEndpoint, promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    config.metricsListenAddr,
		Handler: metricsMux,
	}

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	go metrics.RecordMetricsPeriodically(metricsCtx, keyStore, logger)

	go func() {
		logger.Info("Prometheus metrics available", "listenAddr", config.metricsListenAddr, "endpoint", metricsEndpoint)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failure", "error", err)
		}
	}()

	go func() {
		logger.Info("RPC server available", "listenAddr", config.rpcListenAddr, "endpoint", rpcListenEndpoint)
		if err := rpcServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("RPC server failure", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	stopMetrics()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down metrics server", "error", err)
	}
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down RPC server", "error", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	logger.Info("shutdown complete")
}
