package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/ingest"
	"github.com/joseph-ayodele/lecture-quiz/internal/server"
)

func main() {
	cfg := common.LoadConfig()
	logger, logCloser := common.NewLogger(cfg.Log)
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	if cfg.Ingest.WatchDir != "" {
		go func() {
			err := ingest.Watch(ctx, ingest.WatchConfig{
				Roots:       []string{cfg.Ingest.WatchDir},
				InitialScan: true,
				Debounce:    2 * time.Second,
				Logger:      logger,
			}, app.Ingestor)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("watcher stopped", "dir", cfg.Ingest.WatchDir, "error", err)
			}
		}()
	}

	grpcServer, healthServer := server.NewGRPCServer(app.Service, logger)
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
			os.Exit(1)
		}
		logger.Info("lectured grpc listening", "addr", cfg.Server.GRPCAddr)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC serve error", "error", err)
				stop()
			}
		}()
	}

	var httpServer *http.Server
	if cfg.Server.HTTPAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		httpServer = &http.Server{
			Addr: cfg.Server.HTTPAddr,
			Handler: server.NewHTTPHandler(app.Service, server.HTTPConfig{
				MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
			}, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.Info("lectured http listening", "addr", cfg.Server.HTTPAddr)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http serve error", "error", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}
	grpcServer.GracefulStop()
	app.Close(shutdownCtx)
	logger.Info("stopped")
}
