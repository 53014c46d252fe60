package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/health-reports/internal/app"
	"github.com/joseph-ayodele/health-reports/internal/common"
	"github.com/joseph-ayodele/health-reports/internal/server"
)

func main() {
	cfg := common.LoadConfig()
	logger := app.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(2)
	}
	defer a.Close(context.Background())

	var runs server.RunReader
	if a.Store != nil {
		runs = a.Store
	} else {
		logger.Warn("STORE_DSN not set, GetRun is disabled")
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}

	svc := server.NewReportService(a.Pipeline, runs, logger)
	grpcServer, healthServer := server.NewGRPCServer(svc, logger)

	serveErr := make(chan error, 1)
	logger.Info("healthparsed listening", "addr", cfg.Server.GRPCAddr)
	go func() {
		serveErr <- grpcServer.Serve(lis)
	}()

	if a.Store != nil {
		go probeStore(ctx, a, healthServer, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		logger.Error("gRPC serve error", "error", err)
	}
	healthServer.Shutdown()
	grpcServer.GracefulStop()
}

// probeStore flips the service to NOT_SERVING while the run store is unreachable.
func probeStore(ctx context.Context, a *app.App, hs *health.Server, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := grpc_health_v1.HealthCheckResponse_SERVING
			if err := a.PingStore(ctx, 5*time.Second); err != nil {
				status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			}
			hs.SetServingStatus(server.ServiceName, status)
		}
	}
}
