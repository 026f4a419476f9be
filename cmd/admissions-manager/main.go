// cmd/admissions-manager/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"admissions-workers/internal/app"
	"admissions-workers/internal/common/config"
	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/common/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting admissions manager...",
		zap.String("environment", cfg.App.Environment),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("camunda", cfg.Camunda.Enabled))

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{Ops: obs})
	if err != nil {
		zapLog.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		zapLog.Error("admissions manager stopped with error", zap.Error(err))
		return
	}
	zapLog.Info("Admissions manager stopped")
}
