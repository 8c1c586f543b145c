package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tax-connect/pos-connector/internal/config"
	"github.com/tax-connect/pos-connector/internal/onboarding"
	"github.com/tax-connect/pos-connector/internal/platform/logger"
)

func startSessionSweeper() {

	logger.InitLogger()

	logger.Log.Info("Starting POS-Connector session sweeper")

	cfg := config.GetConfig()
	logger.Log.Info("POS-Connector configuration:\n", cfg)

	sessionStore, _ := buildSessionStore(cfg)

	sweeper := onboarding.NewSweeper(sessionStore, cfg.SessionSweepInterval)

	ctx, cancel := context.WithCancel(context.Background())

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signalChan
		logger.Log.Info("Received signal to shutdown: ", sig)
		cancel()
	}()

	sweeper.Run(ctx)

	logger.Log.Info("POS-Connector session sweeper shutting down")
}
