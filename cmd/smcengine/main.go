package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"smc-engine/config"
	"smc-engine/internal/logger"
	"smc-engine/internal/smcengine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[smcengine] config: %v", err)
	}
	logger.Init("smcengine", logger.ParseLevel(cfg.LogLevel))
	log.Printf("[smcengine] enabled TFs: %v, period: %d, blocks: %d, snapshot interval: %ds",
		cfg.EnabledTFs, cfg.SwingPeriod, cfg.OrderBlockCount, cfg.SnapshotIntervalSec)

	svc, err := smcengine.New(cfg)
	if err != nil {
		log.Fatalf("[smcengine] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[smcengine] fatal: %v", err)
	}
}
