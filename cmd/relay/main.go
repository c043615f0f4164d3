package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xelth-com/posyncgo/internal/buildinfo"
	"github.com/xelth-com/posyncgo/internal/config"
	"github.com/xelth-com/posyncgo/internal/relay"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("🚀 posync relay starting (built %s)", buildinfo.BuildTime)

	// 2. Start the relay server
	server := relay.NewServer(cfg.Relay)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 3. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Relay server failed: %v", err)
		}
	case sig := <-quit:
		log.Printf("🛑 Received %s, shutting down...", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("⚠️ Shutdown error: %v", err)
		}
		log.Println("✅ Relay stopped")
	}
}
