// Package main is the entry point for the fleet backend, the service
// that supervises one browser worker process per messaging profile.
//
// The server exposes:
//   - REST API for profile lifecycle and monitoring
//   - WebSocket push for alert events
//   - Prometheus metrics
//
// Configuration comes from environment variables, optionally overlaid
// by a YAML file named in FLEET_CONFIG.
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown, workers stopped last
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/profilium/fleet/backend/internal/infrastructure/config"
	"github.com/profilium/fleet/backend/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Close(ctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("server error: %v", err)
	}
}
