package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hostping/hostping/internal/api"
	"github.com/hostping/hostping/internal/eventbus"
	"github.com/hostping/hostping/internal/globals"
	"github.com/hostping/hostping/internal/hosts"
	"github.com/hostping/hostping/internal/probe"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	dumpConfig := flag.Bool("dump-config", false, "print an example configuration and exit")
	flag.Parse()

	if *dumpConfig {
		if err := globals.DumpExampleConfig(os.Stdout); err != nil {
			slog.Error("Failed to render example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg := globals.InitGlobal(*configPath)

	// Initialize structured logger
	logger := globals.InitLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("Starting hostping server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"hosts_file", cfg.Hosts.File,
	)

	// Event bus shared by the trigger and stream handlers
	bus := eventbus.New(cfg.Channel.Capacity)
	logger.Info("Event bus initialized", "capacity", bus.Capacity())

	directory := hosts.NewFileDirectory(cfg.Hosts.File)

	prober := probe.NewProber(probe.Options{
		ConnectTimeout:   cfg.Probe.ConnectTimeout(),
		HandshakeTimeout: cfg.Probe.HandshakeTimeout(),
		AuthTimeout:      cfg.Probe.AuthTimeout(),
	}, logger)

	router := api.NewRouter(api.Dependencies{
		Bus:    bus,
		Hosts:  directory,
		Runner: prober,
		Logger: logger,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}
	// Streams never go idle, so they are ended by closing the bus.
	srv.RegisterOnShutdown(func() {
		_ = bus.Close()
	})

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	_ = bus.Close()

	logger.Info("Server stopped gracefully")
}
