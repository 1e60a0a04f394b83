package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/roomrelay/internal/logger"
	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "roomrelay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return err
	}

	log := logger.Init(logger.Config{
		Service: server.ServiceName,
		Version: server.ServiceVersion,
		Env:     cfg.Log.Env,
		Level:   logger.ParseLevel(cfg.Log.Level),
		Format:  logger.Format(cfg.Log.Format),
	})

	registry := relay.NewRegistry()
	router := relay.NewRouter(registry)

	hub := server.NewHub(log)
	hub.SetDispatcher(relay.NewHandler(registry, router, hub, log))
	go hub.Run()

	httpServer := server.CreateServer(cfg.Addr(), server.NewRouter(hub, registry, cfg, log))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer, log)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		if err != nil {
			_ = hub.Shutdown(cfg.ShutdownTimeout)
			return err
		}
	case sig := <-quit:
		log.Info("received shutdown signal", "signal", sig.String())
	}

	// Close websocket clients first; hijacked connections are not tracked by
	// http.Server.Shutdown.
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("hub shutdown incomplete", slog.Any("err", err))
	}
	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
		return err
	}

	log.Info("server stopped")
	return nil
}
