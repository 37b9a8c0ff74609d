package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/server"
)

func main() {
	fmt.Println("Starting chat relay server...")

	// A .env file is optional; the environment wins either way.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load .env file: %v\n", err)
		os.Exit(1)
	}

	cfg := server.NewConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath, cfg.LogConsole); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	engine := server.NewEngine(cfg)
	go engine.Run()

	tcpServer := server.NewTCPServer(engine, cfg)
	errs := make(chan error, 2)
	go func() {
		if err := tcpServer.Start(); err != nil {
			errs <- fmt.Errorf("tcp listener: %w", err)
		}
	}()

	var gateway *server.Gateway
	if cfg.WSPort > 0 {
		gateway = server.NewGateway(engine, cfg)
		go func() {
			if err := gateway.Start(); err != nil {
				errs <- fmt.Errorf("websocket gateway: %w", err)
			}
		}()
	}

	logger.Info("Chat relay server ready (tcp=%s, ws=%s)", cfg.Addr(), cfg.WSAddr())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("Received signal %v, shutting down", sig)
	case err := <-errs:
		logger.Error("Listener failed: %v", err)
	}

	tcpServer.Stop()
	if gateway != nil {
		if err := gateway.Shutdown(cfg.ShutdownTimeout); err != nil {
			logger.Warn("Gateway shutdown error: %v", err)
		}
	}
	if err := engine.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("Engine shutdown did not finish cleanly: %v", err)
	}

	fmt.Println("Server stopped.")
}
