// Command contextgw runs the context gateway performance server: MCP tools
// over stdio plus an HTTP admin surface for health, metrics, and rollback
// inspection.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"contextgw-backend/internal/di"
	mcpiface "contextgw-backend/internal/interfaces/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "contextgw: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	container, err := di.NewContainer()
	if err != nil {
		return err
	}
	defer container.Shutdown()

	logger := container.Logger
	addr := fmt.Sprintf("%s:%d", container.Config.Server.Host, container.Config.Server.Port)
	adminSrv := &http.Server{
		Addr:              addr,
		Handler:           container.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("Admin server listening", zap.String("addr", addr))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin server: %w", err)
		}
	}()

	go func() {
		logger.Info("MCP server ready on stdio")
		// ServeStdio returns when the client closes the stream.
		errCh <- mcpiface.ServeStdio(container.MCPServer)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("Server stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown incomplete", zap.Error(err))
	}
	return nil
}
