package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Start listens on addr and serves handler in the background.
func Start(ctx context.Context, name, addr string, handler http.Handler, logger *zap.Logger) (context.Context, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return ctx, err
	}
	return Serve(ctx, name, ln, handler, logger), nil
}

// Serve runs an HTTP server on ln. Cancelling ctx shuts the server down
// gracefully. The returned context is cancelled once the server has stopped.
func Serve(ctx context.Context, name string, ln net.Listener, handler http.Handler, logger *zap.Logger) context.Context {
	done, cancel := context.WithCancel(context.Background())

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		defer cancel()
		logger.Info("service started", zap.String("service", name), zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("service stopped", zap.String("service", name), zap.Error(err))
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-done.Done():
			return
		}
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.String("service", name), zap.Error(err))
		}
		logger.Info("service shut down", zap.String("service", name))
	}()

	return done
}
