// portal-relay serves the anti-forgery token relay on the serving app's
// origin.
package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/eshaffer321/portalgate-go/internal/config"
	"github.com/eshaffer321/portalgate-go/internal/obs"
	"github.com/eshaffer321/portalgate-go/internal/relay"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger := obs.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	if cfg.DevInsecureTLS() {
		logger.Warn("backend TLS verification disabled", "env", cfg.Env)
	}

	handler, err := relay.New(relay.Options{
		TokenURL:   cfg.TokenURL(),
		HTTPClient: relay.NewHTTPClient(cfg.Backend.Timeout, cfg.DevInsecureTLS()),
		Logger:     logger,
	})
	if err != nil {
		slog.Error("failed to build relay", "err", err)
		os.Exit(1)
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gzip.Gzip(gzip.DefaultCompression))
	relay.Register(engine, cfg.Server.RelayPath, handler)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	serverErr := make(chan error, 1)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		slog.Error("failed to listen", "addr", cfg.Server.Addr, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("relay started", "addr", ln.Addr().String(), "backend", cfg.Backend.BaseURL, "path", cfg.Server.RelayPath)
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-serverErr:
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}
	slog.Info("relay stopped")
}
