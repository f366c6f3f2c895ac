package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/stockcount/api"
	"github.com/warp/stockcount/config"
	"github.com/warp/stockcount/count"
	"github.com/warp/stockcount/events"
	"github.com/warp/stockcount/lock"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the count API server.

Startup sequence:
  1. Open the configured store
  2. Connect Redis (session lock) and RabbitMQ (events) when configured
  3. Start the periodic snapshot sync when SYNC_INTERVAL > 0
  4. Serve until SIGINT/SIGTERM, then drain requests for up to 30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts.cfg)
		},
	}
}

func serve(cfg config.Config) error {
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, cleanup := buildEngine(cfg, store)
	defer cleanup()

	auth := api.NewAuth(cfg.JWTSecret)
	if auth.DevMode() {
		log.Println("[Auth] JWT_SECRET not set: trusting X-Actor-Id / X-Actor-Role headers")
	}

	handler := api.NewHandler(engine, store)
	router := api.NewRouter(handler, api.RouterConfig{
		Auth:           auth,
		AllowedOrigins: cfg.CORSOrigins,
		RequestTimeout: 60 * time.Second,
	})

	scheduler := api.NewSyncScheduler(engine, cfg.SyncInterval)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("Server starting on http://localhost:%d (store: %s)", cfg.Port, cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// buildEngine wires the optional Redis lock and RabbitMQ publisher.
// Either one falls back to its in-process default when not configured.
func buildEngine(cfg config.Config, store api.Store) (*count.Engine, func()) {
	var (
		opts    []count.Option
		closers []func()
	)

	if cfg.RedisAddr != "" {
		if client := lock.NewRedisClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB); client != nil {
			opts = append(opts, count.WithLocker(lock.NewRedisLocker(client)))
			closers = append(closers, func() { _ = client.Close() })
			log.Printf("[Lock] Using Redis session lock at %s", cfg.RedisAddr)
		} else {
			log.Println("[Lock] Falling back to in-process session lock")
		}
	}

	if cfg.RabbitMQURL != "" {
		pub := events.NewAMQPPublisher(cfg.RabbitMQURL)
		opts = append(opts, count.WithPublisher(pub))
		closers = append(closers, func() { _ = pub.Close() })
		log.Println("[Events] Publishing approvals to RabbitMQ")
	}

	return count.NewEngine(store, opts...), func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}
