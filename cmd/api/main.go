package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookshelf-service/cmd/api/book"
	"github.com/bookshelf-service/cmd/api/database"
	bookhttp "github.com/bookshelf-service/cmd/api/http"
	"github.com/bookshelf-service/cmd/api/inmemory"
	"github.com/bookshelf-service/cmd/api/notifications"
)

const shutdownTimeout = 10 * time.Second

func main() {
	err := run()
	if err != nil {
		slog.Error("exiting", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	if err := loadEnvFiles(".env.local", ".env"); err != nil {
		return err
	}
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var notifier book.Notifier
	if cfg.notificationsEnabled {
		notifier = notifications.NewNtfy(true, cfg.notificationsBaseURL, &http.Client{})
	}

	bookService := book.NewService(store, notifier, cfg.notificationsTimeout, logger)
	bookHandler := bookhttp.NewBookHandler(bookService, logger)

	//create and init http server:
	server := bookhttp.NewServer(bookhttp.ServerConfig{
		Port:           cfg.port,
		RequestTimeout: cfg.requestTimeout,
		CORSOrigins:    cfg.corsOrigins,
		RateLimitRPS:   cfg.rateLimitRPS,
		RateLimitBurst: cfg.rateLimitBurst,
	}, bookHandler, logger)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.Int("port", cfg.port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("unexpected http server error: %w", err)
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownRelease()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	logger.Info("graceful shutdown complete")
	return nil
}

/* Picks postgres when DATABASE_URL is set and the in-memory store otherwise. */
func openStore(ctx context.Context, cfg config, logger *slog.Logger) (book.Repository, func(), error) {
	if cfg.databaseURL == "" {
		logger.Info("DATABASE_URL not set, using the in-memory store")
		store, err := inmemory.NewInMemoryStore()
		if err != nil {
			return nil, nil, fmt.Errorf("creating in-memory store: %w", err)
		}
		return store, func() {}, nil
	}

	dbObject, err := database.ConnectDb(ctx, cfg.databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting with db: %w", err)
	}

	//apply migrations:
	store := database.NewStore(dbObject)
	if err := database.MigrationUp(store, cfg.migrationsPath); err != nil {
		dbObject.Close()
		return nil, nil, fmt.Errorf("migrating: %w", err)
	}
	return store, func() { dbObject.Close() }, nil
}
