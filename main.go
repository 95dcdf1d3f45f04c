// Command todo-api serves a personal task list over HTTP. Each user sees
// and changes only their own tasks, authenticated with stateless bearer
// tokens.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"todo-api/auth"
	"todo-api/config"
	"todo-api/metrics"
	"todo-api/store"
	"todo-api/todo"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const Version = "0.2.0"

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	serve := func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(configPath, logLevel)
		if err != nil {
			return err
		}
		return runServer(cmd.Context(), cfg, logger)
	}

	cmd := &cobra.Command{
		Use:          "todo-api",
		Short:        "Personal task list API",
		SilenceUsage: true,
		RunE:         serve,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE:  serve,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath, logLevel)
			if err != nil {
				return err
			}
			db, err := store.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.Source, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Migrate(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "todo-api version %s\n", Version)
		},
	})

	return cmd
}

func setup(configPath, logLevel string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(level string) *slog.Logger {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// newServer wires the services over db. rdb may be nil, in which case task
// lookups go straight to the database.
func newServer(cfg *config.Config, db *store.DB, rdb redis.Cmdable, logger *slog.Logger) *server {
	var tasks todo.TaskStore = db
	if rdb != nil {
		tasks = store.NewCachedTasks(db, rdb, cfg.Redis.TTL, logger)
	}
	tokens := auth.NewTokenManager([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL)
	return &server{
		todos:    todo.NewService(tasks, logger),
		accounts: todo.NewAccounts(db, auth.NewPasswordHasher(cfg.Auth.BcryptCost), tokens, logger),
		gate:     auth.Middleware(tokens, logger),
		db:       db,
		metrics:  metrics.New(),
		origins:  cfg.Server.CORSOrigins,
		logger:   logger,
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.Source, logger)
	if err != nil {
		return fmt.Errorf("could not initialize database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = store.InitRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	// A nil *redis.Client must not reach newServer as a non-nil Cmdable.
	var srv *server
	if rdb != nil {
		srv = newServer(cfg, db, rdb, logger)
	} else {
		srv = newServer(cfg, db, nil, logger)
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.routes(cfg.Server.Prefix),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", cfg.Server.Addr, "prefix", cfg.Server.Prefix, "version", Version)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
