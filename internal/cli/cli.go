// Package cli builds the jobrunner command tree: serve runs the HTTP
// control plane, worker runs the dispatch loop, migrate applies schema
// migrations, promote-admin grants admin status out of band, and status
// prints a human-readable configuration summary.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/beaverqueue/jobrunner/internal/api"
	"github.com/beaverqueue/jobrunner/internal/auth"
	"github.com/beaverqueue/jobrunner/internal/config"
	"github.com/beaverqueue/jobrunner/internal/metrics"
	"github.com/beaverqueue/jobrunner/internal/queue"
	"github.com/beaverqueue/jobrunner/internal/store"
	"github.com/beaverqueue/jobrunner/internal/worker"
)

var configFile string

// BuildCLI assembles the root command and every subcommand.
func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:   "jobrunner",
		Short: "A reliable job runner: HTTP control plane, Postgres task store, Redis Streams dispatch queue",
		Long: `jobrunner accepts tasks over HTTP, durably records them in Postgres,
dispatches them through a Redis Streams consumer group, and executes
them with a pool of worker goroutines that tolerate crashes via
autoclaim-based reclaim.`,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "optional YAML file supplying tuning defaults")

	root.AddCommand(buildServeCommand())
	root.AddCommand(buildWorkerCommand())
	root.AddCommand(buildMigrateCommand())
	root.AddCommand(buildPromoteAdminCommand())
	root.AddCommand(buildStatusCommand())

	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	return store.New(ctx, store.Config{DSN: cfg.DatabaseURL, MaxConnections: 10, ConnectTimeout: 5 * time.Second})
}

func openQueue(ctx context.Context, cfg *config.Config) (*queue.Queue, error) {
	return queue.New(ctx, queue.Config{Addr: cfg.RedisAddr()})
}

func buildServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	ctx := context.Background()

	s, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	q, err := openQueue(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer q.Close()

	issuer := auth.NewTokenIssuer(cfg.SecretKey, time.Hour)
	collector := metrics.NewCollector()

	server := api.NewServer(s, s, q, s, issuer, collector)
	router := api.NewRouter(server)

	go func() {
		slog.Info("starting metrics server", "port", cfg.Server.MetricsPort)
		if err := metrics.StartServer(cfg.Server.MetricsPort); err != nil {
			slog.Error("metrics server stopped", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("starting API server", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server stopped", "error", err)
		}
	}()

	waitForShutdown()

	slog.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildWorkerCommand() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the dispatch loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if concurrency > 0 {
				cfg.Worker.Concurrency = concurrency
			}
			return runWorker(cfg)
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override worker.concurrency from config")
	return cmd
}

func runWorker(cfg *config.Config) error {
	ctx := context.Background()

	s, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	q, err := openQueue(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer q.Close()

	collector := metrics.NewCollector()
	go func() {
		slog.Info("starting metrics server", "port", cfg.Server.MetricsPort)
		if err := metrics.StartServer(cfg.Server.MetricsPort); err != nil {
			slog.Error("metrics server stopped", "error", err)
		}
	}()

	pool := worker.NewPool(worker.Config{
		ConsumerPrefix: "worker",
		Concurrency:    cfg.Worker.Concurrency,
		BlockTimeout:   cfg.Worker.BlockTimeout,
		ReclaimIdle:    cfg.Worker.ReclaimIdle,
		ErrorBackoff:   cfg.Worker.ErrorBackoff,
	}, q, s, collector)

	slog.Info("starting worker pool", "concurrency", cfg.Worker.Concurrency)
	pool.Start()

	waitForShutdown()

	slog.Info("stopping worker pool")
	pool.Stop()
	return nil
}

func buildMigrateCommand() *cobra.Command {
	var migrationsPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStore(context.Background(), cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			if err := s.Migrate(migrationsPath); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVar(&migrationsPath, "path", "file://migrations", "migrations source URL")
	return cmd
}

func buildPromoteAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote-admin <username>",
		Short: "Grant admin status to an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStore(context.Background(), cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			username := args[0]
			if err := s.PromoteAdmin(context.Background(), username); err != nil {
				return fmt.Errorf("promote %s: %w", username, err)
			}
			fmt.Printf("%s is now an admin\n", username)
			return nil
		},
	}
	return cmd
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			printStatus(cfg)
			return nil
		},
	}
}

func printStatus(cfg *config.Config) {
	fmt.Println("jobrunner status")
	fmt.Println("-----------------")
	fmt.Printf("redis:            %s\n", cfg.RedisAddr())
	fmt.Printf("database:         %s\n", redactDSN(cfg.DatabaseURL))
	fmt.Printf("api port:         %d\n", cfg.Server.Port)
	fmt.Printf("metrics port:     %d\n", cfg.Server.MetricsPort)
	fmt.Printf("worker concurrency: %d\n", cfg.Worker.Concurrency)
	fmt.Printf("block timeout:    %s\n", cfg.Worker.BlockTimeout)
	fmt.Printf("reclaim idle:     %s\n", cfg.Worker.ReclaimIdle)
}

// redactDSN replaces the user-info part of a URL-style DSN (everything
// between "://" and "@") with "***", keeping the scheme, host, port and
// path, so status output does not show the credentials.
func redactDSN(dsn string) string {
	scheme, rest, found := strings.Cut(dsn, "://")
	if !found {
		return "(unset)"
	}
	_, hostAndPath, found := strings.Cut(rest, "@")
	if !found {
		hostAndPath = rest
	}
	return scheme + "://***@" + hostAndPath
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
