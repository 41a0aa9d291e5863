package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/guileen/dbtune/adapter"
	"github.com/guileen/dbtune/api"
	"github.com/guileen/dbtune/history"
	"github.com/guileen/dbtune/logger"
	"github.com/guileen/dbtune/monitor"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the diagnostics HTTP server",
	PreRunE: bindServeConfig,
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "address the diagnostics server listens on")
	serveCmd.Flags().String("database", "postgresql", "database type: postgresql, mysql or sqlite")
	serveCmd.Flags().String("name", "default", "registry name for the monitor")
	serveCmd.Flags().String("dsn", "", "optional Postgres DSN; when set, a pgx pool is opened and instrumented")
	serveCmd.Flags().String("history-path", "", "optional path for the persistent report history store")
	serveCmd.Flags().Duration("snapshot-interval", time.Minute, "how often a report snapshot is appended to history")
	serveCmd.Flags().Duration("poll-interval", 5*time.Second, "pool stats poll interval when a DSN is set")

	rootCmd.AddCommand(serveCmd)
}

func bindServeConfig(cmd *cobra.Command, _ []string) error {
	viper.SetEnvPrefix("dbtune")
	viper.AutomaticEnv()
	return viper.BindPFlags(cmd.Flags())
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := logger.With("component", "serve")

	dbType := monitor.DatabaseType(viper.GetString("database"))
	opts := monitor.LoadOptions(dbType)

	var pool *pgxpool.Pool
	if dsn := viper.GetString("dsn"); dsn != "" {
		cfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return fmt.Errorf("parse dsn: %w", err)
		}
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open pool: %w", err)
		}
		pool = p
		defer pool.Close()
		opts.BatchExecutor = adapter.NewAnyBatchExecutor(pool)
	}

	m, err := monitor.New(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	name := viper.GetString("name")
	if err := monitor.Register(name, m); err != nil {
		return err
	}
	defer monitor.Deregister(name)
	monitor.SetDefault(m)

	if pool != nil {
		poller := adapter.NewStatsPoller(pool, m, viper.GetDuration("poll-interval"))
		go poller.Run(ctx)
	}

	var hist *history.Store
	if path := viper.GetString("history-path"); path != "" {
		hist, err = history.Open(history.Options{Path: path})
		if err != nil {
			return err
		}
		defer hist.Close()
		go snapshotLoop(ctx, hist, name, m, viper.GetDuration("snapshot-interval"))
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	api.NewHandler(hist).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              viper.GetString("listen"),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	log.Info("diagnostics server listening", "addr", srv.Addr, "database", string(dbType), "monitor", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// snapshotLoop appends a report snapshot on every tick until ctx ends.
func snapshotLoop(ctx context.Context, hist *history.Store, name string, m *monitor.Monitor, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	log := logger.With("component", "snapshot")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := hist.Append(name, m.GetMetrics()); err != nil {
				log.Warn("snapshot append failed", "error", err)
			}
		}
	}
}
