package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"libprep/api/internal/app"
	"libprep/api/internal/archive"
	"libprep/api/internal/columns"
	"libprep/api/internal/config"
	"libprep/api/internal/export"
	"libprep/api/internal/gateway"
	"libprep/api/internal/gitrepo"
	"libprep/api/internal/localstore"
	"libprep/api/internal/metrics"
	"libprep/api/internal/search"
	"libprep/api/internal/store"
)

func newServeCmd() *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return serve(cmd.Context(), cfg, log, !skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply pending migrations on start")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger, migrate bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	policy, err := columns.Load(cfg.ColumnPolicyFile)
	if err != nil {
		return err
	}

	local, err := localstore.Open(localstore.Options{
		Driver:     cfg.SnapshotDriver,
		RedisURL:   cfg.RedisURL,
		SQLitePath: cfg.SQLitePath,
		TTL:        cfg.SnapshotTTL,
	})
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	defer local.Close()
	log.Info("snapshot store ready", zap.String("driver", cfg.SnapshotDriver))

	var db *sql.DB
	var remote *store.PostgresStore
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err = store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: cfg.DBMaxConns})
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		if migrate {
			if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, log); err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
		}
		remote = store.NewPostgresStore(db)
	} else {
		log.Warn("DATABASE_URL is empty; saves and pool numbers are unavailable")
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	history := gitrepo.New(cfg.HistoryDir)

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
	}
	var pgSearch *search.PgSearch
	if db != nil {
		pgSearch = search.NewPgSearch(db)
	}
	searchService := search.NewService(meili, pgSearch, log)
	defer searchService.Close()

	m := metrics.New()
	opts := gateway.Options{
		Local:   local,
		History: history,
		Indexer: searchService,
		Metrics: m,
		Logger:  log.Named("gateway"),
	}
	if remote != nil {
		opts.Remote = remote
	}
	archiveCfg := archive.Config{
		Endpoint:  cfg.ArchiveEndpoint,
		Bucket:    cfg.ArchiveBucket,
		AccessKey: cfg.ArchiveAccessKey,
		SecretKey: cfg.ArchiveSecretKey,
		UseSSL:    cfg.ArchiveUseSSL,
	}
	if archiveCfg.Enabled() {
		snapshots, err := archive.New(ctx, archiveCfg)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		opts.Archive = snapshots
		log.Info("snapshot archive enabled", zap.String("bucket", cfg.ArchiveBucket))
	}

	service := app.NewService(app.Deps{
		Config:  cfg,
		Gateway: gateway.New(opts),
		Policy:  policy,
		History: history,
		Search:  searchService,
		Export:  export.NewService(),
		Metrics: m,
		Logger:  log.Named("app"),
	})
	defer service.Close()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("libprep API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-sigCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	log.Info("libprep API stopped")
	return nil
}
