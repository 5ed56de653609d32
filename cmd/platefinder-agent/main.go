package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fernwood-labs/platefinder/internal/client"
	"github.com/fernwood-labs/platefinder/internal/config"
	"github.com/fernwood-labs/platefinder/internal/connectivity"
	"github.com/fernwood-labs/platefinder/internal/database"
	"github.com/fernwood-labs/platefinder/internal/gateway"
	"github.com/fernwood-labs/platefinder/internal/logging"
	"github.com/fernwood-labs/platefinder/internal/server"
	"github.com/fernwood-labs/platefinder/internal/shellcache"
	"github.com/fernwood-labs/platefinder/internal/syncqueue"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "platefinder-agent",
		Short: "Offline-first restaurant browsing agent",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("api-base-url", defaults.GetString("api.base_url"), "Remote API base URL")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("cache-dir", defaults.GetString("cache.dir"), "Shell cache directory")
	cmd.PersistentFlags().String("cache-tag", defaults.GetString("cache.tag"), "Shell cache generation tag")
	cmd.PersistentFlags().Duration("probe-interval", defaults.GetDuration("connectivity.probe_interval"), "Connectivity probe interval")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "api.base_url", "api-base-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "cache.dir", "cache-dir")
	bindFlag(cmd, "cache.tag", "cache-tag")
	bindFlag(cmd, "connectivity.probe_interval", "probe-interval")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runAgent(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	remote, err := gateway.NewClient(gateway.Config{
		BaseURL: appConfig.APIBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	cacheStore, err := shellcache.NewStore(appConfig.CacheDir, logger)
	if err != nil {
		return err
	}
	worker, err := shellcache.NewWorker(shellcache.WorkerConfig{
		Store:    cacheStore,
		CacheTag: appConfig.CacheTag,
		Origin:   appConfig.APIBaseURL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A cold start without connectivity keeps the previous generation
	// live; the worker installs on the next start instead.
	if err := worker.Install(signalCtx); err != nil {
		logger.Warn("shell manifest install failed; continuing without precache", zap.Error(err))
	} else if err := worker.Activate(signalCtx); err != nil {
		logger.Warn("worker activation failed", zap.Error(err))
	}

	watcher := connectivity.NewWatcher(connectivity.Config{
		Probe:    connectivity.OriginProbe(appConfig.APIBaseURL, nil),
		Interval: appConfig.ProbeInterval,
		Logger:   logger,
	})
	go watcher.Run(signalCtx)

	reconciler, err := syncqueue.NewReconciler(syncqueue.Config{
		Database: db,
		Gateway:  remote,
		Signals:  watcher,
		IDs:      syncqueue.NewUUIDProvider(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	go reconciler.Run(signalCtx)

	app, err := client.NewApp(client.Config{
		Database: db,
		Gateway:  remote,
		Queue:    reconciler,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Worker:       worker,
		Reconciler:   reconciler,
		App:          app,
		Connectivity: watcher,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.ListenAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agent starting", zap.String("address", appConfig.ListenAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
