package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/QuillpadLabs/quillpad/backend/internal/config"
	"github.com/QuillpadLabs/quillpad/backend/internal/logging"
	"github.com/QuillpadLabs/quillpad/backend/internal/server"
	"github.com/QuillpadLabs/quillpad/backend/internal/session"
	"github.com/QuillpadLabs/quillpad/backend/internal/signaling"
	"github.com/QuillpadLabs/quillpad/backend/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quillpad-api",
		Short: "Quillpad collaborative document backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
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
	cmd.PersistentFlags().String("storage-root", defaults.GetString("storage.root"), "Document storage root directory")
	cmd.PersistentFlags().Int("persist-interval-seconds", defaults.GetInt("sync.persist_interval_seconds"), "Live session persistence interval in seconds")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "storage.root", "storage-root")
	bindFlag(cmd, "sync.persist_interval_seconds", "persist-interval-seconds")
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

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	snapshotStore, err := store.New(store.Config{
		Root:   appConfig.StorageRoot,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	sessionHost, err := session.NewHost(session.Config{
		Store:           snapshotStore,
		Logger:          logger,
		PersistInterval: appConfig.PersistInterval,
	})
	if err != nil {
		return err
	}

	activeDocuments := signaling.NewActiveDocumentHub(signaling.DefaultActiveDocumentID)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:           snapshotStore,
		Sessions:        sessionHost,
		ActiveDocuments: activeDocuments,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("storage_root", appConfig.StorageRoot))
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
		if err := sessionHost.Shutdown(shutdownCtx); err != nil {
			logger.Warn("session host shutdown incomplete", zap.Error(err))
		}
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
