package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yumyai/edna/internal/config"
	"github.com/yumyai/edna/logger"
	"github.com/yumyai/edna/pkg/handler"
)

const VERSION = "0.1.0"

var (
	configPath string
	verbose    bool
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "edna",
	Short:         "eDNA sequence analysis: clustering, similarity search and taxonomy",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Try load env
		dotenv, err := config.LoadDotEnv(".env")
		if err != nil {
			return err
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := logger.ParseLevel(cfg.Log.Level)
		if verbose {
			level = zapcore.DebugLevel
		}
		if err := logger.InitLogger(level); err != nil {
			return err
		}
		if !dotenv {
			logger.Debug("No .env found, using local environment")
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("Start:", zap.String("Version", VERSION))
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		appctx := handler.NewAppContext(a.svc, logger.Named("http"))
		srv := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      handler.NewRouter(appctx, cfg.Server.SlowRequest),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("Server starting", zap.String("addr", cfg.Server.Addr))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Error starting server:", zap.Error(err))
				return err
			}
		case <-ctx.Done():
			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
		}
		// let running jobs record their final state
		a.svc.Jobs().Wait()
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), VERSION)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "config file (missing file means defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	defer logger.Sync() // Make sure that the buffered is flushed.

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		logger.Sync()
		os.Exit(1)
	}
}
