package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spigell/hirebot/internal/export"
	"github.com/spigell/hirebot/internal/httpapi"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the screening HTTP API",
	Run: func(cmd *cobra.Command, _ []string) {
		serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("address", "a", "", "listen address (default is server.address from the config)")
	viper.BindPFlag("server.address", serveCmd.Flags().Lookup("address"))
}

func serve(parent context.Context) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, config := setup()
	logger.Info("starting the hirebot api", zap.String("version", version))

	parts, err := newComponents(ctx, config, logger, componentOptions{})
	if err != nil {
		logger.Fatal("wiring the application", zap.Error(err))
	}

	api := httpapi.New(parts.service, export.New(parts.store, logger), httpapi.Config{
		MaxUploadBytes: config.Server.MaxUploadBytes,
	}, logger)

	srv := &http.Server{
		Addr:              config.Server.Address,
		Handler:           api.Handler(),
		ReadHeaderTimeout: config.Server.ReadTimeout,
		ReadTimeout:       config.Server.ReadTimeout,
		WriteTimeout:      config.Server.WriteTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	go parts.service.RunSweeper(ctx)

	errs := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("address", srv.Addr))
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	parts.close(shutdownCtx, logger)

	logger.Info("bye")
}
