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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tyemirov/stockpilot/internal/devapi"
	"github.com/tyemirov/stockpilot/internal/metrics"
)

func newDevServerCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "devserver",
		Short: "Run the in-memory development backend",
		Args:  cobra.NoArgs,
		RunE:  runDevServer,
	}

	command.Flags().String("listen_addr", ":5000", "HTTP listen address")
	command.Flags().String("jwt_signing_key", "", "HS256 signing secret for access tokens")
	command.Flags().Duration("access_ttl", 15*time.Minute, "Access token TTL")
	command.Flags().Duration("refresh_ttl", 30*24*time.Hour, "Refresh token TTL")
	command.Flags().Bool("rotate_refresh_tokens", false, "Issue a new refresh token on every refresh")
	command.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed browser origins; \"*\" allows any")

	_ = viper.BindPFlag("listen_addr", command.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("jwt_signing_key", command.Flags().Lookup("jwt_signing_key"))
	_ = viper.BindPFlag("access_ttl", command.Flags().Lookup("access_ttl"))
	_ = viper.BindPFlag("refresh_ttl", command.Flags().Lookup("refresh_ttl"))
	_ = viper.BindPFlag("rotate_refresh_tokens", command.Flags().Lookup("rotate_refresh_tokens"))
	_ = viper.BindPFlag("cors_allowed_origins", command.Flags().Lookup("cors_allowed_origins"))

	return command
}

// LoadDevServerConfig reads and validates the development backend settings from viper.
func LoadDevServerConfig() (devapi.Config, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return devapi.Config{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return devapi.Config{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return devapi.Config{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	return devapi.Config{
		SigningKey:          []byte(jwtSigningKey),
		AccessTTL:           accessTTL,
		RefreshTTL:          refreshTTL,
		RotateRefreshTokens: viper.GetBool("rotate_refresh_tokens"),
		AllowedOrigins:      viper.GetStringSlice("cors_allowed_origins"),
	}, nil
}

func runDevServer(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadDevServerConfig()
	if loadErr != nil {
		return loadErr
	}

	logger, loggerErr := buildLogger(zapcore.InfoLevel)
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	gin.SetMode(gin.ReleaseMode)
	counter := metrics.NewCounter()
	api, err := devapi.NewServer(devapi.Options{
		Config:  serverConfig,
		Clock:   devapi.SystemClock{},
		Logger:  logger,
		Metrics: counter,
	})
	if err != nil {
		return err
	}

	listenAddr := viper.GetString("listen_addr")
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalContext, stopSignals := signal.NotifyContext(commandContext(command), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	go func() {
		<-signalContext.Done()
		graceCtx, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", listenAddr),
		zap.Duration("access_ttl", serverConfig.AccessTTL),
		zap.Bool("rotate_refresh_tokens", serverConfig.RotateRefreshTokens))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	logger.Info("stopped", zap.Any("counters", counter.Snapshot()))
	return nil
}
