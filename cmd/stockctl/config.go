package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultStoreURL = "keyring://stockpilot"

	configCodeReadConfigFile          = "config.read_config_file"
	configCodeMissingStoreURL         = "config.missing_store_url"
	configCodeInvalidRequestTimeout   = "config.invalid_request_timeout"
	configCodeInvalidRefreshTimeout   = "config.invalid_refresh_timeout"
	configCodeInvalidLogLevel         = "config.invalid_log_level"
	configCodeUninitializedClientConf = "config.uninitialized_client_config"
	configCodeMissingJWTSigningKey    = "config.missing_jwt_signing_key"
	configCodeInvalidAccessTTL        = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
)

// ClientConfig is the validated configuration shared by the client commands.
type ClientConfig struct {
	// APIURL is empty unless set by flag, environment or config file.
	APIURL         string
	StoreURL       string
	RequestTimeout time.Duration
	RefreshTimeout time.Duration
	LogLevel       zapcore.Level
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadClientConfig reads and validates the client settings from viper.
func LoadClientConfig() (ClientConfig, error) {
	storeURL := strings.TrimSpace(viper.GetString("store_url"))
	if storeURL == "" {
		return ClientConfig{}, configError(configCodeMissingStoreURL, "store_url must be provided")
	}

	requestTimeout := viper.GetDuration("request_timeout")
	if requestTimeout <= 0 {
		return ClientConfig{}, configError(configCodeInvalidRequestTimeout, "request_timeout must be greater than zero")
	}

	refreshTimeout := viper.GetDuration("refresh_timeout")
	if refreshTimeout <= 0 {
		return ClientConfig{}, configError(configCodeInvalidRefreshTimeout, "refresh_timeout must be greater than zero")
	}

	logLevel := zapcore.WarnLevel
	if rawLevel := strings.TrimSpace(viper.GetString("log_level")); rawLevel != "" {
		parsedLevel, parseErr := zapcore.ParseLevel(rawLevel)
		if parseErr != nil {
			return ClientConfig{}, configError(configCodeInvalidLogLevel, fmt.Sprintf("unknown log_level %q", rawLevel))
		}
		logLevel = parsedLevel
	}

	return ClientConfig{
		APIURL:         strings.TrimSpace(viper.GetString("api_url")),
		StoreURL:       storeURL,
		RequestTimeout: requestTimeout,
		RefreshTimeout: refreshTimeout,
		LogLevel:       logLevel,
	}, nil
}

func buildLogger(level zapcore.Level) (*zap.Logger, error) {
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(level)
	return loggerConfig.Build()
}
