package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tyemirov/stockpilot/internal/apiclient"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", apiclient.UserMessage(err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "stockctl",
		Short:             "Inventory API client with single-flight token refresh",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: prepareClientConfig,
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("api_url", "", "API base URL; overrides the persisted value")
	rootCmd.PersistentFlags().String("store_url", defaultStoreURL, "Credential store URL (keyring://, sqlite://, postgres://, redis://, memory://)")
	rootCmd.PersistentFlags().Duration("request_timeout", apiclient.DefaultRequestTimeout, "Per-request HTTP timeout")
	rootCmd.PersistentFlags().Duration("refresh_timeout", apiclient.DefaultRefreshTimeout, "Upper bound for one token refresh")
	rootCmd.PersistentFlags().String("log_level", "warn", "Log level (debug, info, warn, error)")

	_ = viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api_url"))
	_ = viper.BindPFlag("store_url", rootCmd.PersistentFlags().Lookup("store_url"))
	_ = viper.BindPFlag("request_timeout", rootCmd.PersistentFlags().Lookup("request_timeout"))
	_ = viper.BindPFlag("refresh_timeout", rootCmd.PersistentFlags().Lookup("refresh_timeout"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log_level"))

	viper.SetEnvPrefix("STOCKCTL")
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newLoginCommand(),
		newRegisterCommand(),
		newLogoutCommand(),
		newWhoAmICommand(),
		newStatusCommand(),
		newConfigCommand(),
		newInventoryCommand(),
		newScrapeCommand(),
		newJobsCommand(),
		newStatsCommand(),
		newDevServerCommand(),
	)
	return rootCmd
}

type contextKey string

const clientConfigContextKey contextKey = "clientConfig"

func prepareClientConfig(command *cobra.Command, arguments []string) error {
	if configFile, _ := command.Flags().GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return configError(configCodeReadConfigFile, err.Error())
		}
	}
	clientConfig, loadErr := LoadClientConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, clientConfigContextKey, clientConfig))
	return nil
}

func clientConfigFrom(command *cobra.Command) (ClientConfig, error) {
	var contextValue any
	if commandContext := command.Context(); commandContext != nil {
		contextValue = commandContext.Value(clientConfigContextKey)
	}
	clientConfig, ok := contextValue.(ClientConfig)
	if !ok {
		return ClientConfig{}, configError(configCodeUninitializedClientConf, "client configuration not prepared; PersistentPreRunE must execute before RunE")
	}
	return clientConfig, nil
}

func commandContext(command *cobra.Command) context.Context {
	if ctx := command.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func withTimeout(command *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(commandContext(command), timeout)
}
