package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/stockpilot/internal/apiclient"
	"github.com/tyemirov/stockpilot/internal/credentials"
	"github.com/tyemirov/stockpilot/internal/inventory"
	"github.com/tyemirov/stockpilot/internal/kvstore"
	"github.com/tyemirov/stockpilot/internal/metrics"
	"github.com/tyemirov/stockpilot/internal/session"
)

const userAgent = "stockctl"

// application holds the wired client stack for one command invocation.
type application struct {
	clientConfig ClientConfig
	logger       *zap.Logger
	store        kvstore.Store
	credentials  *credentials.Store
	config       *apiclient.Config
	pipeline     *apiclient.Pipeline
	session      *session.AuthSession
	inventory    *inventory.Client
	metrics      *metrics.Counter
}

func openApplication(command *cobra.Command) (*application, error) {
	clientConfig, err := clientConfigFrom(command)
	if err != nil {
		return nil, err
	}
	logger, err := buildLogger(clientConfig.LogLevel)
	if err != nil {
		return nil, err
	}
	ctx := commandContext(command)
	store, err := kvstore.Open(ctx, clientConfig.StoreURL)
	if err != nil {
		return nil, err
	}
	credentialStore, err := credentials.NewStore(store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	baseURL, err := resolveBaseURL(ctx, clientConfig.APIURL, credentialStore)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	config, err := apiclient.NewConfig(apiclient.Settings{
		BaseURL:        baseURL,
		RequestTimeout: clientConfig.RequestTimeout,
		RefreshTimeout: clientConfig.RefreshTimeout,
		UserAgent:      userAgent,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	counter := metrics.NewCounter()
	pipeline, err := apiclient.New(apiclient.Options{
		Config:      config,
		Credentials: credentialStore,
		Lifecycle:   ctx,
		Logger:      logger,
		Metrics:     counter,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &application{
		clientConfig: clientConfig,
		logger:       logger,
		store:        store,
		credentials:  credentialStore,
		config:       config,
		pipeline:     pipeline,
		session:      session.New(pipeline, credentialStore, logger),
		inventory:    inventory.NewClient(pipeline, logger),
		metrics:      counter,
	}, nil
}

// resolveBaseURL applies the precedence flag/env/config, then the persisted value, then the default.
func resolveBaseURL(ctx context.Context, override string, store *credentials.Store) (string, error) {
	if override != "" {
		return override, nil
	}
	persisted, found, err := store.BaseURL(ctx)
	if err != nil {
		return "", err
	}
	if found {
		return persisted, nil
	}
	return apiclient.DefaultBaseURL, nil
}

func (app *application) Close() {
	app.logger.Debug("client metrics", zap.Any("counters", app.metrics.Snapshot()))
	if err := app.store.Close(); err != nil {
		app.logger.Warn("closing credential store failed", zap.String("code", "stockctl.store.close_failed"), zap.Error(err))
	}
	_ = app.logger.Sync()
}

// runWithApplication opens the client stack, runs action and closes the stack.
func runWithApplication(action func(command *cobra.Command, arguments []string, app *application) error) func(*cobra.Command, []string) error {
	return func(command *cobra.Command, arguments []string) error {
		app, err := openApplication(command)
		if err != nil {
			return err
		}
		defer app.Close()
		return action(command, arguments, app)
	}
}
