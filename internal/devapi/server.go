// Package devapi is a self-contained development backend for the inventory API.
// It issues short-lived HS256 access tokens and opaque refresh tokens, and keeps
// users, items and scraping jobs in memory.
package devapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tyemirov/stockpilot/internal/metrics"
)

// Options configure a Server.
type Options struct {
	Config  Config
	Clock   Clock
	Logger  *zap.Logger
	Metrics metrics.Recorder
}

// Server wires the stores to a gin router.
type Server struct {
	config        Config
	clock         Clock
	logger        *zap.Logger
	metrics       metrics.Recorder
	users         *UserStore
	refreshTokens *RefreshTokenStore
	inventory     *InventoryStore
	validator     *TokenValidator
	router        *gin.Engine
}

// NewServer validates options and mounts every route.
func NewServer(options Options) (*Server, error) {
	configuration := options.Config.withDefaults()
	if err := configuration.Validate(); err != nil {
		return nil, err
	}
	clock := options.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := options.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	validator, err := NewTokenValidator(configuration.SigningKey, configuration.Issuer, clock)
	if err != nil {
		return nil, err
	}

	server := &Server{
		config:        configuration,
		clock:         clock,
		logger:        logger,
		metrics:       recorder,
		users:         NewUserStore(clock, configuration.BcryptCost),
		refreshTokens: NewRefreshTokenStore(clock),
		inventory:     NewInventoryStore(clock),
		validator:     validator,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	if len(configuration.AllowedOrigins) > 0 {
		corsMiddleware, corsErr := ConfigureCORS(logger, configuration.AllowedOrigins)
		if corsErr != nil {
			return nil, corsErr
		}
		router.Use(corsMiddleware)
	}
	server.mountRoutes(router)
	server.router = router
	return server, nil
}

// Handler returns the HTTP handler serving the API.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Users exposes the account store.
func (server *Server) Users() *UserStore {
	return server.users
}

// RefreshTokens exposes the refresh token store.
func (server *Server) RefreshTokens() *RefreshTokenStore {
	return server.refreshTokens
}

// Inventory exposes the item and job store.
func (server *Server) Inventory() *InventoryStore {
	return server.inventory
}
