package devapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// DefaultIssuer is the iss claim of minted access tokens.
const DefaultIssuer = "stockpilot-devapi"

var (
	// ErrMissingSigningKey is returned when no HS256 key is configured.
	ErrMissingSigningKey = errors.New("devapi.config.missing_signing_key")
	// ErrInvalidTTL is returned for non-positive token lifetimes.
	ErrInvalidTTL = errors.New("devapi.config.invalid_ttl")
)

// Config configures token issuance for the development backend.
type Config struct {
	SigningKey []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RotateRefreshTokens issues a new refresh token on every refresh and revokes the old one.
	RotateRefreshTokens bool
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost     int
	AllowedOrigins []string
}

func (configuration Config) withDefaults() Config {
	if strings.TrimSpace(configuration.Issuer) == "" {
		configuration.Issuer = DefaultIssuer
	}
	if configuration.BcryptCost == 0 {
		configuration.BcryptCost = bcrypt.DefaultCost
	}
	return configuration
}

// Validate reports configuration errors.
func (configuration Config) Validate() error {
	if len(configuration.SigningKey) == 0 {
		return ErrMissingSigningKey
	}
	if configuration.AccessTTL <= 0 {
		return fmt.Errorf("%w: access ttl must be greater than zero", ErrInvalidTTL)
	}
	if configuration.RefreshTTL <= 0 {
		return fmt.Errorf("%w: refresh ttl must be greater than zero", ErrInvalidTTL)
	}
	return nil
}
