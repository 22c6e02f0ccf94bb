package devapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tyemirov/stockpilot/internal/model"
)

// Sentinel errors exposed by the access token validator.
var (
	ErrMissingToken  = errors.New("devapi.token.missing")
	ErrInvalidToken  = errors.New("devapi.token.invalid")
	ErrInvalidIssuer = errors.New("devapi.token.invalid_issuer")
	ErrTokenExpired  = errors.New("devapi.token.expired")
)

// Claims are embedded in access tokens.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// MintAccessToken creates a signed HS256 access token for user.
func MintAccessToken(user model.User, issuer string, signingKey []byte, ttl time.Duration, now time.Time) (string, time.Time, error) {
	issuedAt := now.UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	return signed, expiresAt, err
}

// TokenValidator validates bearer access tokens against a Clock.
type TokenValidator struct {
	signingKey []byte
	issuer     string
	clock      Clock
}

// NewTokenValidator builds a validator for tokens minted with signingKey and issuer.
func NewTokenValidator(signingKey []byte, issuer string, clock Clock) (*TokenValidator, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("devapi.token.new_validator: %w", ErrMissingSigningKey)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &TokenValidator{signingKey: signingKey, issuer: issuer, clock: clock}, nil
}

// ValidateToken parses tokenString and returns its claims.
func (validator *TokenValidator) ValidateToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("devapi.token.validate: %w", ErrMissingToken)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &Claims{}, func(parsed *jwt.Token) (interface{}, error) {
		return validator.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(validator.clock.Now))
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("devapi.token.validate: %w", ErrTokenExpired)
		}
		return nil, fmt.Errorf("devapi.token.validate: %w", ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*Claims)
	if !ok || !parsedToken.Valid {
		return nil, fmt.Errorf("devapi.token.validate: %w", ErrInvalidToken)
	}
	if claims.Issuer != validator.issuer {
		return nil, fmt.Errorf("devapi.token.validate: %w", ErrInvalidIssuer)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("devapi.token.validate: %w", ErrInvalidToken)
	}
	return claims, nil
}

// ValidateRequest validates the bearer token of request.
func (validator *TokenValidator) ValidateRequest(request *http.Request) (*Claims, error) {
	token, found := bearerToken(request)
	if !found {
		return nil, fmt.Errorf("devapi.token.validate_request: %w", ErrMissingToken)
	}
	return validator.ValidateToken(token)
}

func bearerToken(request *http.Request) (string, bool) {
	if request == nil {
		return "", false
	}
	header := request.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
