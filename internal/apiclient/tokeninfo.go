package apiclient

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errNoExpiry = errors.New("apiclient.token_without_expiry")

// TokenInfo is the unverified view of an access token used for display.
// The client never trusts these claims for authorization decisions.
type TokenInfo struct {
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the token's expiry lies before now.
func (info TokenInfo) Expired(now time.Time) bool {
	return !info.ExpiresAt.After(now)
}

// PeekToken decodes JWT claims without verifying the signature.
func PeekToken(token string) (TokenInfo, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenInfo{}, err
	}
	if claims.ExpiresAt == nil {
		return TokenInfo{}, errNoExpiry
	}
	return TokenInfo{Subject: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}, nil
}
