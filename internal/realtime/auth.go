package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Errors
var (
	ErrMissingToken     = errors.New("auth token required")
	ErrIdentityMismatch = errors.New("token subject does not match userId")
)

// Authenticator decides which user an auth message binds the socket to.
type Authenticator interface {
	Authenticate(ctx context.Context, msg Inbound) (UserID, error)
}

// TrustAuthenticator accepts the userId the client claims.
type TrustAuthenticator struct{}

func (TrustAuthenticator) Authenticate(_ context.Context, msg Inbound) (UserID, error) {
	return msg.UserID, nil
}

// TokenAuthenticator requires an HS256 token whose subject is the claimed
// userId.
type TokenAuthenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewTokenAuthenticator returns an authenticator verifying tokens signed
// with secret.
func NewTokenAuthenticator(secret string) *TokenAuthenticator {
	return &TokenAuthenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, msg Inbound) (UserID, error) {
	if msg.Token == "" {
		return "", ErrMissingToken
	}

	var claims jwt.RegisteredClaims
	_, err := a.parser.ParseWithClaims(msg.Token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	if UserID(claims.Subject) != msg.UserID {
		return "", ErrIdentityMismatch
	}
	return msg.UserID, nil
}
