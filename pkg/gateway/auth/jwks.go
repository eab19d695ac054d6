package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/workos/workos-go/v6/pkg/usermanagement"
)

// TokenVerifier validates a bearer token and resolves the user it belongs to.
type TokenVerifier interface {
	Verify(tokenString string) (userID string, err error)
}

// JWKSVerifier validates WorkOS session JWTs against the client's JWKS
// endpoint. Keys are cached and refreshed in the background.
type JWKSVerifier struct {
	jwks   *keyfunc.JWKS
	logger *slog.Logger
}

// NewJWKSVerifier fetches the JWKS for the given WorkOS client and keeps it
// refreshed until ctx is cancelled.
func NewJWKSVerifier(ctx context.Context, apiKey, clientID string, logger *slog.Logger) (*JWKSVerifier, error) {
	usermanagement.SetAPIKey(apiKey)
	jwksURL, err := usermanagement.GetJWKSURL(clientID)
	if err != nil {
		return nil, fmt.Errorf("resolve JWKS URL: %w", err)
	}

	options := keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Warn("jwks refresh failed", "error", err)
		},
	}
	jwks, err := keyfunc.Get(jwksURL.String(), options)
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS: %w", err)
	}
	return &JWKSVerifier{jwks: jwks, logger: logger}, nil
}

func (v *JWKSVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, v.jwks.Keyfunc,
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("token is not valid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}
