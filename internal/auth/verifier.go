// AngelaMos | 2026
// verifier.go

package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/arkkgraphics/lucia-backend/internal/config"
	"github.com/arkkgraphics/lucia-backend/internal/core"
	"github.com/arkkgraphics/lucia-backend/internal/middleware"
)

// Verifier validates bearer tokens minted by the external identity
// provider. Keys are pulled from the provider's JWKS endpoint and
// refreshed in the background by the jwk cache.
type Verifier struct {
	cache   *jwk.Cache
	jwksURL string
	config  config.AuthConfig
}

func NewVerifier(ctx context.Context, cfg config.AuthConfig) (*Verifier, error) {
	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, fmt.Errorf("create jwk cache: %w", err)
	}

	jwksURL := cfg.JWKSEndpoint()
	if regErr := cache.Register(ctx, jwksURL); regErr != nil {
		return nil, fmt.Errorf("register jwks endpoint: %w", regErr)
	}

	return &Verifier{
		cache:   cache,
		jwksURL: jwksURL,
		config:  cfg,
	}, nil
}

func (v *Verifier) VerifyAccessToken(
	ctx context.Context,
	tokenString string,
) (*middleware.IdentityClaims, error) {
	keySet, err := v.cache.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("lookup jwks: %w", err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.config.Issuer),
	}
	if v.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.config.Audience))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		if isTokenExpiredError(err) {
			return nil, fmt.Errorf("verify token: %w", core.ErrTokenExpired)
		}
		return nil, fmt.Errorf("verify token: %w", core.ErrTokenInvalid)
	}

	subject, ok := token.Subject()
	if !ok || subject == "" {
		return nil, fmt.Errorf(
			"verify token: missing subject: %w",
			core.ErrTokenInvalid,
		)
	}

	var email string
	//nolint:errcheck // email claim is optional
	_ = token.Get("email", &email)

	return &middleware.IdentityClaims{
		UserID: subject,
		Email:  email,
	}, nil
}

func isTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "exp") &&
		strings.Contains(errStr, "not satisfied")
}
