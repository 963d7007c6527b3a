package jwtauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/joeshaw/envdecode"
)

// EnvConfig selects an authenticator from the environment. Slices are
// separated by semicolons.
type EnvConfig struct {
	Issuer     string   `env:"UNITY_MCP_OIDC_ISSUER"`
	JWKSURL    string   `env:"UNITY_MCP_JWKS_URL"`
	Audiences  []string `env:"UNITY_MCP_JWT_AUDIENCE"`
	Scopes     []string `env:"UNITY_MCP_JWT_SCOPES"`
	AnyScope   bool     `env:"UNITY_MCP_JWT_ANY_SCOPE"`
	HMACSecret string   `env:"UNITY_MCP_JWT_SECRET"`
}

// NewFromEnv builds an authenticator from EnvConfig. It returns nil and no
// error when nothing is configured. Precedence: a shared HMAC secret, then an
// explicit JWKS URL, then OIDC discovery on the issuer.
func NewFromEnv(ctx context.Context) (Authenticator, error) {
	var env EnvConfig
	if err := envdecode.Decode(&env); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil, nil
		}
		return nil, fmt.Errorf("jwtauth: decode env: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Issuer = env.Issuer
	cfg.ExpectedAudiences = env.Audiences
	cfg.RequiredScopes = env.Scopes
	cfg.ScopeModeAny = env.AnyScope

	switch {
	case env.HMACSecret != "":
		return NewHMAC(cfg, []byte(env.HMACSecret))
	case env.JWKSURL != "":
		return NewJWKS(ctx, cfg, env.JWKSURL)
	case env.Issuer != "":
		return NewFromDiscovery(ctx, cfg)
	default:
		return nil, nil
	}
}
