package jwtauth

import (
	"context"
	"errors"
	"fmt"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// NewJWKS constructs an authenticator that validates tokens against a
// statically configured issuer and JWKS URI (no discovery).
func NewJWKS(ctx context.Context, cfg *Config, jwksURI string) (Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return newVerifier(cfg, cfg.Issuer, kf.Keyfunc), nil
}

// NewHMAC constructs an authenticator for tokens signed with a shared secret.
// This suits a single developer exposing their editor on a LAN.
func NewHMAC(cfg *Config, secret []byte) (Authenticator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if len(secret) < 32 {
		return nil, errors.New("hmac secret must be at least 32 bytes")
	}
	if len(cfg.AllowedAlgs) == 0 || (len(cfg.AllowedAlgs) == 1 && cfg.AllowedAlgs[0] == "RS256") {
		cfg.AllowedAlgs = []string{"HS256"}
	}
	return newVerifier(cfg, cfg.Issuer, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return secret, nil
	}), nil
}
