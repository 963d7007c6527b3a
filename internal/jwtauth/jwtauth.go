// Package jwtauth validates the bearer tokens that remote peers present when
// opening an editor connection.
package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Config controls validation behavior for bearer tokens.
type Config struct {
	// Issuer is enforced when non-empty. Discovery-based authenticators use
	// the issuer advertised by the provider.
	Issuer string
	// ExpectedAudiences is matched by intersection against the aud claim. An
	// empty list disables the audience check.
	ExpectedAudiences []string
	RequiredScopes    []string
	ScopeModeAny      bool // if true, any of RequiredScopes is sufficient; else all are required
	AllowedAlgs       []string
	Leeway            time.Duration
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

// UserInfo is the validated token subject plus its raw claims.
type UserInfo interface {
	UserID() string
	Claims(ref any) error
}

type userInfo struct {
	sub    string
	claims map[string]any
}

func (u *userInfo) UserID() string { return u.sub }
func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Authenticator validates bearer tokens. Implementations MUST perform
// signature, issuer, audience and time validations.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// ErrUnauthorized indicates that the token failed validation and the
// connection should be refused.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrInsufficientScope indicates the token was valid but did not satisfy the
// required scopes policy.
var ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")

// BearerToken extracts the token from an Authorization header.
func BearerToken(h http.Header) (string, bool) {
	v := h.Get("Authorization")
	scheme, tok, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// NewFromDiscovery performs OIDC discovery to obtain jwks_uri and issuer and
// returns an Authenticator backed by an auto-refreshing JWKS.
func NewFromDiscovery(ctx context.Context, cfg *Config) (Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return newVerifier(cfg, meta.Issuer, kf.Keyfunc), nil
}

type verifier struct {
	cfg     *Config
	issuer  string
	keyfunc jwt.Keyfunc
}

var _ Authenticator = (*verifier)(nil)

func newVerifier(cfg *Config, issuer string, kf jwt.Keyfunc) *verifier {
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	return &verifier{
		cfg:    cfg,
		issuer: issuer,
		keyfunc: func(t *jwt.Token) (any, error) {
			if alg := t.Method.Alg(); !slices.Contains(cfg.AllowedAlgs, alg) {
				return nil, fmt.Errorf("disallowed alg: %s", alg)
			}
			return kf(t)
		},
	}
}

func (v *verifier) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.NewParser(opts...).Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	if len(v.cfg.ExpectedAudiences) > 0 && !audIntersects(claims["aud"], v.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}

	if len(v.cfg.RequiredScopes) > 0 {
		scopeStr, _ := claims["scope"].(string)
		have := strings.Fields(scopeStr)
		if v.cfg.ScopeModeAny {
			if !slices.ContainsFunc(v.cfg.RequiredScopes, func(s string) bool { return slices.Contains(have, s) }) {
				return nil, ErrInsufficientScope
			}
		} else {
			for _, want := range v.cfg.RequiredScopes {
				if !slices.Contains(have, want) {
					return nil, ErrInsufficientScope
				}
			}
		}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}

	return &userInfo{sub: sub, claims: claims}, nil
}

func audIntersects(aud any, wants []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(wants, v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && slices.Contains(wants, s) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if slices.Contains(wants, s) {
				return true
			}
		}
	}
	return false
}
