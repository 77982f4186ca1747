package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/makeasinger/orchestrator/internal/config"
)

const discoveryTimeout = 30 * time.Second

var errInvalidClaims = errors.New("invalid token claims")

// TokenVerifier defines the interface for JWT token verification
type TokenVerifier interface {
	Validate(tokenString string) (*Claims, error)
	Close() error
}

// Claims represents the JWT claims from Zitadel. The wallet address is a
// custom claim added by the login action.
type Claims struct {
	UserID            string   `json:"sub"`
	Email             string   `json:"email,omitempty"`
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	WalletAddress     string   `json:"wallet_address,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Account returns the identifier generations are recorded under
func (c *Claims) Account() string {
	if c.WalletAddress != "" {
		return c.WalletAddress
	}
	return c.UserID
}

// JWKSVerifier checks provider-signed tokens against the issuer's key set.
// The key set refreshes in the background until Close.
type JWKSVerifier struct {
	keys   keyfunc.Keyfunc
	parser *jwt.Parser
	stop   context.CancelFunc
}

// NewJWKSVerifier discovers the issuer's key set and starts refreshing it
func NewJWKSVerifier(cfg *config.ZitadelConfig) (*JWKSVerifier, error) {
	return newJWKSVerifier(cfg.Issuer, cfg.ClientID, &http.Client{Timeout: discoveryTimeout})
}

func newJWKSVerifier(issuer, audience string, httpClient *http.Client) (*JWKSVerifier, error) {
	if issuer == "" {
		return nil, fmt.Errorf("zitadel issuer is required")
	}
	issuer = strings.TrimSuffix(issuer, "/")

	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	jwksURL, err := discoverJWKSURL(ctx, httpClient, issuer)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to discover JWKS URL: %w", err)
	}

	refreshCtx, stop := context.WithCancel(context.Background())
	keys, err := keyfunc.NewDefaultCtx(refreshCtx, []string{jwksURL})
	if err != nil {
		stop()
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	return &JWKSVerifier{
		keys:   keys,
		parser: jwt.NewParser(opts...),
		stop:   stop,
	}, nil
}

// discoverJWKSURL reads jwks_uri from the issuer's OIDC discovery document
func discoverJWKSURL(ctx context.Context, httpClient *http.Client, issuer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+"/.well-known/openid-configuration", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create discovery request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("jwks_uri not found in discovery document")
	}
	return doc.JWKSURI, nil
}

// Validate parses a token and returns its claims. Tokens without a subject
// cannot be tied to an account and are rejected.
func (v *JWKSVerifier) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, v.keys.Keyfunc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid || claims.Account() == "" {
		return nil, errInvalidClaims
	}
	return claims, nil
}

// Close stops the background key refresh
func (v *JWKSVerifier) Close() error {
	v.stop()
	return nil
}
