// Package oidc verifies RS256 ID tokens against an OpenID provider's
// published signing keys.
package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"mediaflow/internal/middleware"
)

const (
	// keyTTL bounds how long fetched keys are trusted before a refresh.
	keyTTL = time.Hour
	leeway = 30 * time.Second
)

var (
	ErrInvalidToken = errors.New("oidc: invalid token")
	ErrUnknownKey   = errors.New("oidc: unknown signing key")
)

var allowedAlgs = []jose.SignatureAlgorithm{jose.RS256}

// customClaims are optional provider claims mapped onto the principal.
type customClaims struct {
	Plan   string `json:"plan"`
	Locale string `json:"locale"`
}

// Verifier validates ID tokens issued by one provider for one audience.
type Verifier struct {
	issuer     string
	audience   string
	httpClient *http.Client
	now        func() time.Time

	mu      sync.RWMutex
	keys    jose.JSONWebKeySet
	fetched time.Time
}

// NewVerifier returns nil when issuer is empty.
func NewVerifier(issuer, audience string, client *http.Client) *Verifier {
	issuer = strings.TrimRight(strings.TrimSpace(issuer), "/")
	if issuer == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Verifier{issuer: issuer, audience: audience, httpClient: client, now: time.Now}
}

// Verify checks the signature, issuer, audience and expiry of token.
func (v *Verifier) Verify(ctx context.Context, token string) (*middleware.TokenClaims, error) {
	tok, err := jwt.ParseSigned(token, allowedAlgs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if len(tok.Headers) == 0 {
		return nil, ErrInvalidToken
	}
	key, err := v.key(ctx, tok.Headers[0].KeyID)
	if err != nil {
		return nil, err
	}

	var (
		std    jwt.Claims
		custom customClaims
	)
	if err := tok.Claims(key, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	expected := jwt.Expected{Issuer: v.issuer, Time: v.now()}
	if v.audience != "" {
		expected.AnyAudience = jwt.Audience{v.audience}
	}
	if err := std.ValidateWithLeeway(expected, leeway); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if std.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	claims := &middleware.TokenClaims{
		Sub:      std.Subject,
		Plan:     custom.Plan,
		Locale:   custom.Locale,
		Issuer:   std.Issuer,
		Audience: v.audience,
	}
	if std.Expiry != nil {
		claims.Exp = std.Expiry.Time().Unix()
	}
	return claims, nil
}

// key returns the signing key for kid, refreshing the set once when the
// cache is stale or does not know kid.
func (v *Verifier) key(ctx context.Context, kid string) (jose.JSONWebKey, error) {
	v.mu.RLock()
	found := v.keys.Key(kid)
	fresh := v.now().Sub(v.fetched) < keyTTL
	v.mu.RUnlock()
	if len(found) > 0 && fresh {
		return found[0], nil
	}
	if err := v.refresh(ctx); err != nil {
		return jose.JSONWebKey{}, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if found := v.keys.Key(kid); len(found) > 0 {
		return found[0], nil
	}
	return jose.JSONWebKey{}, ErrUnknownKey
}

func (v *Verifier) refresh(ctx context.Context) error {
	var discovery struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := v.getJSON(ctx, v.issuer+"/.well-known/openid-configuration", &discovery); err != nil {
		return err
	}
	if discovery.JWKSURI == "" {
		return errors.New("oidc: discovery document has no jwks_uri")
	}
	var set jose.JSONWebKeySet
	if err := v.getJSON(ctx, discovery.JWKSURI, &set); err != nil {
		return err
	}
	usable := set.Keys[:0]
	for _, k := range set.Keys {
		if k.Valid() && k.IsPublic() && (k.Use == "" || k.Use == "sig") {
			usable = append(usable, k)
		}
	}
	if len(usable) == 0 {
		return errors.New("oidc: no usable keys")
	}
	v.mu.Lock()
	v.keys = jose.JSONWebKeySet{Keys: usable}
	v.fetched = v.now()
	v.mu.Unlock()
	return nil
}

func (v *Verifier) getJSON(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("oidc: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oidc: fetch %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("oidc: decode %s: %w", url, err)
	}
	return nil
}
