package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"mediaflow/internal/domain"
)

// TokenClaims is the payload of the HS256 bearer tokens issued upstream.
type TokenClaims struct {
	Sub      string `json:"sub"`
	Plan     string `json:"plan"`
	Locale   string `json:"locale,omitempty"`
	Exp      int64  `json:"exp"`
	Issuer   string `json:"iss,omitempty"`
	Audience string `json:"aud,omitempty"`
}

// Principal identifies the caller of an authenticated request.
type Principal struct {
	AccountID string
	Plan      domain.Plan
	Locale    string
}

type principalKey struct{}

var (
	errInvalidToken = errors.New("invalid token")
	errInvalidSig   = errors.New("invalid signature")
	errTokenExpired = errors.New("token expired")
)

func SignJWT(secret string, claims TokenClaims) (string, error) {
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	headerEnc := base64.RawURLEncoding.EncodeToString(headerJSON)
	payloadEnc := base64.RawURLEncoding.EncodeToString(payloadJSON)
	data := headerEnc + "." + payloadEnc
	return data + "." + hmacSign(secret, data), nil
}

func hmacSign(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func VerifyJWT(secret, token string) (*TokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errInvalidToken
	}
	expected := hmacSign(secret, parts[0]+"."+parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, errInvalidSig
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, err
	}
	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, err
	}
	if claims.Exp != 0 && time.Now().Unix() > claims.Exp {
		return nil, errTokenExpired
	}
	if strings.TrimSpace(claims.Sub) == "" {
		return nil, errInvalidToken
	}
	return &claims, nil
}

// AuthOptions configures Authenticate.
type AuthOptions struct {
	Secret   string
	Issuer   string
	Audience string
	// AllowDevHeader accepts X-Account-ID (and X-Account-Plan) without a
	// token. Development only.
	AllowDevHeader bool
	// Verifier checks bearer tokens that are not HS256-signed with Secret,
	// e.g. RS256 ID tokens from an OpenID provider.
	Verifier TokenVerifier
}

// TokenVerifier validates a bearer token signed by an external issuer.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*TokenClaims, error)
}

// Authenticate resolves the caller from a bearer token, or from the dev
// headers when enabled, and rejects the request otherwise.
func Authenticate(opts AuthOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := resolvePrincipal(r, opts)
			if !ok {
				WriteError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			ctx := ContextWithPrincipal(r.Context(), principal)
			if principal.Locale != "" && r.Header.Get("X-Locale") == "" {
				ctx = context.WithValue(ctx, LocaleKey, principal.Locale)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolvePrincipal(r *http.Request, opts AuthOptions) (Principal, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return Principal{}, false
		}
		claims, ok := verifyBearer(r.Context(), opts, strings.TrimSpace(parts[1]))
		if !ok {
			return Principal{}, false
		}
		return Principal{AccountID: claims.Sub, Plan: domain.ParsePlan(claims.Plan), Locale: claims.Locale}, true
	}
	if opts.AllowDevHeader {
		id := strings.TrimSpace(r.Header.Get("X-Account-ID"))
		if id == "" {
			return Principal{}, false
		}
		return Principal{AccountID: id, Plan: domain.ParsePlan(strings.ToLower(r.Header.Get("X-Account-Plan")))}, true
	}
	return Principal{}, false
}

func verifyBearer(ctx context.Context, opts AuthOptions, token string) (*TokenClaims, bool) {
	if opts.Secret != "" {
		claims, err := VerifyJWT(opts.Secret, token)
		if err == nil {
			if (opts.Issuer != "" && claims.Issuer != opts.Issuer) || (opts.Audience != "" && claims.Audience != opts.Audience) {
				return nil, false
			}
			return claims, true
		}
	}
	if opts.Verifier == nil {
		return nil, false
	}
	claims, err := opts.Verifier.Verify(ctx, token)
	if err != nil || strings.TrimSpace(claims.Sub) == "" {
		return nil, false
	}
	return claims, true
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	if strings.TrimSpace(p.AccountID) == "" {
		return ctx
	}
	return context.WithValue(ctx, principalKey{}, p)
}

// AccountIDFromContext returns the caller's account id or "".
func AccountIDFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.AccountID
}
