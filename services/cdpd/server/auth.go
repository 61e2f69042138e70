package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig selects the admin authentication mechanisms. A JWTSecret enables
// HS256 operator tokens carrying the operator in the sub claim.
type AuthConfig struct {
	BearerToken string
	AllowMTLS   bool
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	ClockSkew   time.Duration
}

// Authenticator guards operator endpoints such as emergency shutdown.
type Authenticator struct {
	token     []byte
	allowMTLS bool
	jwtSecret []byte
	parser    *jwt.Parser
}

// Principal is the authenticated operator.
type Principal struct {
	Method  string
	Subject string
}

type principalKey struct{}

// PrincipalFromContext returns the operator attached by Authenticator.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(*Principal)
	return principal, ok && principal != nil
}

// NewAuthenticator requires at least one mechanism.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	token := strings.TrimSpace(cfg.BearerToken)
	secret := strings.TrimSpace(cfg.JWTSecret)
	if token == "" && secret == "" && !cfg.AllowMTLS {
		return nil, errors.New("admin authentication requires a bearer token, a JWT secret or mTLS")
	}
	a := &Authenticator{token: []byte(token), allowMTLS: cfg.AllowMTLS}
	if secret != "" {
		opts := []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(cfg.ClockSkew),
		}
		if issuer := strings.TrimSpace(cfg.JWTIssuer); issuer != "" {
			opts = append(opts, jwt.WithIssuer(issuer))
		}
		if audience := strings.TrimSpace(cfg.JWTAudience); audience != "" {
			opts = append(opts, jwt.WithAudience(audience))
		}
		a.jwtSecret = []byte(secret)
		a.parser = jwt.NewParser(opts...)
	}
	return a, nil
}

// Middleware rejects unauthenticated requests with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := a.authenticate(r)
		if principal == nil {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
	})
}

func (a *Authenticator) authenticate(r *http.Request) *Principal {
	if a == nil || r == nil {
		return nil
	}
	if token := parseBearerToken(r.Header.Get("Authorization")); token != "" {
		if len(a.token) > 0 && subtle.ConstantTimeCompare([]byte(token), a.token) == 1 {
			return &Principal{Method: "bearer"}
		}
		if subject, err := a.verifyJWT(token); err == nil {
			return &Principal{Method: "jwt", Subject: subject}
		}
	}
	if a.allowMTLS && r.TLS != nil && r.TLS.HandshakeComplete && len(r.TLS.PeerCertificates) > 0 {
		return &Principal{Method: "mtls", Subject: r.TLS.PeerCertificates[0].Subject.CommonName}
	}
	return nil
}

func parseBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (a *Authenticator) verifyJWT(token string) (string, error) {
	if a.parser == nil {
		return "", errors.New("jwt not configured")
	}
	claims := jwt.RegisteredClaims{}
	parsed, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("token invalid")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("token missing subject")
	}
	return claims.Subject, nil
}
