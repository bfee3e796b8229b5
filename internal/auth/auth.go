package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const ctxKeySubject ctxKey = "mailroom.subject"

// Subject returns the authenticated subject stored in the request context,
// or "" for anonymous (dev-bypass) requests.
func Subject(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeySubject).(string); ok {
		return v
	}
	return ""
}

// Verifier validates HMAC-signed bearer tokens on the HTTP façade.
type Verifier struct {
	secret    []byte
	allowAnon bool
}

// NewVerifier builds a verifier. allowAnon is a dev affordance: when set,
// requests without a token pass through unauthenticated.
func NewVerifier(secret string, allowAnon bool) (*Verifier, error) {
	if secret == "" && !allowAnon {
		return nil, errors.New("auth: secret required unless anonymous access is allowed")
	}
	return &Verifier{secret: []byte(secret), allowAnon: allowAnon}, nil
}

// Middleware enforces bearer-token auth and stores the token subject in the
// request context for downstream handlers.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if authz == "" {
			if v.allowAnon {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "authorization required", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			http.Error(w, "bearer token required", http.StatusUnauthorized)
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])

		subject, err := v.verify(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeySubject, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (v *Verifier) verify(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("token parse error: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", errors.New("missing subject claim")
	}
	return subject, nil
}
