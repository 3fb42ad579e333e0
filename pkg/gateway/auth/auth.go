// Package auth carries the authenticated caller of an HTTP request.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

type Principal struct {
	APIKey string
}

// KeyID is a stable, non-reversible label for the principal's key, safe to log.
func (p *Principal) KeyID() string {
	if p == nil || p.APIKey == "" {
		return "anonymous"
	}
	sum := sha256.Sum256([]byte(p.APIKey))
	return "k_" + hex.EncodeToString(sum[:8])
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseBearer extracts the token from "Authorization: Bearer <token>".
func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// KeyAllowed reports whether token is one of keys, comparing in constant time.
func KeyAllowed(keys map[string]struct{}, token string) bool {
	ok := 0
	for k := range keys {
		ok |= subtle.ConstantTimeCompare([]byte(k), []byte(token))
	}
	return ok == 1
}
