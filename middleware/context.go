// Package middleware holds the HTTP middleware shared by the gateway routes.
package middleware

import (
	"context"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/opswatch/llm-orchestrator/auth"
)

// contextKey avoids collisions with other packages' context values
type contextKey string

const (
	// claimsKey is the context key for verified token claims
	claimsKey contextKey = "claims"
)

// GetRequestID returns the chi request id for the request context
func GetRequestID(ctx context.Context) string {
	return chimiddleware.GetReqID(ctx)
}

// WithClaims stores verified claims on the context
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims returns the verified claims, nil when the request is anonymous
func GetClaims(ctx context.Context) *auth.Claims {
	if claims, ok := ctx.Value(claimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}
