package auth

import "context"

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying the claims of the caller.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext returns the claims the middleware attached, if any.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}

// Subject returns the token subject of the caller, or "anonymous" on
// public paths.
func Subject(ctx context.Context) string {
	if claims, ok := FromContext(ctx); ok {
		return claims.Subject
	}
	return "anonymous"
}
