// Package auth carries the authenticated user through request contexts.
package auth

import "context"

// User is an authenticated caller.
type User struct {
	Name string
}

type ctxKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFrom returns the user carried by ctx. Users with an empty name are
// treated as absent.
func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	if !ok || u.Name == "" {
		return User{}, false
	}
	return u, true
}
