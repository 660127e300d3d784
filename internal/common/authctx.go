package common

import (
	"context"
	"strings"
)

type uidKey struct{}

// WithUserID stores the cart owner's user id, the bearer token subject.
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, uidKey{}, strings.TrimSpace(uid))
}

// UserID returns the cart owner stored by WithUserID. Blank ids are reported
// as absent.
func UserID(ctx context.Context) (string, bool) {
	uid, _ := ctx.Value(uidKey{}).(string)
	return uid, uid != ""
}
