package macaroons

import (
	"context"
	"errors"
)

var (
	// RootKeyIDContextKey is the key to get rootKeyID from context.
	RootKeyIDContextKey = contextKey{"rootkeyid"}

	// ErrContextRootKeyID is used when the supplied context doesn't have
	// a root key ID.
	ErrContextRootKeyID = errors.New("failed to read root key ID from " +
		"context")
)

// contextKey is the type we use to identify values in the context.
type contextKey struct {
	Name string
}

// ContextWithRootKeyID returns a copy of ctx that carries the root key ID the
// store should mint with.
func ContextWithRootKeyID(ctx context.Context, id []byte) context.Context {
	return context.WithValue(ctx, RootKeyIDContextKey, id)
}

// RootKeyIDFromContext retrieves the root key ID from context using the key
// RootKeyIDContextKey.
func RootKeyIDFromContext(ctx context.Context) ([]byte, error) {
	id, ok := ctx.Value(RootKeyIDContextKey).([]byte)
	if !ok {
		return nil, ErrContextRootKeyID
	}

	// Check that the id is not empty.
	if len(id) == 0 {
		return nil, ErrMissingRootKeyID
	}

	return id, nil
}
