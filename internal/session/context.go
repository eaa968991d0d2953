package session

import "context"

type storeContextKey struct{}

// ContextWithStore stores the identity store in context.
func ContextWithStore(ctx context.Context, store *Store) context.Context {
	return context.WithValue(ctx, storeContextKey{}, store)
}

// FromContext extracts the identity store from context.
func FromContext(ctx context.Context) *Store {
	store, _ := ctx.Value(storeContextKey{}).(*Store)
	return store
}
