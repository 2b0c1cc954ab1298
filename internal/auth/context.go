package auth

import "context"

type refreshMarkerKey struct{}

// WithRefreshMarker marks ctx as belonging to a running refresh callback.
func WithRefreshMarker(ctx context.Context) context.Context {
	return context.WithValue(ctx, refreshMarkerKey{}, true)
}

// InRefresh reports whether ctx descends from a refresh callback context.
// Requests carrying such a context must not wait on a refresh, since the
// refresh they would wait on is the caller itself.
func InRefresh(ctx context.Context) bool {
	marked, _ := ctx.Value(refreshMarkerKey{}).(bool)

	return marked
}
