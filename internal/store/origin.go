package store

import (
	"context"

	"dayroll/internal/events"
)

type originKey struct{}

// WithRemoteOrigin marks writes made through ctx as applied from a remote
// copy. Such writes do not count as local changes to upload.
func WithRemoteOrigin(ctx context.Context) context.Context {
	return context.WithValue(ctx, originKey{}, events.OriginRemote)
}

func OriginFrom(ctx context.Context) events.Origin {
	if o, ok := ctx.Value(originKey{}).(events.Origin); ok {
		return o
	}
	return events.OriginLocal
}
