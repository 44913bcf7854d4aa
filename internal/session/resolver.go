package session

import (
	"context"

	"nuha.dev/fleettrack/internal/model"
)

type UserWatcher interface {
	WatchUser(ctx context.Context, id string) (<-chan model.User, error)
}

type UserGetter interface {
	GetUser(ctx context.Context, id string) (model.User, error)
}

// Resolver reads a user's role and follows its changes.
type Resolver struct {
	users UserGetter
	feed  UserWatcher
}

func NewResolver(users UserGetter, feed UserWatcher) *Resolver {
	return &Resolver{users: users, feed: feed}
}

// Resolve returns the current user document and a channel of later versions
// that closes when ctx ends.
func (r *Resolver) Resolve(ctx context.Context, uid string) (model.User, <-chan model.User, error) {
	u, err := r.users.GetUser(ctx, uid)
	if err != nil {
		return model.User{}, nil, err
	}
	ch, err := r.feed.WatchUser(ctx, uid)
	if err != nil {
		return model.User{}, nil, err
	}
	return u, ch, nil
}
