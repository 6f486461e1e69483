package middleware

import (
	"context"
	"errors"

	"github.com/aretw0/dwsm/pkg/ports"
)

// ErrListUnsupported is returned by ListSessions when the wrapped store cannot enumerate.
var ErrListUnsupported = errors.New("store does not support listing sessions")

// Middleware allows wrapping a RemoteStore to add behavior.
type Middleware func(ports.RemoteStore) ports.RemoteStore

// Chain wraps store so that the first middleware is the outermost.
func Chain(store ports.RemoteStore, mws ...Middleware) ports.RemoteStore {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			store = mws[i](store)
		}
	}
	return store
}

func listSessions(ctx context.Context, next ports.RemoteStore) ([]string, error) {
	lister, ok := next.(ports.SessionLister)
	if !ok {
		return nil, ErrListUnsupported
	}
	return lister.ListSessions(ctx)
}
