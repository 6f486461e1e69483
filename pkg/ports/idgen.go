package ports

import (
	"context"
	"time"
)

// IDGenerator mints new session identifiers.
type IDGenerator interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// NewSessionID returns an identifier with negligible collision probability
	// within the store's retention window. ctx carries the triggering request.
	NewSessionID(ctx context.Context, now time.Time) (string, error)
}
