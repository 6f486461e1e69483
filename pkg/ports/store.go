package ports

import (
	"context"

	"github.com/aretw0/dwsm/pkg/domain"
)

// RemoteStore is the shared, durable storage for session snapshots.
// Implementations must be safe for concurrent use; the coordinator adds no locking around them.
type RemoteStore interface {
	// Start prepares the store (connections, directories). Called once by the coordinator.
	Start(ctx context.Context) error

	// Stop releases resources acquired by Start.
	Stop(ctx context.Context) error

	// IsStored reports whether a snapshot exists for the session.
	IsStored(ctx context.Context, sessionID string) (bool, error)

	// GetSessionMetaData returns the full snapshot, or nil and no error when absent.
	GetSessionMetaData(ctx context.Context, sessionID string) (*domain.MetaData, error)

	// GetSessionMetaDataField returns a single field (see domain.Field* keys).
	// found is false when the session or the field does not exist.
	GetSessionMetaDataField(ctx context.Context, sessionID, field string) (value string, found bool, err error)

	// SaveSession writes the snapshot, replacing any previous one.
	SaveSession(ctx context.Context, meta domain.MetaData) error

	// RemoveSession deletes the snapshot. Removing an unknown session is not an error.
	RemoveSession(ctx context.Context, sessionID string) error
}

// SessionLister is implemented by stores able to enumerate stored sessions.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]string, error)
}
