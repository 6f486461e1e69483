package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/dwsm/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRemoteStoreContract runs a suite of tests to verify that a RemoteStore implementation
// adheres to the defined interface contract. The store must already be started.
func RunRemoteStoreContract(t *testing.T, store RemoteStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")

	newMeta := func(id string, ts int64) domain.MetaData {
		return domain.MetaData{
			ID:                  id,
			CreationTime:        ts,
			LastAccessedTime:    ts,
			MaxInactiveInterval: 1800,
			Valid:               true,
			Attributes:          map[string]string{"foo": "bar"},
		}
	}

	t.Run("Save and Get", func(t *testing.T) {
		meta := newMeta(sessionID, 1_700_000_000_000)
		require.NoError(t, store.SaveSession(ctx, meta), "SaveSession should not return error")

		stored, err := store.IsStored(ctx, sessionID)
		require.NoError(t, err)
		assert.True(t, stored)

		loaded, err := store.GetSessionMetaData(ctx, sessionID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, meta.LastAccessedTime, loaded.LastAccessedTime)
		assert.Equal(t, meta.MaxInactiveInterval, loaded.MaxInactiveInterval)
		assert.True(t, loaded.Valid)
		assert.Equal(t, "bar", loaded.Attributes["foo"])
	})

	t.Run("Field Lookup", func(t *testing.T) {
		require.NoError(t, store.SaveSession(ctx, newMeta(sessionID, 1_700_000_000_123)))

		v, found, err := store.GetSessionMetaDataField(ctx, sessionID, domain.FieldLastAccessedTime)
		require.NoError(t, err)
		require.True(t, found)
		ts, err := domain.ParseTimestamp(v)
		require.NoError(t, err)
		assert.Equal(t, int64(1_700_000_000_123), ts)

		_, found, err = store.GetSessionMetaDataField(ctx, "non-existent-"+sessionID, domain.FieldLastAccessedTime)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		loaded, err := store.GetSessionMetaData(ctx, "non-existent-"+sessionID)
		assert.NoError(t, err)
		assert.Nil(t, loaded)

		stored, err := store.IsStored(ctx, "non-existent-"+sessionID)
		assert.NoError(t, err)
		assert.False(t, stored)
	})

	t.Run("Remove is idempotent", func(t *testing.T) {
		require.NoError(t, store.SaveSession(ctx, newMeta(sessionID, 1)))

		require.NoError(t, store.RemoveSession(ctx, sessionID), "RemoveSession should not return error")
		require.NoError(t, store.RemoveSession(ctx, sessionID), "second RemoveSession should be a no-op")

		loaded, err := store.GetSessionMetaData(ctx, sessionID)
		assert.NoError(t, err)
		assert.Nil(t, loaded, "GetSessionMetaData after RemoveSession should be absent")
	})

	lister, ok := store.(SessionLister)
	if !ok {
		return
	}

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		_ = store.SaveSession(ctx, newMeta(id1, 1))
		_ = store.SaveSession(ctx, newMeta(id2, 1))

		defer func() {
			_ = store.RemoveSession(ctx, id1)
			_ = store.RemoveSession(ctx, id2)
		}()

		sessions, err := lister.ListSessions(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}
