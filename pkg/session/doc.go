/*
Package session implements the coordination between a process-local session cache
and a shared remote store.

The Coordinator is the only component that talks to both. On a local hit it asks
the store for the session's last access time and refreshes the local copy when the
two disagree; on a miss it rehydrates the session from its stored snapshot.
Removal fires the destroyed event, deletes from the store, then from the cache.

A Sweeper, owned and scheduled by the Coordinator, evicts invalid sessions from the
local cache without consulting the store.
*/
package session
