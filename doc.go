/*
Package dwsm coordinates web sessions across the nodes of a cluster.

Each node keeps a local cache of session handles in front of a shared remote store.
A lookup served from the cache is checked against the store's last access time and
refreshed when the two disagree, so a session touched on one node is never served
stale by another.

# Layout

  - pkg/domain: the Session handle, its MetaData snapshot and lifecycle events.
  - pkg/ports: RemoteStore and IDGenerator contracts.
  - pkg/session: the Coordinator, the sweep task and event dispatch.
  - pkg/adapters: memory, redis and id generator implementations.
  - pkg/persistence/middleware: store decorators (timeouts, metrics, attribute encryption).
  - cmd/dwsm: the command line entrypoint.

# Usage

	store := redis.New("localhost:6379", "", 0)
	ids, _ := idgen.New(idgen.WithWorker("web1"))
	coord, _ := session.NewCoordinator(store, ids, session.WithMaxInactiveInterval(30*time.Minute))
	_ = coord.Start(ctx)
	defer coord.Stop(ctx)

	s, _ := coord.NewSession(ctx)
	_ = coord.Persist(ctx, s)
*/
package dwsm
