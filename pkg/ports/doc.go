/*
Package ports defines the driven ports (interfaces) of the session coordinator.

These interfaces decouple the coordination logic from external implementations,
allowing the same coordinator to run against Redis, a shared filesystem or memory.

# Key Interfaces

  - RemoteStore: shared storage for session snapshots, including the lightweight
    single-field lookup used for staleness detection.
  - SessionLister: optional enumeration of stored sessions.
  - IDGenerator: mints new session identifiers.
*/
package ports
