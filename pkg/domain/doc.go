/*
Package domain contains the core types shared by the session coordinator and its adapters.

# Key Types

  - Session: the local, concurrency-safe copy of a distributed session.
  - MetaData: the serializable snapshot stored remotely and used for rehydration.
  - Event: lifecycle notification delivered to CreatedListener and DestroyedListener.

A Session, once invalid, is never made valid again; a new ID has to be issued instead.
*/
package domain
