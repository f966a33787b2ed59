// Package store persists replication requests in Postgres through pgx.
//
// Store satisfies both replication.Repository (each call in its own
// implicit transaction) and replication.Transactor. WithTx binds the same
// queries to a transaction owned by the caller, which is how the job queue
// records progress and enqueues the next step atomically.
package store
