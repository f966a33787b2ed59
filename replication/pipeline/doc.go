// Package pipeline defines the ordered replication steps and binds each
// one to its component.
//
// A step is split in two halves. Execute performs the external side
// effect (HTTP, git) outside any transaction. Commit records the step's
// result through a Repository the caller has bound to a transaction, so a
// driver can persist progress and hand off the next step atomically.
// Both halves are idempotent.
package pipeline
