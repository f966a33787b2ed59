// Package replication holds the domain model shared by every step of the
// merge proposal replication pipeline: the Request being replicated, its
// Status machine, the target repositories, the idempotency Outcome and the
// error taxonomy reported to the orchestrator.
//
// The five pipeline components live in sub-packages (launchpad, mirror,
// branch, pullreq, recorder). None of them call each other; the
// orchestrator in jobqueue (or runner for in-process use) sequences them.
package replication
