/*
Package jobqueue runs the replication pipeline on River, a Postgres backed
durable job queue.

Every pipeline step is its own job kind carrying only the request id. A
worker executes its step, then in one transaction records the step's
progress, inserts the job for the next step and marks itself complete, so
a crash never loses or duplicates a hand-off. Retryable errors are left to
River's backoff; terminal errors cancel the job and enqueue a
complete_request job that records the failure.

Each step runs under a heartbeat watchdog: components report liveness with
replication.Heartbeat and a step that stays silent longer than the
configured timeout has its context cancelled, which kills its child
processes and lets River retry it.

Tunables live in config.go.
*/
package jobqueue
