// Package runner drives replication requests through every pipeline step
// inside the current process, without a job queue. It retries retryable
// step failures with exponential backoff and records terminal failures.
// Several requests can be replicated concurrently with RunAll.
package runner
