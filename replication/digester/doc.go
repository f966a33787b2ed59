// Package digester calculates SHA256 digests of diff content. Digests are
// stamped into replication commits so an existing branch can be compared
// with the diff a retried attempt would apply.
package digester
