// Package commitmsg generates and parses the replication trailers embedded in
// git commit messages. The materializer stamps every commit it creates with
// the request id and the digest of the applied diff so that a later attempt
// can tell whether an existing branch already carries the same content.
package commitmsg
