// Package branch turns a fetched diff into a branch on the forge.
//
// The branch is named after the request id and carries exactly one commit on
// top of the target's default branch. The commit message embeds the request
// id and the diff digest, which is how a retried attempt recognises a branch
// it already pushed.
package branch
