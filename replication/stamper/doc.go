// Package stamper substitutes double-brace {{var}} placeholders in the
// templates used for pull request titles, bodies and commit messages.
// Variables come from the replication request and, optionally, from
// "KEY VALUE" stamp files named in configuration.
package stamper
