// Package git provides local git repository operations and a strategy
// interface for opening pull requests across git hosting platforms.
//
// Repo wraps a local clone with the commands the pipeline needs: cloning
// and syncing a mirror with fast-forward and no-fast-forward merges,
// creating a request branch, applying a patch, committing and pushing
// without ever forcing. Every command runs through replication/exec and
// honours context cancellation.
//
// The Provider interface abstracts pull request lookup and creation.
// Implementations exist for GitHub, GitLab, and Bitbucket Server in
// sub-packages. OpenPR layers the idempotency rule on top of any Provider:
// look up first, create otherwise, and resolve a duplicate rejection into
// the existing pull request.
package git
