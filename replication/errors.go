package replication

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidMergeProposal is returned for links that do not point at
	// the source platform.
	ErrInvalidMergeProposal = errors.New("invalid merge proposal link")

	// ErrDiffMismatch is returned when a branch for the request already
	// exists with content from a different diff.
	ErrDiffMismatch = errors.New("branch exists with a different diff")

	// ErrInvalidTransition is returned when a status write would move a
	// request backwards or out of a terminal status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidBranchName is returned for request ids git refuses as
	// branch names.
	ErrInvalidBranchName = errors.New("invalid branch name")
)

// UpstreamFetchError reports a non-2xx answer from the source platform.
type UpstreamFetchError struct {
	URL        string
	StatusCode int
}

func (e *UpstreamFetchError) Error() string {
	return fmt.Sprintf(
		"upstream fetch %s: status %d", e.URL, e.StatusCode,
	)
}

// MalformedResponseError reports a 2xx answer that breaks the source
// platform's API contract.
type MalformedResponseError struct {
	URL    string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf(
		"malformed response from %s: %s", e.URL, e.Reason,
	)
}

// MirrorSyncError reports a failed git command while cloning or syncing a
// mirror.
type MirrorSyncError struct {
	Target Target
	Op     string
	Err    error
}

func (e *MirrorSyncError) Error() string {
	return fmt.Sprintf(
		"mirror %s: %s: %v", e.Target, e.Op, e.Err,
	)
}

func (e *MirrorSyncError) Unwrap() error { return e.Err }

// PatchApplyError reports a diff that does not apply on the default
// branch tip.
type PatchApplyError struct {
	RequestID string
	Err       error
}

func (e *PatchApplyError) Error() string {
	return fmt.Sprintf(
		"applying patch for %s: %v", e.RequestID, e.Err,
	)
}

func (e *PatchApplyError) Unwrap() error { return e.Err }

// BranchPushError reports a failure to create or push the request branch.
type BranchPushError struct {
	RequestID string
	Err       error
}

func (e *BranchPushError) Error() string {
	return fmt.Sprintf(
		"pushing branch %s: %v", e.RequestID, e.Err,
	)
}

func (e *BranchPushError) Unwrap() error { return e.Err }

// PullRequestCreationError reports a forge rejection other than the
// duplicate head/base case.
type PullRequestCreationError struct {
	StatusCode int
	Err        error
}

func (e *PullRequestCreationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf(
			"creating pull request: status %d", e.StatusCode,
		)
	}

	return fmt.Sprintf(
		"creating pull request: status %d: %v",
		e.StatusCode, e.Err,
	)
}

func (e *PullRequestCreationError) Unwrap() error { return e.Err }

// NotFoundError reports a missing request in storage.
type NotFoundError struct {
	RequestID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("request %s not found", e.RequestID)
}

// IsTerminal reports whether retrying err with the same input cannot
// succeed. The orchestrator stops retrying and records a failure for
// terminal errors; everything else is left to its backoff policy.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrInvalidMergeProposal) ||
		errors.Is(err, ErrDiffMismatch) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidBranchName) {
		return true
	}

	var (
		patchErr     *PatchApplyError
		pushErr      *BranchPushError
		malformedErr *MalformedResponseError
		notFoundErr  *NotFoundError
		upstreamErr  *UpstreamFetchError
		prErr        *PullRequestCreationError
	)

	switch {
	case errors.As(err, &patchErr),
		errors.As(err, &pushErr),
		errors.As(err, &malformedErr),
		errors.As(err, &notFoundErr):
		return true
	case errors.As(err, &upstreamErr):
		return isClientError(upstreamErr.StatusCode)
	case errors.As(err, &prErr):
		return isClientError(prErr.StatusCode)
	default:
		return false
	}
}

// isClientError reports 4xx statuses that will not change on retry.
func isClientError(code int) bool {
	if code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests {
		return false
	}

	return code >= 400 && code < 500
}
