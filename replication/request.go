package replication

import (
	"fmt"
	"time"
)

// Target names the repository a request is replicated into.
type Target string

const (
	// TargetCanonical is the organisation owned mirror.
	TargetCanonical Target = "canonical"
	// TargetFork is the bot owned fork; pull requests opened from it use
	// an owner qualified head.
	TargetFork Target = "fork"
)

// Targets lists every known target in a stable order.
func Targets() []Target {
	return []Target{TargetCanonical, TargetFork}
}

// ParseTarget validates s as a Target.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case TargetCanonical, TargetFork:
		return Target(s), nil
	default:
		return "", fmt.Errorf(
			"parsing target: unknown target %q", s,
		)
	}
}

// String implements fmt.Stringer.
func (t Target) String() string { return string(t) }

// Status is the lifecycle position of a Request.
type Status string

const (
	StatusPending           Status = "pending"
	StatusBranchCreated     Status = "branch_created"
	StatusPullRequestOpened Status = "pull_request_opened"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
)

// rank orders the non-failed statuses. Failed is handled apart since it
// may follow any non-terminal status.
var rank = map[Status]int{
	StatusPending:           0,
	StatusBranchCreated:     1,
	StatusPullRequestOpened: 2,
	StatusCompleted:         3,
}

// ParseStatus validates s as a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := rank[st]; ok || st == StatusFailed {
		return st, nil
	}

	return "", fmt.Errorf(
		"parsing status: unknown status %q", s,
	)
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanAdvanceTo reports whether moving from s to next keeps the
// one-directional ordering. Staying on the same status is allowed so
// that re-applied updates are idempotent.
func (s Status) CanAdvanceTo(next Status) bool {
	if s == next {
		return true
	}

	if s.IsTerminal() {
		return false
	}

	if next == StatusFailed {
		return true
	}

	from, okFrom := rank[s]
	to, okTo := rank[next]

	return okFrom && okTo && to > from
}

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }

// Request is one attempt to carry a merge proposal's diff into a pull
// request on the target forge.
type Request struct {
	// ID is globally unique and doubles as the git branch name.
	ID string
	// MergeProposalLink is the human facing Launchpad URL.
	MergeProposalLink string
	// Target selects the mirror and forge repository.
	Target Target
	// Diff is empty until pinned by the fetch step, immutable after.
	Diff string
	// Status is the last recorded lifecycle position.
	Status Status
	// URL is the pull request URL once opened.
	URL string
	// FailureReason explains a failed status.
	FailureReason string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// NewRequest validates the submission fields and returns a pending
// Request.
func NewRequest(id, link string, target Target) (Request, error) {
	const errCtx = "new request"

	if err := ValidateBranchName(id); err != nil {
		return Request{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	if _, err := ParseTarget(string(target)); err != nil {
		return Request{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	if link == "" {
		return Request{}, fmt.Errorf(
			"%s: %w: empty link", errCtx, ErrInvalidMergeProposal,
		)
	}

	return Request{
		ID:                id,
		MergeProposalLink: link,
		Target:            target,
		Status:            StatusPending,
	}, nil
}

// Outcome tags the result of an idempotent step.
type Outcome string

const (
	// OutcomeCreated means the step produced its side effect now.
	OutcomeCreated Outcome = "created"
	// OutcomeAlreadyExisted means a previous invocation had already
	// produced it and nothing was done.
	OutcomeAlreadyExisted Outcome = "already_existed"
)

// Completion is the payload of a status write.
type Completion struct {
	RequestID string
	URL       string
	Status    Status
	Reason    string
}
