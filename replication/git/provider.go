package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/byte4ever/mpbridge/replication"
)

// Pattern: Strategy -- swap git platform without changing the pull request
// idempotency rules.

// ErrPullRequestExists is returned by Provider.CreatePR when the forge
// rejects the request because one is already open for head/base.
var ErrPullRequestExists = errors.New("pull request already exists")

// NewPullRequest describes a pull request to open.
type NewPullRequest struct {
	// Head is the source branch, optionally owner qualified
	// ("owner:branch").
	Head string
	// Base is the branch to merge into.
	Base  string
	Title string
	Body  string
}

// PullRequest is a pull request known to the forge.
type PullRequest struct {
	URL     string
	Number  int
	Outcome replication.Outcome
}

// Provider looks up and creates pull requests on a git hosting platform.
type Provider interface {
	// FindPR returns the pull request for head/base, or nil when there
	// is none.
	FindPR(
		ctx context.Context,
		head string,
		base string,
	) (*PullRequest, error)

	// CreatePR opens a pull request. It returns ErrPullRequestExists
	// when the forge refuses a duplicate, and a
	// *replication.PullRequestCreationError for other rejections.
	CreatePR(
		ctx context.Context,
		pr NewPullRequest,
	) (*PullRequest, error)
}

// OpenPR opens pr through p unless it already exists. The existence check
// runs first; a duplicate rejection on create (lost race, or a forge that
// lags behind its own listing) is resolved by looking up again.
func OpenPR(
	ctx context.Context,
	p Provider,
	pr NewPullRequest,
) (PullRequest, error) {
	const errCtx = "opening pull request"

	existing, err := p.FindPR(ctx, pr.Head, pr.Base)
	if err != nil {
		return PullRequest{}, fmt.Errorf(
			"%s: lookup: %w", errCtx, err,
		)
	}

	if existing != nil {
		log.Info().
			Str("head", pr.Head).
			Str("url", existing.URL).
			Msg("reusing existing pull request")

		existing.Outcome = replication.OutcomeAlreadyExisted

		return *existing, nil
	}

	created, err := p.CreatePR(ctx, pr)
	if err == nil {
		log.Info().
			Str("head", pr.Head).
			Str("url", created.URL).
			Msg("created pull request")

		created.Outcome = replication.OutcomeCreated

		return *created, nil
	}

	if !errors.Is(err, ErrPullRequestExists) {
		return PullRequest{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	existing, lookupErr := p.FindPR(ctx, pr.Head, pr.Base)
	if lookupErr != nil {
		return PullRequest{}, fmt.Errorf(
			"%s: lookup after duplicate: %w", errCtx, lookupErr,
		)
	}

	if existing == nil {
		// The forge claims a duplicate it cannot show us.
		return PullRequest{}, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	existing.Outcome = replication.OutcomeAlreadyExisted

	return *existing, nil
}

// SplitHead splits an owner qualified head ("owner:branch") into its
// parts. owner is empty for an unqualified head.
func SplitHead(head string) (owner string, branch string) {
	if i := strings.IndexByte(head, ':'); i >= 0 {
		return head[:i], head[i+1:]
	}

	return "", head
}
