// Package pullreq opens the pull request for a materialized request branch.
package pullreq

import (
	"context"
	"fmt"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/git"
	"github.com/byte4ever/mpbridge/replication/stamper"
)

const (
	// DefaultTitleTemplate names pull requests after the merge proposal.
	DefaultTitleTemplate = "Launchpad MP {{merge_proposal_id}}"
	// DefaultBodyTemplate points reviewers at the source.
	DefaultBodyTemplate = "Replicated from {{merge_proposal_link}}.\n\n" +
		"This pull request was generated automatically; review and " +
		"discussion happen on Launchpad."
)

// Target binds a target repository to the forge it lives on.
type Target struct {
	Target replication.Target
	// HeadOwner qualifies the head branch as "owner:branch" when the
	// branch lives in another account than the base repository.
	HeadOwner     string
	DefaultBranch string
	Provider      git.Provider
}

// Config holds the pull request templates. Empty templates take the
// defaults. Stamps are extra variables available to both templates.
type Config struct {
	TitleTemplate string
	BodyTemplate  string
	Stamps        stamper.Vars
}

// Input is one pull request to open.
type Input struct {
	Target    replication.Target
	RequestID string
	Vars      stamper.Vars
}

// Opener opens pull requests idempotently.
type Opener struct {
	title   string
	body    string
	stamps  stamper.Vars
	targets map[replication.Target]Target
}

// NewOpener validates its arguments and returns an Opener.
func NewOpener(cfg Config, targets ...Target) (*Opener, error) {
	const errCtx = "creating pull request opener"

	op := &Opener{
		title:   cfg.TitleTemplate,
		body:    cfg.BodyTemplate,
		stamps:  cfg.Stamps,
		targets: make(map[replication.Target]Target, len(targets)),
	}

	if op.title == "" {
		op.title = DefaultTitleTemplate
	}

	if op.body == "" {
		op.body = DefaultBodyTemplate
	}

	for _, tg := range targets {
		if tg.Provider == nil {
			return nil, fmt.Errorf(
				"%s: %s: provider must be set", errCtx, tg.Target,
			)
		}

		if tg.DefaultBranch == "" {
			return nil, fmt.Errorf(
				"%s: %s: default branch must be set",
				errCtx, tg.Target,
			)
		}

		op.targets[tg.Target] = tg
	}

	return op, nil
}

// Open opens the pull request from in.RequestID into the target's default
// branch, or returns the one that already exists.
func (o *Opener) Open(
	ctx context.Context,
	in Input,
) (git.PullRequest, error) {
	const errCtx = "opening pull request"

	tg, ok := o.targets[in.Target]
	if !ok {
		return git.PullRequest{}, fmt.Errorf(
			"%s: no forge configured for target %q",
			errCtx, in.Target,
		)
	}

	head := in.RequestID
	if tg.HeadOwner != "" {
		head = tg.HeadOwner + ":" + in.RequestID
	}

	vars := stamper.Merge(o.stamps, in.Vars)

	pr, err := git.OpenPR(ctx, tg.Provider, git.NewPullRequest{
		Head:  head,
		Base:  tg.DefaultBranch,
		Title: stamper.Stamp(o.title, vars),
		Body:  stamper.Stamp(o.body, vars),
	})
	if err != nil {
		return git.PullRequest{}, fmt.Errorf(
			"%s: %s: %w", errCtx, in.RequestID, err,
		)
	}

	replication.Heartbeat(ctx, "pull request "+string(pr.Outcome))

	return pr, nil
}
