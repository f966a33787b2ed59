package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/branch"
	"github.com/byte4ever/mpbridge/replication/git"
	"github.com/byte4ever/mpbridge/replication/launchpad"
	"github.com/byte4ever/mpbridge/replication/pullreq"
	"github.com/byte4ever/mpbridge/replication/recorder"
)

// Step names one stage of the pipeline.
type Step string

const (
	StepFetchDiff         Step = "fetch_diff"
	StepSyncMirror        Step = "sync_mirror"
	StepMaterializeBranch Step = "materialize_branch"
	StepOpenPullRequest   Step = "open_pull_request"
	StepComplete          Step = "complete_request"
)

var order = []Step{
	StepFetchDiff,
	StepSyncMirror,
	StepMaterializeBranch,
	StepOpenPullRequest,
	StepComplete,
}

// ErrDiffNotPinned is returned when a step needing the diff runs before
// the fetch step committed it.
var ErrDiffNotPinned = errors.New("diff not pinned yet")

// Steps returns every step in execution order.
func Steps() []Step { return append([]Step(nil), order...) }

// Next returns the step following s, or "" after the last one.
func (s Step) Next() Step {
	for i, st := range order {
		if st == s && i+1 < len(order) {
			return order[i+1]
		}
	}

	return ""
}

// Fetcher resolves a merge proposal link to its diff.
type Fetcher interface {
	Fetch(ctx context.Context, link string) (string, error)
}

// Mirrors keeps target mirrors in sync.
type Mirrors interface {
	EnsureSynced(ctx context.Context, target replication.Target) error
}

// Materializer pushes request branches.
type Materializer interface {
	Materialize(
		ctx context.Context,
		in branch.Input,
	) (replication.Outcome, error)
}

// Opener opens pull requests.
type Opener interface {
	Open(ctx context.Context, in pullreq.Input) (git.PullRequest, error)
}

// Result is what Execute observed.
type Result struct {
	Diff    string
	URL     string
	Outcome replication.Outcome
}

// Pipeline binds the steps to their components.
type Pipeline struct {
	Fetcher      Fetcher
	Mirrors      Mirrors
	Materializer Materializer
	Opener       Opener
	Recorder     *recorder.Recorder
}

// Load reads request id. done is true when the request already reached a
// terminal status and nothing is left to do.
func Load(
	ctx context.Context,
	repo replication.Repository,
	id string,
) (req replication.Request, done bool, err error) {
	req, err = repo.FindByID(ctx, id)
	if err != nil {
		return replication.Request{}, false, err
	}

	return req, req.Status.IsTerminal(), nil
}

// Execute performs the side effect of step for req.
func (p *Pipeline) Execute(
	ctx context.Context,
	step Step,
	req replication.Request,
) (Result, error) {
	const errCtx = "executing step"

	logger := log.With().
		Str("request_id", req.ID).
		Str("step", string(step)).
		Logger()

	logger.Debug().Msg("step started")

	var (
		res Result
		err error
	)

	switch step {
	case StepFetchDiff:
		if req.Diff != "" {
			return Result{Diff: req.Diff}, nil
		}

		res.Diff, err = p.Fetcher.Fetch(ctx, req.MergeProposalLink)
	case StepSyncMirror:
		err = p.Mirrors.EnsureSynced(ctx, req.Target)
	case StepMaterializeBranch:
		if req.Diff == "" {
			return Result{}, fmt.Errorf(
				"%s: %s: %s: %w",
				errCtx, step, req.ID, ErrDiffNotPinned,
			)
		}

		res.Outcome, err = p.Materializer.Materialize(ctx, branch.Input{
			Target:    req.Target,
			RequestID: req.ID,
			Diff:      req.Diff,
			Vars:      launchpad.Vars(req),
		})
	case StepOpenPullRequest:
		var pr git.PullRequest

		pr, err = p.Opener.Open(ctx, pullreq.Input{
			Target:    req.Target,
			RequestID: req.ID,
			Vars:      launchpad.Vars(req),
		})
		res.URL, res.Outcome = pr.URL, pr.Outcome
	case StepComplete:
	default:
		return Result{}, fmt.Errorf("%s: unknown step %q", errCtx, step)
	}

	if err != nil {
		return Result{}, fmt.Errorf("%s: %s: %w", errCtx, step, err)
	}

	logger.Info().
		Str("outcome", string(res.Outcome)).
		Msg("step done")

	return res, nil
}

// Commit records res for step through repo.
func (p *Pipeline) Commit(
	ctx context.Context,
	repo replication.Repository,
	step Step,
	id string,
	res Result,
) error {
	const errCtx = "committing step"

	var err error

	switch step {
	case StepFetchDiff:
		_, err = recorder.PinDiffWith(ctx, repo, id, res.Diff, time.Now())
	case StepSyncMirror:
	case StepMaterializeBranch:
		err = p.advance(ctx, repo, replication.Completion{
			RequestID: id,
			Status:    replication.StatusBranchCreated,
		})
	case StepOpenPullRequest:
		err = p.advance(ctx, repo, replication.Completion{
			RequestID: id,
			URL:       res.URL,
			Status:    replication.StatusPullRequestOpened,
		})
	case StepComplete:
		var req replication.Request

		req, err = repo.FindByID(ctx, id)
		if err == nil {
			err = p.advance(ctx, repo, replication.Completion{
				RequestID: id,
				URL:       req.URL,
				Status:    replication.StatusCompleted,
			})
		}
	default:
		err = fmt.Errorf("unknown step %q", step)
	}

	if err != nil {
		return fmt.Errorf("%s: %s: %w", errCtx, step, err)
	}

	return nil
}

// advance records c unless the request already moved past c.Status.
func (p *Pipeline) advance(
	ctx context.Context,
	repo replication.Repository,
	c replication.Completion,
) error {
	cur, err := repo.FindByID(ctx, c.RequestID)
	if err != nil {
		return err
	}

	if cur.Status != c.Status &&
		!cur.Status.IsTerminal() &&
		!cur.Status.CanAdvanceTo(c.Status) {
		return nil
	}

	_, err = p.Recorder.RecordWith(ctx, repo, c)

	return err
}

// Fail records cause as the failure reason of request id. A request
// already in a terminal status is left alone.
func (p *Pipeline) Fail(
	ctx context.Context,
	repo replication.Repository,
	id string,
	cause string,
) error {
	const errCtx = "recording failure"

	cur, err := repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if cur.Status.IsTerminal() {
		return nil
	}

	if _, err := p.Recorder.RecordWith(ctx, repo, replication.Completion{
		RequestID: id,
		Status:    replication.StatusFailed,
		Reason:    cause,
	}); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	log.Warn().
		Str("request_id", id).
		Str("reason", cause).
		Msg("request failed")

	return nil
}
