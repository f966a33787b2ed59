package branch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/commitmsg"
	"github.com/byte4ever/mpbridge/replication/digester"
	"github.com/byte4ever/mpbridge/replication/git"
	"github.com/byte4ever/mpbridge/replication/mirror"
	"github.com/byte4ever/mpbridge/replication/stamper"
)

// DefaultCommitTemplate is the commit subject and body before trailers.
const DefaultCommitTemplate = "Launchpad MP {{merge_proposal_id}}\n\n" +
	"Replicated from {{merge_proposal_link}}"

var errNoChanges = errors.New("diff produced no changes")

// Mirrors hands out working copies of a target's mirror.
type Mirrors interface {
	Spec(target replication.Target) (mirror.Spec, error)
	Snapshot(
		ctx context.Context,
		target replication.Target,
		dst string,
	) (*git.Repo, error)
}

// Config holds the settings of a Materializer.
type Config struct {
	// WorkRoot holds one scratch directory per request.
	WorkRoot string
	// CommitTemplate is stamped with the request variables. Defaults to
	// DefaultCommitTemplate.
	CommitTemplate string
}

// Input is one materialization request.
type Input struct {
	Target    replication.Target
	RequestID string
	Diff      string
	// Vars feed CommitTemplate.
	Vars stamper.Vars
}

// Materializer applies diffs on request branches and pushes them.
type Materializer struct {
	workRoot string
	template string
	mirrors  Mirrors
}

// NewMaterializer validates cfg and returns a Materializer.
func NewMaterializer(cfg Config, mirrors Mirrors) (*Materializer, error) {
	const errCtx = "creating materializer"

	if cfg.WorkRoot == "" {
		return nil, fmt.Errorf("%s: work root must be set", errCtx)
	}

	if mirrors == nil {
		return nil, fmt.Errorf("%s: mirrors must be set", errCtx)
	}

	tpl := cfg.CommitTemplate
	if tpl == "" {
		tpl = DefaultCommitTemplate
	}

	return &Materializer{
		workRoot: cfg.WorkRoot,
		template: tpl,
		mirrors:  mirrors,
	}, nil
}

// Materialize creates and pushes the branch for in.RequestID holding
// in.Diff. A branch already carrying the same request and diff yields
// OutcomeAlreadyExisted; one carrying anything else is a BranchPushError
// wrapping ErrDiffMismatch.
func (m *Materializer) Materialize(
	ctx context.Context,
	in Input,
) (replication.Outcome, error) {
	const errCtx = "materializing branch"

	if err := replication.ValidateBranchName(in.RequestID); err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	sp, err := m.mirrors.Spec(in.Target)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	want := commitmsg.Trailers{
		RequestID: in.RequestID,
		Digest:    digester.String(in.Diff),
	}

	dir := filepath.Join(m.workRoot, in.RequestID)

	// Leftovers of an abandoned attempt.
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	repo, err := m.mirrors.Snapshot(ctx, in.Target, dir)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	defer func() {
		if err := repo.Clean(); err != nil {
			log.Warn().
				Err(err).
				Str("dir", dir).
				Msg("failed to remove work dir")
		}
	}()

	replication.Heartbeat(ctx, "snapshot ready")

	if outcome, found, err := m.existing(
		ctx, repo, want,
	); err != nil || found {
		if err != nil {
			return "", fmt.Errorf("%s: %w", errCtx, err)
		}

		return outcome, nil
	}

	if err := repo.Checkout(ctx, sp.DefaultBranch); err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	if _, err := repo.SwitchToBranch(
		ctx, in.RequestID, sp.DefaultBranch,
	); err != nil {
		return "", fmt.Errorf(
			"%s: %w", errCtx,
			&replication.BranchPushError{
				RequestID: in.RequestID, Err: err,
			},
		)
	}

	if err := m.apply(ctx, repo, in, want); err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	replication.Heartbeat(ctx, "patch applied")

	if err := repo.Push(ctx, in.RequestID); err != nil {
		// A concurrent attempt may have pushed the same content first.
		outcome, found, checkErr := m.existing(ctx, repo, want)
		if checkErr == nil && found {
			return outcome, nil
		}

		return "", fmt.Errorf(
			"%s: %w", errCtx,
			&replication.BranchPushError{
				RequestID: in.RequestID,
				Err:       errors.Join(err, checkErr),
			},
		)
	}

	log.Info().
		Str("request_id", in.RequestID).
		Str("target", string(in.Target)).
		Str("digest", want.Digest).
		Msg("branch pushed")

	return replication.OutcomeCreated, nil
}

// existing checks the forge for the request branch. found is true when
// the branch exists and matches want.
func (m *Materializer) existing(
	ctx context.Context,
	repo *git.Repo,
	want commitmsg.Trailers,
) (replication.Outcome, bool, error) {
	sha, exists, err := repo.RemoteBranchHead(ctx, want.RequestID)
	if err != nil || !exists {
		return "", false, err
	}

	if err := repo.FetchBranch(ctx, want.RequestID); err != nil {
		return "", false, err
	}

	msg, err := repo.LastCommitMessage(
		ctx, repo.RemoteName+"/"+want.RequestID,
	)
	if err != nil {
		return "", false, err
	}

	if !commitmsg.Matches(msg, want) {
		return "", false, &replication.BranchPushError{
			RequestID: want.RequestID,
			Err: fmt.Errorf(
				"%w: remote tip %s", replication.ErrDiffMismatch, sha,
			),
		}
	}

	log.Info().
		Str("request_id", want.RequestID).
		Str("sha", sha).
		Msg("branch already exists")

	return replication.OutcomeAlreadyExisted, true, nil
}

// apply writes the diff outside the working tree, applies it and commits
// the result.
func (m *Materializer) apply(
	ctx context.Context,
	repo *git.Repo,
	in Input,
	want commitmsg.Trailers,
) error {
	patch, err := os.CreateTemp("", "mpbridge-*.diff")
	if err != nil {
		return fmt.Errorf("creating patch file: %w", err)
	}

	path := patch.Name()

	if err := patch.Close(); err != nil {
		return fmt.Errorf("creating patch file: %w", err)
	}

	defer os.Remove(path) //nolint:errcheck

	if err := digester.WriteFile(path, in.Diff, want.Digest); err != nil {
		return err
	}

	if err := repo.Apply(ctx, path); err != nil {
		return &replication.PatchApplyError{
			RequestID: in.RequestID, Err: err,
		}
	}

	msg := commitmsg.Generate(stamper.Stamp(m.template, in.Vars), want)

	committed, err := repo.Commit(ctx, msg)
	if err != nil {
		return &replication.BranchPushError{
			RequestID: in.RequestID, Err: err,
		}
	}

	if !committed {
		return &replication.PatchApplyError{
			RequestID: in.RequestID, Err: errNoChanges,
		}
	}

	return nil
}
