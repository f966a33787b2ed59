package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/byte4ever/mpbridge/replication/exec"
)

// DefaultRemote is the remote name used for the forge side of a clone.
const DefaultRemote = "origin"

// lsRemoteNoMatch is the exit status of git ls-remote --exit-code when no
// ref matched.
const lsRemoteNoMatch = 2

// Identity is the committer used for merges and commits.
type Identity struct {
	Name  string
	Email string
}

// Repo is a local clone of a git repository. Create with Clone or Open,
// and call Clean when a throwaway clone is done.
type Repo struct {
	// Dir is the filesystem location of the clone.
	Dir string
	// RemoteName is the name of the forge remote.
	RemoteName string
	// Binary is the git executable; empty means "git".
	Binary string
	// Identity signs merges and commits when set.
	Identity Identity
}

// Open returns a Repo for an existing clone in dir.
func Open(dir string, binary string, id Identity) *Repo {
	return &Repo{
		Dir:        dir,
		RemoteName: DefaultRemote,
		Binary:     binary,
		Identity:   id,
	}
}

// Clone clones url into dir with branch checked out. Anything already at
// dir is removed first.
//
//nolint:gosec // file paths originate from configuration
func Clone(
	ctx context.Context,
	url string,
	dir string,
	branch string,
	binary string,
	id Identity,
) (*Repo, error) {
	const errCtx = "cloning repository"

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf(
			"%s: remove dir: %w", errCtx, err,
		)
	}

	repo := Open(dir, binary, id)

	if _, err := exec.Ex(
		ctx, "", repo.bin(),
		"clone",
		"--branch", branch,
		"--origin", repo.RemoteName,
		url, dir,
	); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return repo, nil
}

// Clean removes the local clone directory.
func (r *Repo) Clean() error {
	const errCtx = "cleaning repository"

	if err := os.RemoveAll(r.Dir); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// AddRemote registers name pointing at url. An existing remote of the
// same name is repointed instead.
func (r *Repo) AddRemote(
	ctx context.Context,
	name string,
	url string,
) error {
	const errCtx = "adding remote"

	if _, err := r.RemoteURL(ctx, name); err == nil {
		return r.SetRemoteURL(ctx, name, url)
	}

	if _, err := r.run(
		ctx, "remote", "add", name, url,
	); err != nil {
		return fmt.Errorf("%s: %s: %w", errCtx, name, err)
	}

	return nil
}

// SetRemoteURL repoints an existing remote.
func (r *Repo) SetRemoteURL(
	ctx context.Context,
	name string,
	url string,
) error {
	const errCtx = "setting remote url"

	if _, err := r.run(
		ctx, "remote", "set-url", name, url,
	); err != nil {
		return fmt.Errorf("%s: %s: %w", errCtx, name, err)
	}

	return nil
}

// RemoteURL returns the fetch URL of remote name.
func (r *Repo) RemoteURL(
	ctx context.Context,
	name string,
) (string, error) {
	const errCtx = "reading remote url"

	out, err := r.run(ctx, "remote", "get-url", name)
	if err != nil {
		return "", fmt.Errorf("%s: %s: %w", errCtx, name, err)
	}

	return strings.TrimSpace(out), nil
}

// UpdateRemotes fetches every configured remote.
func (r *Repo) UpdateRemotes(ctx context.Context) error {
	const errCtx = "updating remotes"

	if _, err := r.run(ctx, "remote", "update"); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Fetch fetches remote without tags.
func (r *Repo) Fetch(ctx context.Context, remote string) error {
	const errCtx = "fetching remote"

	if _, err := r.run(
		ctx, "fetch", "--no-tags", remote,
	); err != nil {
		return fmt.Errorf("%s: %s: %w", errCtx, remote, err)
	}

	return nil
}

// FetchBranch fetches a single branch of the forge remote into its
// remote-tracking ref.
func (r *Repo) FetchBranch(
	ctx context.Context,
	branch string,
) error {
	const errCtx = "fetching branch"

	refspec := fmt.Sprintf(
		"refs/heads/%s:refs/remotes/%s/%s",
		branch, r.RemoteName, branch,
	)

	if _, err := r.run(
		ctx, "fetch", "--no-tags", r.RemoteName, refspec,
	); err != nil {
		return fmt.Errorf("%s: %s: %w", errCtx, branch, err)
	}

	return nil
}

// Checkout switches the working tree to ref.
func (r *Repo) Checkout(ctx context.Context, ref string) error {
	const errCtx = "checking out"

	if _, err := r.run(ctx, "checkout", ref); err != nil {
		return fmt.Errorf("%s: %s: %w", errCtx, ref, err)
	}

	return nil
}

// SwitchToBranch switches to branch, creating it from start if it does
// not exist locally. Returns true when the branch was newly created.
func (r *Repo) SwitchToBranch(
	ctx context.Context,
	branch string,
	start string,
) (bool, error) {
	const errCtx = "switching branch"

	if r.hasLocalBranch(ctx, branch) {
		if err := r.Checkout(ctx, branch); err != nil {
			return false, fmt.Errorf("%s: %w", errCtx, err)
		}

		return false, nil
	}

	if _, err := r.run(
		ctx, "checkout", "-b", branch, start,
	); err != nil {
		return false, fmt.Errorf(
			"%s: create %s: %w", errCtx, branch, err,
		)
	}

	return true, nil
}

// FetchRef force-updates the local ref dst from src on remote.
func (r *Repo) FetchRef(
	ctx context.Context,
	remote string,
	src string,
	dst string,
) error {
	const errCtx = "fetching ref"

	if _, err := r.run(
		ctx, "fetch", "--no-tags", remote, "+"+src+":"+dst,
	); err != nil {
		return fmt.Errorf("%s: %s: %w", errCtx, src, err)
	}

	return nil
}

// ResetHard moves the current branch to ref and discards any uncommitted
// or merge-in-progress state.
func (r *Repo) ResetHard(ctx context.Context, ref string) error {
	const errCtx = "resetting"

	if _, err := r.run(ctx, "reset", "--hard", ref); err != nil {
		return fmt.Errorf("%s: %s: %w", errCtx, ref, err)
	}

	return nil
}

// MergeNoFastForward merges ref into the current branch with a merge
// commit and no editor. A conflicting merge is aborted so the tree is
// left as it was.
func (r *Repo) MergeNoFastForward(
	ctx context.Context,
	ref string,
) error {
	const errCtx = "merging"

	if _, err := r.run(
		ctx, "merge", "--no-ff", "--no-edit", ref,
	); err != nil {
		if _, abortErr := r.run(
			ctx, "merge", "--abort",
		); abortErr != nil {
			log.Warn().
				Err(abortErr).
				Str("dir", r.Dir).
				Msg("failed to abort merge")
		}

		return fmt.Errorf("%s: %s: %w", errCtx, ref, err)
	}

	return nil
}

// Apply applies the patch file at path to the working tree.
func (r *Repo) Apply(ctx context.Context, path string) error {
	const errCtx = "applying patch"

	if _, err := r.run(
		ctx, "apply", "--whitespace=nowarn", path,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Commit stages all changes and commits them. Returns true when changes
// were committed, false when the tree was clean.
func (r *Repo) Commit(
	ctx context.Context,
	message string,
) (bool, error) {
	const errCtx = "committing"

	if _, err := r.run(ctx, "add", "-A"); err != nil {
		return false, fmt.Errorf("%s: stage: %w", errCtx, err)
	}

	clean, err := r.IsClean(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w", errCtx, err)
	}

	if clean {
		return false, nil
	}

	if _, err := r.run(
		ctx, "commit", "--no-verify", "-m", message,
	); err != nil {
		return false, fmt.Errorf("%s: %w", errCtx, err)
	}

	return true, nil
}

// IsClean reports whether the working tree has no uncommitted changes.
func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	const errCtx = "checking repo status"

	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("%s: %w", errCtx, err)
	}

	return strings.TrimSpace(out) == "", nil
}

// LastCommitMessage returns the full message of the commit at ref.
func (r *Repo) LastCommitMessage(
	ctx context.Context,
	ref string,
) (string, error) {
	const errCtx = "reading commit message"

	out, err := r.run(ctx, "log", "-1", "--pretty=%B", ref)
	if err != nil {
		return "", fmt.Errorf("%s: %s: %w", errCtx, ref, err)
	}

	return out, nil
}

// Head returns the commit id of HEAD.
func (r *Repo) Head(ctx context.Context) (string, error) {
	const errCtx = "resolving HEAD"

	out, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return strings.TrimSpace(out), nil
}

// RemoteBranchHead asks the forge remote for branch. Returns the commit id
// and true when it exists, "" and false when it does not.
func (r *Repo) RemoteBranchHead(
	ctx context.Context,
	branch string,
) (string, bool, error) {
	const errCtx = "listing remote branch"

	out, err := r.run(
		ctx,
		"ls-remote", "--exit-code", "--heads",
		r.RemoteName, "refs/heads/"+branch,
	)
	if err != nil {
		if exec.ExitCode(err) == lsRemoteNoMatch {
			return "", false, nil
		}

		return "", false, fmt.Errorf(
			"%s: %s: %w", errCtx, branch, err,
		)
	}

	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", false, fmt.Errorf(
			"%s: %s: empty ls-remote output", errCtx, branch,
		)
	}

	return fields[0], true, nil
}

// Push pushes the given branches to the forge remote. Pushes are never
// forced: a diverged remote branch makes Push fail.
func (r *Repo) Push(ctx context.Context, branches ...string) error {
	const errCtx = "pushing"

	if len(branches) == 0 {
		return errors.New(errCtx + ": no branches")
	}

	args := append([]string{"push", r.RemoteName}, branches...)

	if _, err := r.run(ctx, args...); err != nil {
		return fmt.Errorf(
			"%s: %s: %w",
			errCtx, strings.Join(branches, ","), err,
		)
	}

	return nil
}

func (r *Repo) hasLocalBranch(
	ctx context.Context,
	branch string,
) bool {
	_, err := r.run(
		ctx,
		"show-ref", "--verify", "--quiet",
		"refs/heads/"+branch,
	)

	return err == nil
}

func (r *Repo) bin() string {
	if r.Binary == "" {
		return "git"
	}

	return r.Binary
}

// run executes git in the clone with the configured identity.
func (r *Repo) run(
	ctx context.Context,
	arg ...string,
) (string, error) {
	var args []string

	if r.Identity.Name != "" {
		args = append(args, "-c", "user.name="+r.Identity.Name)
	}

	if r.Identity.Email != "" {
		args = append(args, "-c", "user.email="+r.Identity.Email)
	}

	args = append(args, arg...)

	return exec.Ex(ctx, r.Dir, r.bin(), args...)
}
