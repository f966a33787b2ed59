package branch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/branch"
	"github.com/byte4ever/mpbridge/replication/git"
	"github.com/byte4ever/mpbridge/replication/git/gittest"
	"github.com/byte4ever/mpbridge/replication/mirror"
	"github.com/byte4ever/mpbridge/replication/stamper"
)

const (
	addWorld = "diff --git a/README.md b/README.md\n" +
		"--- a/README.md\n" +
		"+++ b/README.md\n" +
		"@@ -1 +1,2 @@\n" +
		" hello\n" +
		"+world\n"

	addFile = "diff --git a/NEW.md b/NEW.md\n" +
		"new file mode 100644\n" +
		"--- /dev/null\n" +
		"+++ b/NEW.md\n" +
		"@@ -0,0 +1 @@\n" +
		"+new\n"

	badPatch = "diff --git a/README.md b/README.md\n" +
		"--- a/README.md\n" +
		"+++ b/README.md\n" +
		"@@ -1 +1 @@\n" +
		"-not there\n" +
		"+replacement\n"
)

type fixture struct {
	forge    gittest.Forge
	workRoot string
	mat      *branch.Materializer
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	root := t.TempDir()
	fg := gittest.NewForge(t, root, "master")

	mgr, err := mirror.NewManager(mirror.Config{
		Root: filepath.Join(root, "mirrors"),
		Identity: git.Identity{
			Name:  gittest.UserName,
			Email: gittest.UserEmail,
		},
		Specs: []mirror.Spec{{
			Target:        replication.TargetCanonical,
			OriginURL:     fg.Origin,
			UpstreamURL:   fg.Upstream,
			DefaultBranch: "master",
		}},
	})
	require.NoError(t, err)

	workRoot := filepath.Join(root, "work")

	mat, err := branch.NewMaterializer(
		branch.Config{WorkRoot: workRoot},
		mgr,
	)
	require.NoError(t, err)

	return fixture{forge: fg, workRoot: workRoot, mat: mat}
}

func input(id, diff string) branch.Input {
	return branch.Input{
		Target:    replication.TargetCanonical,
		RequestID: id,
		Diff:      diff,
		Vars: stamper.Vars{
			"merge_proposal_id":   "42",
			"merge_proposal_link": "https://code.launchpad.net/~d/p/+merge/42",
		},
	}
}

func TestNewMaterializer_validation(t *testing.T) {
	t.Parallel()

	_, err := branch.NewMaterializer(branch.Config{}, nil)
	assert.ErrorContains(t, err, "work root")

	_, err = branch.NewMaterializer(branch.Config{WorkRoot: "/w"}, nil)
	assert.ErrorContains(t, err, "mirrors")
}

func TestMaterializer_Materialize_twice_one_branch_one_commit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t)

	first, err := fx.mat.Materialize(ctx, input("req-1", addWorld))
	require.NoError(t, err)
	assert.Equal(t, replication.OutcomeCreated, first)

	second, err := fx.mat.Materialize(ctx, input("req-1", addWorld))
	require.NoError(t, err)
	assert.Equal(t, replication.OutcomeAlreadyExisted, second)

	assert.ElementsMatch(
		t,
		[]string{"master", "req-1"},
		gittest.RemoteBranches(t, fx.forge.Origin),
	)
	assert.Equal(
		t, "1",
		gittest.CountCommits(t, fx.forge.Origin, "req-1", "master"),
	)

	msg := gittest.Git(t, fx.forge.Origin, "log", "-1", "--pretty=%B", "req-1")
	assert.Contains(t, msg, "Launchpad MP 42")
	assert.Contains(t, msg, "Replication-Request: req-1")

	content := gittest.Git(t, fx.forge.Origin, "show", "req-1:README.md")
	assert.Equal(t, "hello\nworld", content)

	_, statErr := os.Stat(filepath.Join(fx.workRoot, "req-1"))
	assert.True(t, os.IsNotExist(statErr), "work dir is removed")
}

func TestMaterializer_Materialize_different_diff_is_rejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t)

	_, err := fx.mat.Materialize(ctx, input("req-1", addWorld))
	require.NoError(t, err)

	before := gittest.Git(t, fx.forge.Origin, "rev-parse", "req-1")

	_, err = fx.mat.Materialize(ctx, input("req-1", addFile))

	var pushErr *replication.BranchPushError
	require.ErrorAs(t, err, &pushErr)
	assert.ErrorIs(t, err, replication.ErrDiffMismatch)
	assert.True(t, replication.IsTerminal(err))
	assert.Equal(
		t, before,
		gittest.Git(t, fx.forge.Origin, "rev-parse", "req-1"),
	)
}

func TestMaterializer_Materialize_foreign_branch_is_rejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t)

	gittest.Git(t, fx.forge.Origin, "branch", "req-9", "master")

	_, err := fx.mat.Materialize(ctx, input("req-9", addWorld))

	assert.ErrorIs(t, err, replication.ErrDiffMismatch)
}

func TestMaterializer_Materialize_patch_does_not_apply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t)

	_, err := fx.mat.Materialize(ctx, input("req-2", badPatch))

	var applyErr *replication.PatchApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, "req-2", applyErr.RequestID)
	assert.True(t, replication.IsTerminal(err))
	assert.Equal(
		t, []string{"master"},
		gittest.RemoteBranches(t, fx.forge.Origin),
	)
}

func TestMaterializer_Materialize_invalid_branch_name(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	_, err := fx.mat.Materialize(
		context.Background(), input("bad..name", addWorld),
	)

	assert.ErrorIs(t, err, replication.ErrInvalidBranchName)
}

func TestMaterializer_Materialize_replaces_stale_work_dir(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t)

	stale := filepath.Join(fx.workRoot, "req-3")
	gittest.WriteFile(t, stale, "junk.txt", "junk\n")

	outcome, err := fx.mat.Materialize(ctx, input("req-3", addFile))

	require.NoError(t, err)
	assert.Equal(t, replication.OutcomeCreated, outcome)

	files := gittest.Git(t, fx.forge.Origin, "ls-tree", "--name-only", "req-3")
	assert.NotContains(t, files, "junk.txt")
	assert.Contains(t, files, "NEW.md")
}
