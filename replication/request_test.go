package replication_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/mpbridge/replication"
)

func TestParseTarget(t *testing.T) {
	t.Parallel()

	got, err := replication.ParseTarget("fork")
	require.NoError(t, err)
	assert.Equal(t, replication.TargetFork, got)

	_, err = replication.ParseTarget("upstream")
	assert.ErrorContains(t, err, "unknown target")
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for _, s := range []string{
		"pending", "branch_created", "pull_request_opened",
		"completed", "failed",
	} {
		got, err := replication.ParseStatus(s)
		require.NoError(t, err)
		assert.Equal(t, s, got.String())
	}

	_, err := replication.ParseStatus("merged")
	assert.Error(t, err)
}

func TestStatus_CanAdvanceTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from replication.Status
		to   replication.Status
		want bool
	}{
		{
			name: "pending to branch created",
			from: replication.StatusPending,
			to:   replication.StatusBranchCreated,
			want: true,
		},
		{
			name: "pending straight to completed",
			from: replication.StatusPending,
			to:   replication.StatusCompleted,
			want: true,
		},
		{
			name: "same status is idempotent",
			from: replication.StatusPullRequestOpened,
			to:   replication.StatusPullRequestOpened,
			want: true,
		},
		{
			name: "completed stays completed",
			from: replication.StatusCompleted,
			to:   replication.StatusCompleted,
			want: true,
		},
		{
			name: "backwards is refused",
			from: replication.StatusPullRequestOpened,
			to:   replication.StatusBranchCreated,
			want: false,
		},
		{
			name: "failed from any open status",
			from: replication.StatusBranchCreated,
			to:   replication.StatusFailed,
			want: true,
		},
		{
			name: "completed cannot fail",
			from: replication.StatusCompleted,
			to:   replication.StatusFailed,
			want: false,
		},
		{
			name: "failed cannot complete",
			from: replication.StatusFailed,
			to:   replication.StatusCompleted,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.from.CanAdvanceTo(tt.to))
		})
	}
}

func TestValidateBranchName(t *testing.T) {
	t.Parallel()

	valid := []string{
		"req-123",
		"0b6f1c2e-7d4e-4f43-9a0e-52a1c5f1a0de",
		"lp/mp-42",
	}
	for _, name := range valid {
		assert.NoError(t, replication.ValidateBranchName(name), name)
	}

	invalid := []string{
		"", "-x", "a..b", "a b", "a~1", "x.lock", "a/", ".hidden",
		"a/.b", "a@{1}", "a:b", "a\\b", "a//b",
	}
	for _, name := range invalid {
		err := replication.ValidateBranchName(name)
		assert.ErrorIs(
			t, err, replication.ErrInvalidBranchName, name,
		)
	}
}

func TestNewRequest(t *testing.T) {
	t.Parallel()

	req, err := replication.NewRequest(
		"req-1", "https://code.launchpad.net/~d/p/+merge/1",
		replication.TargetFork,
	)
	require.NoError(t, err)
	assert.Equal(t, replication.StatusPending, req.Status)
	assert.Equal(t, replication.TargetFork, req.Target)

	_, err = replication.NewRequest("bad..id", "l", replication.TargetFork)
	require.ErrorIs(t, err, replication.ErrInvalidBranchName)

	_, err = replication.NewRequest("req-1", "", replication.TargetFork)
	require.ErrorIs(t, err, replication.ErrInvalidMergeProposal)

	_, err = replication.NewRequest("req-1", "l", "nowhere")
	assert.Error(t, err)
}
