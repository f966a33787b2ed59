package replication_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/byte4ever/mpbridge/replication"
)

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{
			name: "plain error is retried",
			err:  errors.New("connection reset"),
			want: false,
		},
		{
			name: "upstream 404",
			err:  &replication.UpstreamFetchError{StatusCode: 404},
			want: true,
		},
		{
			name: "upstream 503",
			err:  &replication.UpstreamFetchError{StatusCode: 503},
			want: false,
		},
		{
			name: "upstream 429",
			err:  &replication.UpstreamFetchError{StatusCode: 429},
			want: false,
		},
		{
			name: "malformed",
			err:  &replication.MalformedResponseError{},
			want: true,
		},
		{
			name: "mirror sync is retried",
			err: &replication.MirrorSyncError{
				Op: "fetch", Err: errors.New("x"),
			},
			want: false,
		},
		{
			name: "wrapped patch apply",
			err: fmt.Errorf("step: %w", &replication.PatchApplyError{
				Err: errors.New("conflict"),
			}),
			want: true,
		},
		{
			name: "branch push",
			err: &replication.BranchPushError{
				Err: errors.New("rejected"),
			},
			want: true,
		},
		{
			name: "pull request 422",
			err: &replication.PullRequestCreationError{
				StatusCode: 422,
			},
			want: true,
		},
		{
			name: "pull request 502",
			err: &replication.PullRequestCreationError{
				StatusCode: 502,
			},
			want: false,
		},
		{
			name: "not found",
			err:  &replication.NotFoundError{RequestID: "x"},
			want: true,
		},
		{
			name: "invalid link sentinel",
			err: fmt.Errorf(
				"fetch: %w", replication.ErrInvalidMergeProposal,
			),
			want: true,
		},
		{
			name: "context cancelled is retried",
			err:  context.Canceled,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, replication.IsTerminal(tt.err))
		})
	}
}

func TestErrors_unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("exit status 1")

	err := &replication.MirrorSyncError{
		Target: replication.TargetFork,
		Op:     "merge",
		Err:    cause,
	}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "mirror fork: merge")
}

func TestHeartbeat(t *testing.T) {
	t.Parallel()

	// No heartbeater: must not panic.
	replication.Heartbeat(context.Background(), "noop")

	var got []string

	ctx := replication.WithHeartbeater(
		context.Background(),
		replication.HeartbeaterFunc(func(stage string) {
			got = append(got, stage)
		}),
	)

	replication.Heartbeat(ctx, "one")
	replication.Heartbeat(ctx, "two")

	assert.Equal(t, []string{"one", "two"}, got)
}
