package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/recorder"
	"github.com/byte4ever/mpbridge/replication/store"
)

// openStore connects to MPBRIDGE_TEST_DATABASE_URL or skips.
func openStore(t *testing.T) *store.Store {
	t.Helper()

	url := os.Getenv("MPBRIDGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MPBRIDGE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()

	st, err := store.Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	require.NoError(t, st.Migrate(ctx))

	return st
}

func TestStore_Create_and_FindByID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := openStore(t)
	id := uuid.NewString()

	created, err := st.Create(ctx, replication.Request{
		ID:                id,
		MergeProposalLink: "https://code.launchpad.net/~d/p/+merge/1",
		Target:            replication.TargetFork,
	})
	require.NoError(t, err)
	assert.Equal(t, replication.StatusPending, created.Status)
	assert.Nil(t, created.CompletedAt)

	again, err := st.Create(ctx, replication.Request{
		ID:                id,
		MergeProposalLink: "https://code.launchpad.net/~d/p/+merge/2",
		Target:            replication.TargetCanonical,
	})
	require.NoError(t, err)
	assert.Equal(t, created.MergeProposalLink, again.MergeProposalLink)
}

func TestStore_FindByID_not_found(t *testing.T) {
	t.Parallel()

	st := openStore(t)

	_, err := st.FindByID(context.Background(), uuid.NewString())

	var nf *replication.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestStore_Recorder_roundtrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := openStore(t)
	id := uuid.NewString()

	_, err := st.Create(ctx, replication.Request{
		ID:                id,
		MergeProposalLink: "https://code.launchpad.net/~d/p/+merge/1",
		Target:            replication.TargetCanonical,
	})
	require.NoError(t, err)

	rec := recorder.New(st)

	diff, err := rec.PinDiff(ctx, id, "diff")
	require.NoError(t, err)
	assert.Equal(t, "diff", diff)

	for _, c := range []replication.Completion{
		{RequestID: id, Status: replication.StatusBranchCreated},
		{RequestID: id, Status: replication.StatusPullRequestOpened},
		{RequestID: id, Status: replication.StatusCompleted, URL: "https://x/pull/1"},
		{RequestID: id, Status: replication.StatusCompleted, URL: "https://x/pull/1"},
	} {
		_, err := rec.Record(ctx, c)
		require.NoError(t, err)
	}

	got, err := st.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, replication.StatusCompleted, got.Status)
	assert.Equal(t, "https://x/pull/1", got.URL)
	assert.Equal(t, "diff", got.Diff)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, time.Now(), *got.CompletedAt, time.Minute)

	listed, err := st.List(ctx, replication.StatusCompleted, 500)
	require.NoError(t, err)

	var ids []string
	for _, r := range listed {
		ids = append(ids, r.ID)
	}

	assert.Contains(t, ids, id)
}

func TestStore_keeps_non_utf8_diff_verbatim(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := openStore(t)
	id := uuid.NewString()

	const diff = "--- a/latin1.txt\n+++ b/latin1.txt\n" +
		"@@ -1 +1 @@\n-caf\xe9\n+caf\xe9 cr\xe8me\x00\xff\n"

	_, err := st.Create(ctx, replication.Request{
		ID:                id,
		MergeProposalLink: "https://code.launchpad.net/~d/p/+merge/1",
		Target:            replication.TargetCanonical,
	})
	require.NoError(t, err)

	pinned, err := recorder.New(st).PinDiff(ctx, id, diff)
	require.NoError(t, err)
	assert.Equal(t, diff, pinned)

	got, err := st.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte(diff), []byte(got.Diff))
}
