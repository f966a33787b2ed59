package memstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/store/memstore"
)

func TestStore_Create_is_idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memstore.New()

	first, err := st.Create(ctx, replication.Request{
		ID:     "req-1",
		Target: replication.TargetCanonical,
	})
	require.NoError(t, err)
	assert.Equal(t, replication.StatusPending, first.Status)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := st.Create(ctx, replication.Request{
		ID:     "req-1",
		Target: replication.TargetFork,
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStore_FindByID_not_found(t *testing.T) {
	t.Parallel()

	_, err := memstore.New().FindByID(context.Background(), "nope")

	var nf *replication.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.RequestID)
}

func TestStore_InTx_rolls_back_on_error(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memstore.New()

	_, err := st.Create(ctx, replication.Request{ID: "req-1"})
	require.NoError(t, err)

	boom := errors.New("boom")

	err = st.InTx(
		ctx,
		func(ctx context.Context, repo replication.Repository) error {
			req, err := repo.FindByID(ctx, "req-1")
			require.NoError(t, err)

			req.Status = replication.StatusFailed
			require.NoError(t, repo.Update(ctx, req))

			return boom
		},
	)
	require.ErrorIs(t, err, boom)

	req, err := st.FindByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, replication.StatusPending, req.Status)
}

func TestStore_Update_missing(t *testing.T) {
	t.Parallel()

	err := memstore.New().Update(
		context.Background(),
		replication.Request{ID: "ghost"},
	)

	var nf *replication.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestStore_List_filters_and_limits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memstore.New()

	for _, id := range []string{"a", "b", "c"} {
		_, err := st.Create(ctx, replication.Request{ID: id})
		require.NoError(t, err)
	}

	req, err := st.FindByID(ctx, "b")
	require.NoError(t, err)

	req.Status = replication.StatusFailed
	require.NoError(t, st.Update(ctx, req))

	failed, err := st.List(ctx, replication.StatusFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].ID)

	limited, err := st.List(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
