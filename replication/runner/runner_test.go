package runner_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/branch"
	"github.com/byte4ever/mpbridge/replication/git"
	"github.com/byte4ever/mpbridge/replication/git/gittest"
	"github.com/byte4ever/mpbridge/replication/launchpad"
	"github.com/byte4ever/mpbridge/replication/mirror"
	"github.com/byte4ever/mpbridge/replication/pipeline"
	"github.com/byte4ever/mpbridge/replication/pullreq"
	"github.com/byte4ever/mpbridge/replication/recorder"
	"github.com/byte4ever/mpbridge/replication/runner"
	"github.com/byte4ever/mpbridge/replication/store/memstore"
)

const (
	addWorld = "diff --git a/README.md b/README.md\n" +
		"--- a/README.md\n" +
		"+++ b/README.md\n" +
		"@@ -1 +1,2 @@\n" +
		" hello\n" +
		"+world\n"

	badPatch = "diff --git a/README.md b/README.md\n" +
		"--- a/README.md\n" +
		"+++ b/README.md\n" +
		"@@ -1 +1 @@\n" +
		"-absent\n" +
		"+x\n"
)

// launchpadServer serves merge proposals /api/+merge/<n> whose diff is
// diffs[n]. failFirst makes the first request answer 503.
type launchpadServer struct {
	srv       *httptest.Server
	diffs     map[string]string
	failFirst atomic.Bool
}

func newLaunchpad(t *testing.T, diffs map[string]string) *launchpadServer {
	t.Helper()

	ls := &launchpadServer{diffs: diffs}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/+merge/{n}", func(w http.ResponseWriter, r *http.Request) {
		if ls.failFirst.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		if _, ok := ls.diffs[r.PathValue("n")]; !ok {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		_, _ = w.Write([]byte(`{"preview_diff_link": "` +
			ls.srv.URL + `/api/+merge/` + r.PathValue("n") + `/diff"}`))
	})
	mux.HandleFunc("GET /api/+merge/{n}/diff/+files/preview.diff", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(ls.diffs[r.PathValue("n")]))
	})

	ls.srv = httptest.NewServer(mux)
	t.Cleanup(ls.srv.Close)

	return ls
}

func (ls *launchpadServer) link(n string) string {
	return ls.srv.URL + "/web/+merge/" + n
}

type fakeProvider struct {
	mu      sync.Mutex
	heads   map[string]string
	creates int
}

func (f *fakeProvider) FindPR(
	_ context.Context,
	head string,
	_ string,
) (*git.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if url, ok := f.heads[head]; ok {
		return &git.PullRequest{URL: url}, nil
	}

	return nil, nil
}

func (f *fakeProvider) CreatePR(
	_ context.Context,
	pr git.NewPullRequest,
) (*git.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	url := "https://forge/pull/" + pr.Head
	f.heads[pr.Head] = url

	return &git.PullRequest{URL: url, Number: f.creates}, nil
}

type fixture struct {
	forge    gittest.Forge
	lp       *launchpadServer
	provider *fakeProvider
	store    *memstore.Store
	runner   *runner.Runner
}

func newFixture(t *testing.T, diffs map[string]string) fixture {
	t.Helper()

	root := t.TempDir()
	fg := gittest.NewForge(t, root, "master")
	lp := newLaunchpad(t, diffs)

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

	mat, err := branch.NewMaterializer(
		branch.Config{WorkRoot: filepath.Join(root, "work")}, mgr,
	)
	require.NoError(t, err)

	fp := &fakeProvider{heads: make(map[string]string)}

	op, err := pullreq.NewOpener(pullreq.Config{}, pullreq.Target{
		Target:        replication.TargetCanonical,
		DefaultBranch: "master",
		Provider:      fp,
	})
	require.NoError(t, err)

	st := memstore.New()

	pl := &pipeline.Pipeline{
		Fetcher: launchpad.NewFetcher(launchpad.Config{
			WebBase: lp.srv.URL + "/web/",
			APIBase: lp.srv.URL + "/api/",
		}),
		Mirrors:      mgr,
		Materializer: mat,
		Opener:       op,
		Recorder:     recorder.New(st),
	}

	return fixture{
		forge:    fg,
		lp:       lp,
		provider: fp,
		store:    st,
		runner: runner.New(
			runner.Config{Backoff: time.Millisecond, Parallelism: 2},
			pl, st,
		),
	}
}

func (fx fixture) submit(t *testing.T, id, link string) {
	t.Helper()

	req, err := replication.NewRequest(id, link, replication.TargetCanonical)
	require.NoError(t, err)

	_, err = fx.store.Create(context.Background(), req)
	require.NoError(t, err)
}

func TestRunner_Run_replicates_once(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, map[string]string{"42": addWorld})
	fx.submit(t, "req-1", fx.lp.link("42"))

	require.NoError(t, fx.runner.Run(ctx, "req-1"))

	first, err := fx.store.FindByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, replication.StatusCompleted, first.Status)
	assert.Equal(t, "https://forge/pull/req-1", first.URL)
	assert.Equal(t, addWorld, first.Diff)
	assert.NotNil(t, first.CompletedAt)

	require.NoError(t, fx.runner.Run(ctx, "req-1"))

	second, err := fx.store.FindByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 1, fx.provider.creates)
	assert.Equal(
		t, "1",
		gittest.CountCommits(t, fx.forge.Origin, "req-1", "master"),
	)
}

func TestRunner_Run_retries_transient_fetch_failure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, map[string]string{"42": addWorld})
	fx.lp.failFirst.Store(true)
	fx.submit(t, "req-1", fx.lp.link("42"))

	require.NoError(t, fx.runner.Run(ctx, "req-1"))

	req, err := fx.store.FindByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, replication.StatusCompleted, req.Status)
}

func TestRunner_Run_records_terminal_failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mp     string
		reason string
	}{
		{name: "missing proposal", mp: "404", reason: "status 404"},
		{name: "patch does not apply", mp: "7", reason: "applying patch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			fx := newFixture(t, map[string]string{"7": badPatch})
			fx.submit(t, "req-1", fx.lp.link(tt.mp))

			err := fx.runner.Run(ctx, "req-1")
			require.Error(t, err)
			assert.True(t, replication.IsTerminal(err))

			req, err := fx.store.FindByID(ctx, "req-1")
			require.NoError(t, err)
			assert.Equal(t, replication.StatusFailed, req.Status)
			assert.Contains(t, req.FailureReason, tt.reason)
			assert.Zero(t, fx.provider.creates)
		})
	}
}

func TestRunner_RunAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, map[string]string{"42": addWorld, "7": badPatch})
	fx.submit(t, "req-ok", fx.lp.link("42"))
	fx.submit(t, "req-bad", fx.lp.link("7"))

	err := fx.runner.RunAll(ctx, []string{"req-ok", "req-bad"})
	require.ErrorContains(t, err, "1 failed")

	ok, err := fx.store.FindByID(ctx, "req-ok")
	require.NoError(t, err)
	assert.Equal(t, replication.StatusCompleted, ok.Status)

	bad, err := fx.store.FindByID(ctx, "req-bad")
	require.NoError(t, err)
	assert.Equal(t, replication.StatusFailed, bad.Status)
}

func TestRunner_Run_unknown_request(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)

	err := fx.runner.Run(context.Background(), "ghost")

	var nf *replication.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
