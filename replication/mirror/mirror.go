package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/git"
)

// DefaultUpstreamRemote names the remote pointing at the source platform.
const DefaultUpstreamRemote = "lp"

// Phase is the on-disk state of a mirror.
type Phase string

const (
	PhaseAbsent Phase = "absent"
	PhaseReady  Phase = "ready"
)

// Spec describes the mirror of one target repository.
type Spec struct {
	Target replication.Target
	// OriginURL is the forge repository pull requests are opened on.
	OriginURL string
	// UpstreamURL is the source platform repository.
	UpstreamURL string
	// UpstreamRemote is the remote name for UpstreamURL. Defaults to
	// DefaultUpstreamRemote.
	UpstreamRemote string
	// DefaultBranch is kept identical on both sides, e.g. "master".
	DefaultBranch string
}

// State reports a mirror's observable status.
type State struct {
	Target       replication.Target
	Path         string
	Phase        Phase
	LastSyncedAt time.Time
}

// Config holds the settings of a Manager.
type Config struct {
	// Root is the directory holding one mirror per target.
	Root string
	// Binary is the git executable; empty means "git".
	Binary   string
	Identity git.Identity
	Specs    []Spec
}

// Manager owns the mirrors of all configured targets.
type Manager struct {
	root     string
	binary   string
	identity git.Identity
	specs    map[replication.Target]Spec
	locks    *KeyedLock

	mu     sync.Mutex
	synced map[replication.Target]time.Time
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	const errCtx = "creating mirror manager"

	if cfg.Root == "" {
		return nil, fmt.Errorf("%s: root must be set", errCtx)
	}

	specs := make(map[replication.Target]Spec, len(cfg.Specs))

	for _, sp := range cfg.Specs {
		if _, err := replication.ParseTarget(string(sp.Target)); err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		if sp.OriginURL == "" || sp.UpstreamURL == "" {
			return nil, fmt.Errorf(
				"%s: %s: origin and upstream urls must be set",
				errCtx, sp.Target,
			)
		}

		if sp.DefaultBranch == "" {
			return nil, fmt.Errorf(
				"%s: %s: default branch must be set",
				errCtx, sp.Target,
			)
		}

		if sp.UpstreamRemote == "" {
			sp.UpstreamRemote = DefaultUpstreamRemote
		}

		specs[sp.Target] = sp
	}

	return &Manager{
		root:     cfg.Root,
		binary:   cfg.Binary,
		identity: cfg.Identity,
		specs:    specs,
		locks:    NewKeyedLock(cfg.Root),
		synced:   make(map[replication.Target]time.Time),
	}, nil
}

// Spec returns the configuration of target's mirror.
func (m *Manager) Spec(target replication.Target) (Spec, error) {
	sp, ok := m.specs[target]
	if !ok {
		return Spec{}, fmt.Errorf(
			"no mirror configured for target %q", target,
		)
	}

	return sp, nil
}

// Path returns the on-disk location of target's mirror.
func (m *Manager) Path(target replication.Target) string {
	return filepath.Join(m.root, string(target))
}

// State reports whether target's mirror exists and when it was last
// synced by this process.
func (m *Manager) State(target replication.Target) State {
	st := State{
		Target: target,
		Path:   m.Path(target),
		Phase:  PhaseAbsent,
	}

	if m.exists(target) {
		st.Phase = PhaseReady
	}

	m.mu.Lock()
	st.LastSyncedAt = m.synced[target]
	m.mu.Unlock()

	return st
}

func (m *Manager) exists(target replication.Target) bool {
	_, err := os.Stat(filepath.Join(m.Path(target), ".git"))

	return err == nil
}

// EnsureSynced clones target's mirror if absent, then merges the upstream
// default branch into it and pushes the result to origin. Concurrent calls
// for one target serialize.
func (m *Manager) EnsureSynced(
	ctx context.Context,
	target replication.Target,
) error {
	const errCtx = "syncing mirror"

	sp, err := m.Spec(target)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	unlock, err := m.locks.Lock(ctx, string(target))
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}
	defer unlock()

	if !m.exists(target) {
		if err := m.clone(ctx, sp); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}

		replication.Heartbeat(ctx, "mirror cloned")
	}

	if err := m.sync(ctx, sp); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	m.mu.Lock()
	m.synced[target] = time.Now()
	m.mu.Unlock()

	log.Info().
		Str("target", string(target)).
		Str("path", m.Path(target)).
		Msg("mirror synced")

	return nil
}

// clone builds the mirror in a temporary sibling directory and renames it
// into place, so an interrupted clone never looks ready.
func (m *Manager) clone(ctx context.Context, sp Spec) error {
	path := m.Path(sp.Target)

	fail := func(op string, err error) error {
		return &replication.MirrorSyncError{
			Target: sp.Target, Op: op, Err: err,
		}
	}

	if err := os.MkdirAll(m.root, 0o750); err != nil {
		return fail("create root", err)
	}

	tmp, err := os.MkdirTemp(m.root, "."+string(sp.Target)+"-clone-")
	if err != nil {
		return fail("create temp dir", err)
	}

	defer func() {
		if err := os.RemoveAll(tmp); err != nil {
			log.Warn().Err(err).Str("dir", tmp).Msg("cleanup failed")
		}
	}()

	repo, err := git.Clone(
		ctx, sp.OriginURL, tmp, sp.DefaultBranch,
		m.binary, m.identity,
	)
	if err != nil {
		return fail("clone", err)
	}

	if err := repo.AddRemote(
		ctx, sp.UpstreamRemote, sp.UpstreamURL,
	); err != nil {
		return fail("add upstream remote", err)
	}

	if err := repo.UpdateRemotes(ctx); err != nil {
		return fail("remote update", err)
	}

	// A stale directory without .git is debris from an older layout.
	if err := os.RemoveAll(path); err != nil {
		return fail("remove stale mirror", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fail("move into place", err)
	}

	log.Info().
		Str("target", string(sp.Target)).
		Str("origin", sp.OriginURL).
		Str("upstream", sp.UpstreamURL).
		Msg("mirror cloned")

	return nil
}

func (m *Manager) sync(ctx context.Context, sp Spec) error {
	repo := git.Open(m.Path(sp.Target), m.binary, m.identity)

	steps := []struct {
		op  string
		run func() error
	}{
		{"fetch upstream", func() error {
			return repo.Fetch(ctx, sp.UpstreamRemote)
		}},
		{"fetch origin", func() error {
			return repo.Fetch(ctx, repo.RemoteName)
		}},
		{"checkout", func() error {
			return repo.Checkout(ctx, sp.DefaultBranch)
		}},
		{"reset to origin", func() error {
			return repo.ResetHard(
				ctx, repo.RemoteName+"/"+sp.DefaultBranch,
			)
		}},
		{"merge upstream", func() error {
			return repo.MergeNoFastForward(
				ctx, sp.UpstreamRemote+"/"+sp.DefaultBranch,
			)
		}},
		{"push", func() error {
			return repo.Push(ctx, sp.DefaultBranch)
		}},
	}

	for _, st := range steps {
		if err := st.run(); err != nil {
			return &replication.MirrorSyncError{
				Target: sp.Target, Op: st.op, Err: err,
			}
		}

		replication.Heartbeat(ctx, "mirror "+st.op)
	}

	return nil
}

// Snapshot clones target's mirror into dst, based on the mirror's view of
// origin's default branch, and points its origin remote at the forge,
// returning the working copy. The mirror is synced first if it
// does not exist yet.
func (m *Manager) Snapshot(
	ctx context.Context,
	target replication.Target,
	dst string,
) (*git.Repo, error) {
	const errCtx = "snapshotting mirror"

	sp, err := m.Spec(target)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if !m.exists(target) {
		if err := m.EnsureSynced(ctx, target); err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	unlock, err := m.locks.RLock(ctx, string(target))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}
	defer unlock()

	if !m.exists(target) {
		return nil, fmt.Errorf(
			"%s: %w", errCtx,
			&replication.MirrorSyncError{
				Target: target,
				Op:     "snapshot",
				Err:    errors.New("mirror vanished"),
			},
		)
	}

	repo, err := git.Clone(
		ctx, m.Path(target), dst, sp.DefaultBranch,
		m.binary, m.identity,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	// The mirror's default branch can hold a merge whose push failed.
	// Request branches start from what origin last acknowledged.
	tracking := "refs/remotes/" + repo.RemoteName + "/" + sp.DefaultBranch

	if err := repo.FetchRef(
		ctx, repo.RemoteName, tracking, tracking,
	); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := repo.ResetHard(ctx, tracking); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := repo.SetRemoteURL(
		ctx, repo.RemoteName, sp.OriginURL,
	); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return repo, nil
}
