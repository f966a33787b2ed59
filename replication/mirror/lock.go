package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"
)

const (
	// maxReaders bounds concurrent shared holders of one key.
	maxReaders = 1 << 20

	fileLockRetry = 50 * time.Millisecond
)

// KeyedLock is a context-aware read/write lock per key. Waiters are served
// in FIFO order, so a pending writer is not starved by a stream of readers.
//
// With a directory, each key is also guarded by an advisory file lock
// <dir>/<key>.lock, which extends the exclusion to other processes sharing
// that directory.
type KeyedLock struct {
	dir string

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewKeyedLock returns an empty KeyedLock. An empty dir keeps locking
// within the process.
func NewKeyedLock(dir string) *KeyedLock {
	return &KeyedLock{
		dir:  dir,
		sems: make(map[string]*semaphore.Weighted),
	}
}

func (k *KeyedLock) sem(key string) *semaphore.Weighted {
	k.mu.Lock()
	defer k.mu.Unlock()

	se, ok := k.sems[key]
	if !ok {
		se = semaphore.NewWeighted(maxReaders)
		k.sems[key] = se
	}

	return se
}

// Lock takes key exclusively. The returned func releases it.
func (k *KeyedLock) Lock(
	ctx context.Context,
	key string,
) (func(), error) {
	return k.acquire(ctx, key, maxReaders)
}

// RLock takes key shared. The returned func releases it.
func (k *KeyedLock) RLock(
	ctx context.Context,
	key string,
) (func(), error) {
	return k.acquire(ctx, key, 1)
}

func (k *KeyedLock) acquire(
	ctx context.Context,
	key string,
	weight int64,
) (func(), error) {
	const errCtx = "locking"

	se := k.sem(key)

	if err := se.Acquire(ctx, weight); err != nil {
		return nil, fmt.Errorf("%s %s: %w", errCtx, key, err)
	}

	release := func() { se.Release(weight) }

	if k.dir != "" {
		fl, err := k.lockFile(ctx, key, weight == maxReaders)
		if err != nil {
			se.Release(weight)

			return nil, fmt.Errorf("%s %s: %w", errCtx, key, err)
		}

		release = func() {
			_ = fl.Unlock()
			se.Release(weight)
		}
	}

	var once sync.Once

	return func() { once.Do(release) }, nil
}

// lockFile takes the advisory lock of key. The in-process semaphore is
// already held, so only other processes can make this wait.
func (k *KeyedLock) lockFile(
	ctx context.Context,
	key string,
	exclusive bool,
) (*flock.Flock, error) {
	if err := os.MkdirAll(k.dir, 0o750); err != nil {
		return nil, err
	}

	fl := flock.New(filepath.Join(k.dir, key+".lock"))

	var (
		ok  bool
		err error
	)

	if exclusive {
		ok, err = fl.TryLockContext(ctx, fileLockRetry)
	} else {
		ok, err = fl.TryRLockContext(ctx, fileLockRetry)
	}

	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, ctx.Err()
	}

	return fl, nil
}
