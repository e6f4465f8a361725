package cachedpath

import (
	"context"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"
)

// lockRetryDelay is how often flock polls for the advisory lock while
// waiting on a contended entry; see entryLock.withLock.
const lockRetryDelay = 25 * time.Millisecond

// entryLock provides exclusive access to one cache entry's critical
// section, both within this process and across processes sharing the
// cache directory.
//
// Two layers cooperate: an in-process golang.org/x/sync/singleflight.Group
// keyed by the entry's base key collapses concurrent goroutines in this
// process down to one actual lock acquisition, and a github.com/gofrs/flock
// advisory file lock on the ".lock" sidecar serializes across processes.
// Neither layer is required for correctness on its own — flock alone would
// be correct but would make every goroutine pay for a syscall round trip
// even when a sibling goroutine already did the work; singleflight alone
// wouldn't coordinate across processes at all.
type entryLock struct {
	group singleflight.Group
}

// withLock runs fn while holding the exclusive lock identified by
// lockPath, the way github.com/cirruslabs/chacha's kmutex serializes
// per-key critical sections, extended here to also cross process
// boundaries via flock(2). fn's return value is shared by every goroutine
// in this process that called withLock concurrently with the same
// lockPath (singleflight's forget-on-completion semantics).
func (l *entryLock) withLock(ctx context.Context, lockPath string, fn func() (string, error)) (string, error) {
	result, err, _ := l.group.Do(lockPath, func() (interface{}, error) {
		fileLock := flock.New(lockPath)

		locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
		if err != nil {
			return nil, newErr("lock", lockPath, ErrIO, err)
		}
		if !locked {
			return nil, newErr("lock", lockPath, ErrIO, ctx.Err())
		}
		defer func() {
			_ = fileLock.Unlock()
		}()

		return fn()
	})
	if err != nil {
		return "", err
	}

	return result.(string), nil
}
