// Package guard serializes reconciliation work per subject and collapses
// identical concurrent requests into one execution.
package guard

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/julianstephens/lessonsync/internal/logger"
)

// Key identifies one unit of reconciliation work: a subject and a window in
// unix milliseconds. Resync uses a zero window.
type Key struct {
	SubjectID string
	Start     int64
	End       int64
}

// String is the registry key. The subject id is quoted so no id can collide
// with another key's window suffix.
func (k Key) String() string {
	return strconv.Quote(k.SubjectID) + "|" + strconv.FormatInt(k.Start, 10) + "|" + strconv.FormatInt(k.End, 10)
}

type subjectLock struct {
	sem  *semaphore.Weighted
	refs int
}

// Guard is safe for concurrent use. The zero value is not usable; call New.
type Guard struct {
	group singleflight.Group

	mu       sync.Mutex
	subjects map[string]*subjectLock
	inflight map[string]struct{}
}

func New() *Guard {
	return &Guard{
		subjects: make(map[string]*subjectLock),
		inflight: make(map[string]struct{}),
	}
}

// Do runs fn once per in-flight key. Callers arriving while the same key is
// running wait for and share its result. Work for one subject runs one key
// at a time; different subjects run concurrently.
//
// fn receives a context that keeps the first caller's values but not its
// cancellation, so a departing caller does not abort work others wait on.
// A caller whose ctx ends returns ctx.Err() immediately.
func (g *Guard) Do(ctx context.Context, key Key, fn func(ctx context.Context) (any, error)) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	id := key.String()
	workCtx := context.WithoutCancel(ctx)
	ch := g.group.DoChan(id, func() (any, error) {
		return g.run(workCtx, id, key.SubjectID, fn)
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		logger.Debug("Guard waiter left before completion", "key", id, "error", ctx.Err())
		return nil, false, ctx.Err()
	}
}

func (g *Guard) run(ctx context.Context, id, subjectID string, fn func(ctx context.Context) (any, error)) (val any, err error) {
	g.mu.Lock()
	g.inflight[id] = struct{}{}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.inflight, id)
		g.mu.Unlock()
	}()

	lock := g.acquireEntry(subjectID)
	defer g.releaseEntry(subjectID)

	if err := lock.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer lock.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Guarded operation panicked", "key", id, "panic", r)
			val, err = nil, fmt.Errorf("guarded operation %s panicked: %v", id, r)
		}
	}()

	return fn(ctx)
}

func (g *Guard) acquireEntry(subjectID string) *subjectLock {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.subjects[subjectID]
	if !ok {
		lock = &subjectLock{sem: semaphore.NewWeighted(1)}
		g.subjects[subjectID] = lock
	}
	lock.refs++
	return lock
}

func (g *Guard) releaseEntry(subjectID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.subjects[subjectID]
	if !ok {
		return
	}
	lock.refs--
	if lock.refs == 0 {
		delete(g.subjects, subjectID)
	}
}

// Len reports how many in-flight keys and subject locks are registered.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight) + len(g.subjects)
}
