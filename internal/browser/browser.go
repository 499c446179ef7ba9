// Package browser owns the lifetime of one Chrome tab wearing one
// identity: launching it with a pinned fingerprint, driving it through
// seeded human-paced gestures, and recording the traffic and entropy
// telemetry the live page produces.
package browser

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrSessionStopped is returned by every operation invoked after the
	// session reached its terminal state.
	ErrSessionStopped = errors.New("session stopped")

	// ErrNoElement marks a selector that matched nothing on the page.
	ErrNoElement = errors.New("no element matches selector")
)

// combinedContext joins two contexts so cancellation of either one ends
// the combined context with that context's specific error. Values resolve
// against the secondary context first, which keeps a CDP target reachable
// while a caller deadline stays in force.
type combinedContext struct {
	parentCtx    context.Context
	secondaryCtx context.Context
	done         chan struct{}
	err          error
	mu           sync.Mutex
}

func (c *combinedContext) Deadline() (time.Time, bool) {
	d1, ok1 := c.parentCtx.Deadline()
	d2, ok2 := c.secondaryCtx.Deadline()
	switch {
	case !ok1 && !ok2:
		return time.Time{}, false
	case !ok1:
		return d2, true
	case !ok2:
		return d1, true
	case d1.Before(d2):
		return d1, true
	}
	return d2, true
}

func (c *combinedContext) Done() <-chan struct{} { return c.done }

func (c *combinedContext) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *combinedContext) Value(key interface{}) interface{} {
	if val := c.secondaryCtx.Value(key); val != nil {
		return val
	}
	return c.parentCtx.Value(key)
}

// CombineContext returns a context canceled when either input is. The
// session passes its tab context as parent and the caller's context as
// secondary, so an operation dies with the tab and also honors the
// caller's deadline.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	if parentCtx == secondaryCtx || secondaryCtx == context.Background() || secondaryCtx == context.TODO() {
		return context.WithCancel(parentCtx)
	}
	c := &combinedContext{
		parentCtx:    parentCtx,
		secondaryCtx: secondaryCtx,
		done:         make(chan struct{}),
	}
	if err := parentCtx.Err(); err != nil {
		c.err = err
		close(c.done)
		return c, func() {}
	}
	if err := secondaryCtx.Err(); err != nil {
		c.err = err
		close(c.done)
		return c, func() {}
	}
	stop := make(chan struct{}, 1)
	go func() {
		var err error
		select {
		case <-parentCtx.Done():
			err = parentCtx.Err()
		case <-secondaryCtx.Done():
			err = secondaryCtx.Err()
		case <-stop:
			err = context.Canceled
		}
		c.mu.Lock()
		if c.err == nil {
			c.err = err
			close(c.done)
		}
		c.mu.Unlock()
	}()
	cancel := func() {
		select {
		case stop <- struct{}{}:
		case <-c.done:
		}
	}
	return c, cancel
}
