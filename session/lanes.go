package session

import (
	"context"
	"errors"
	"sync"
)

// ErrLaneClosed is returned by Acquire after Close.
var ErrLaneClosed = errors.New("session: lanes closed")

type lane struct {
	slot    chan struct{}
	waiters int
}

// Lanes serializes work per key (session id). Work on the same key never
// interleaves; different keys proceed concurrently. Idle lanes are released
// so memory stays proportional to active sessions.
type Lanes struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
}

// NewLanes creates an empty lane set.
func NewLanes() *Lanes {
	return &Lanes{lanes: make(map[string]*lane)}
}

// Acquire blocks until the lane for key is free or ctx is done. The returned
// release func must be called exactly once.
func (l *Lanes) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrLaneClosed
	}

	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane{slot: make(chan struct{}, 1)}
		l.lanes[key] = ln
	}

	ln.waiters++
	l.mu.Unlock()

	select {
	case ln.slot <- struct{}{}:
	case <-ctx.Done():
		l.leave(key, ln)
		return nil, ctx.Err()
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			<-ln.slot
			l.leave(key, ln)
		})
	}, nil
}

// Do runs fn while holding the lane for key.
func (l *Lanes) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx)
}

// Active reports the number of lanes currently held or awaited.
func (l *Lanes) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.lanes)
}

// Close rejects further Acquire calls. Holders keep their lanes until release.
func (l *Lanes) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
}

func (l *Lanes) leave(key string, ln *lane) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ln.waiters--
	if ln.waiters == 0 {
		delete(l.lanes, key)
	}
}
