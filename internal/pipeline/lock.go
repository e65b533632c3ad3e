package pipeline

import (
	"context"
	"sync"
)

// sessionLocks hands out one lock per session id. Entries are created on
// first use and evicted when the last holder or waiter leaves.
type sessionLocks struct {
	mu sync.Mutex
	m  map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{m: make(map[string]*sessionLock)}
}

func (l *sessionLocks) acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	s, ok := l.m[id]
	if !ok {
		s = &sessionLock{ch: make(chan struct{}, 1)}
		l.m[id] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.release(id, s)
			})
		}, nil
	case <-ctx.Done():
		l.release(id, s)
		return nil, ctx.Err()
	}
}

func (l *sessionLocks) release(id string, s *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.m, id)
	}
}

func (l *sessionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
