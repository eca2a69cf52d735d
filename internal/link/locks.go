package link

import (
	"context"
	"sync"
)

// Locks is a set of per-address mutexes whose acquisition honours a
// context. The zero value is ready to use.
//
// Thread-safety: Locks is safe for concurrent use.
type Locks struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// Lock blocks until address is free or ctx ends. On success the returned
// function releases the lock; it must be called exactly once.
func (l *Locks) Lock(ctx context.Context, address string) (func(), error) {
	l.mu.Lock()
	if l.slots == nil {
		l.slots = make(map[string]*slot)
	}
	s, ok := l.slots[address]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[address] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			l.release(address, s)
		}, nil
	case <-ctx.Done():
		l.release(address, s)
		return nil, ctx.Err()
	}
}

func (l *Locks) release(address string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, address)
	}
}

// held returns how many addresses currently have holders or waiters.
func (l *Locks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
