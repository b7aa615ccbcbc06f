package nonce

import (
	"context"

	"golang.org/x/sync/semaphore"
)

const writerWeight = 1 << 30

// rwLock is a reader/writer lock whose waiters can give up when their
// context is done. Writers take the whole semaphore, readers one unit.
// Waiters are served in FIFO order, so a queued writer holds back later
// readers.
type rwLock struct {
	sem *semaphore.Weighted
}

func newRWLock() *rwLock {
	return &rwLock{sem: semaphore.NewWeighted(writerWeight)}
}

func (l *rwLock) Lock(ctx context.Context) error {
	return l.sem.Acquire(ctx, writerWeight)
}

func (l *rwLock) Unlock() {
	l.sem.Release(writerWeight)
}

func (l *rwLock) RLock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

func (l *rwLock) RUnlock() {
	l.sem.Release(1)
}
