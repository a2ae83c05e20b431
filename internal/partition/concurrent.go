package partition

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/arkilian/bookingstore/internal/errors"
	"github.com/arkilian/bookingstore/pkg/types"
)

// LockMode distinguishes shared (query) from exclusive (write) acquisitions.
type LockMode string

const (
	LockShared    LockMode = "shared"
	LockExclusive LockMode = "exclusive"
)

// LockEvent describes one lock acquisition attempt.
type LockEvent struct {
	Partition types.PartitionID
	Name      string
	Mode      LockMode
	Waited    time.Duration
	// Contended is set when the lock was not immediately available.
	Contended bool
	Acquired  bool
}

// LockObserver receives every acquisition attempt. It must not block.
type LockObserver func(LockEvent)

// readerSlots bounds concurrent shared holders; an exclusive holder takes
// all of them.
const readerSlots = 1 << 30

// partitionLock is a reader/writer lock with a bounded wait. It is built on
// a weighted semaphore, which is FIFO: once a writer queues, later readers
// queue behind it, so writers are not starved by a stream of queries.
type partitionLock struct {
	sem *semaphore.Weighted
}

func newPartitionLock() partitionLock {
	return partitionLock{sem: semaphore.NewWeighted(readerSlots)}
}

func (l partitionLock) acquire(ctx context.Context, weight int64, timeout time.Duration) (waited time.Duration, contended bool, err error) {
	if l.sem.TryAcquire(weight) {
		return 0, false, nil
	}

	start := time.Now()
	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err = l.sem.Acquire(wctx, weight)
	return time.Since(start), true, err
}

func (l partitionLock) release(weight int64) {
	l.sem.Release(weight)
}

// Lock takes the partition exclusively. It fails with a Busy error when the
// lock is not granted within the directory's configured wait, or with the
// context's error when ctx ends first. The returned func releases the lock.
func (p *Partition) Lock(ctx context.Context) (func(), error) {
	return p.lockWith(ctx, LockExclusive, readerSlots)
}

// RLock takes the partition in shared mode.
func (p *Partition) RLock(ctx context.Context) (func(), error) {
	return p.lockWith(ctx, LockShared, 1)
}

func (p *Partition) lockWith(ctx context.Context, mode LockMode, weight int64) (func(), error) {
	waited, contended, err := p.lock.acquire(ctx, weight, p.lockTimeout)
	if p.observer != nil {
		p.observer(LockEvent{
			Partition: p.id,
			Name:      p.Name(),
			Mode:      mode,
			Waited:    waited,
			Contended: contended,
			Acquired:  err == nil,
		})
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewBusy(p.Name(), waited)
	}
	return func() { p.lock.release(weight) }, nil
}
