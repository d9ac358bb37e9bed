package pipeline

import (
	"context"
	"errors"
	"sync"

	"rgbd-stream-go/internal/types"
)

const DefaultQueueCapacity = 30

var ErrQueueClosed = errors.New("frame queue closed")

// FrameQueue is a bounded FIFO of undecoded frame pairs. Post blocks once
// capacity is reached.
type FrameQueue struct {
	ch        chan types.FramePair
	done      chan struct{}
	closeOnce sync.Once
}

func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	return &FrameQueue{
		ch:   make(chan types.FramePair, capacity),
		done: make(chan struct{}),
	}
}

// Post enqueues pair, waiting for space. It fails once the queue is closed or
// ctx is done.
func (q *FrameQueue) Post(ctx context.Context, pair types.FramePair) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- pair:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPost enqueues pair only if there is space.
func (q *FrameQueue) TryPost(pair types.FramePair) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- pair:
		return true
	default:
		return false
	}
}

func (q *FrameQueue) TryReceive() (types.FramePair, bool) {
	select {
	case pair := <-q.ch:
		return pair, true
	default:
		return types.FramePair{}, false
	}
}

func (q *FrameQueue) Len() int {
	return len(q.ch)
}

func (q *FrameQueue) Cap() int {
	return cap(q.ch)
}

// Close fires the Done signal. Pending pairs are left for the garbage
// collector.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *FrameQueue) Done() <-chan struct{} {
	return q.done
}
