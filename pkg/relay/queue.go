// Package relay is the only crossing point between the audio callback side and
// the network side of the bridge: a bounded FIFO that drops on full.
package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/asrbridge/pkg/frames"
)

const DefaultCapacity = 3000

var (
	ErrQueueFull = errors.New("relay queue full")
	ErrIdle      = errors.New("relay queue idle")
	ErrClosed    = errors.New("relay queue closed")
)

// Item is one audio frame handed to the network side.
type Item struct {
	Frame   frames.AudioFrame
	Primary bool
}

type Stats struct {
	Pushed  int64
	Dropped int64
	Popped  int64
}

type Queue struct {
	items   chan Item
	done    chan struct{}
	once    sync.Once
	pushed  int64
	dropped int64
	popped  int64
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items: make(chan Item, capacity),
		done:  make(chan struct{}),
	}
}

// Enqueue waits at most timeout for free capacity. On ErrQueueFull the item is
// discarded and counted as dropped.
func (q *Queue) Enqueue(item Item, timeout time.Duration) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.items <- item:
		atomic.AddInt64(&q.pushed, 1)
		return nil
	default:
	}
	if timeout <= 0 {
		atomic.AddInt64(&q.dropped, 1)
		return ErrQueueFull
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q.items <- item:
		atomic.AddInt64(&q.pushed, 1)
		return nil
	case <-q.done:
		return ErrClosed
	case <-timer.C:
		atomic.AddInt64(&q.dropped, 1)
		return ErrQueueFull
	}
}

// Dequeue blocks up to timeout. ErrIdle means nothing arrived in that window.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Item, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case it := <-q.items:
		atomic.AddInt64(&q.popped, 1)
		return it, nil
	case <-ctx.Done():
		return Item{}, ctx.Err()
	case <-q.done:
		return Item{}, ErrClosed
	case <-timer.C:
		return Item{}, ErrIdle
	}
}

// Close wakes any waiters. Items still buffered are discarded.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.done)
	})
}

func (q *Queue) Len() int { return len(q.items) }
func (q *Queue) Cap() int { return cap(q.items) }

func (q *Queue) Stats() Stats {
	return Stats{
		Pushed:  atomic.LoadInt64(&q.pushed),
		Dropped: atomic.LoadInt64(&q.dropped),
		Popped:  atomic.LoadInt64(&q.popped),
	}
}
