package ingest

import (
	"context"
	"sync"
	"time"
)

// MemQueue is a bounded in-process FIFO for single-instance deployments.
type MemQueue struct {
	mu     sync.Mutex
	data   [][]byte
	cap    int
	notify chan struct{}
}

// NewMemQueue returns a queue holding at most capacity messages; zero means unbounded.
func NewMemQueue(capacity int) *MemQueue {
	if capacity < 0 {
		capacity = 0
	}
	return &MemQueue{
		data:   make([][]byte, 0, min(capacity, 1024)),
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

func (q *MemQueue) Push(_ context.Context, msg []byte) error {
	q.mu.Lock()
	if q.cap > 0 && len(q.data) >= q.cap {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.data = append(q.data, append([]byte(nil), msg...))
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if msg, ok := q.tryPop(); ok {
		return msg, nil
	}
	if timeout <= 0 {
		return nil, ErrQueueEmpty
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.notify:
			if msg, ok := q.tryPop(); ok {
				return msg, nil
			}
		case <-timer.C:
			if msg, ok := q.tryPop(); ok {
				return msg, nil
			}
			return nil, ErrQueueEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemQueue) tryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil, false
	}
	msg := q.data[0]
	q.data[0] = nil
	q.data = q.data[1:]
	if len(q.data) > 0 {
		// wake the next waiter; a single notify token may have been consumed
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return msg, true
}

func (q *MemQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.data)), nil
}

var _ Queue = (*MemQueue)(nil)
