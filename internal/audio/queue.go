package audio

import "sync/atomic"

// frameQueue is the bounded buffer between the capture callback and the
// consumer. When full, the oldest unconsumed frame is evicted so that the
// callback never blocks the audio thread. Eviction keeps the channel FIFO,
// so delivered frames stay in capture order.
type frameQueue struct {
	ch      chan Frame
	dropped atomic.Uint64
	onDrop  func()
}

func newFrameQueue(size int, onDrop func()) *frameQueue {
	return &frameQueue{
		ch:     make(chan Frame, size),
		onDrop: onDrop,
	}
}

// push enqueues f, evicting the oldest queued frame when the queue is
// full. It never blocks. Must not be called after close.
func (q *frameQueue) push(f Frame) {
	select {
	case q.ch <- f:
		return
	default:
	}

	// Queue full: drop the oldest frame, then enqueue the new one.
	select {
	case <-q.ch:
		q.drop()
	default:
	}
	select {
	case q.ch <- f:
	default:
		// The consumer raced the eviction and the queue filled again.
		// Count the new frame as the dropped one.
		q.drop()
	}
}

func (q *frameQueue) drop() {
	q.dropped.Add(1)
	if q.onDrop != nil {
		q.onDrop()
	}
}

func (q *frameQueue) frames() <-chan Frame {
	return q.ch
}

func (q *frameQueue) close() {
	close(q.ch)
}

func (q *frameQueue) droppedCount() uint64 {
	return q.dropped.Load()
}
