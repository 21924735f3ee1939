package baton

import "sync"

// delivery is one queued (event, args) pair awaiting consumption.
type delivery struct {
	event string
	args  Args
}

// queue is the unbounded FIFO of pending deliveries. Enqueuing never blocks;
// the consumer loop drains from the head.
type queue struct {
	mu    sync.Mutex
	items []delivery
	head  int
}

func newQueue() *queue {
	return &queue{}
}

// push appends a delivery at the tail.
func (q *queue) push(d delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, d)
}

// pushFront returns a delivery to the head. Used when a popped delivery could
// not be completed and must keep its place in line.
func (q *queue) pushFront(d delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head > 0 {
		q.head--
		q.items[q.head] = d
		return
	}
	q.items = append([]delivery{d}, q.items...)
}

// pop removes and returns the head delivery.
func (q *queue) pop() (delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return delivery{}, false
	}
	d := q.items[q.head]
	q.items[q.head] = delivery{}
	q.head++
	// Reclaim consumed space once it dominates the backing slice.
	if q.head > 64 && q.head*2 >= len(q.items) {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return d, true
}

// len reports the number of pending deliveries.
func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// clear discards all pending deliveries.
func (q *queue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.head = 0
}
