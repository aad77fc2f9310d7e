package domain

import (
	"container/heap"
	"context"
	"sync"
)

// Refund is a queued request to return escrowed funds to their sender.
// Attempts counts how many times issuing the refund transfer failed already.
type Refund struct {
	Receipt  TransferReceipt
	Priority int
	ClaimFee bool
	Attempts int

	seq uint64
}

// RefundQueue is a priority queue of refunds: lower numeric priority values
// are served first, ties are served in insertion order. Any goroutine may
// push; a single drainer is expected to pop.
type RefundQueue struct {
	lock    sync.Mutex
	items   refundHeap
	nextSeq uint64
	signal  chan struct{}
}

// NewRefundQueue returns an empty queue.
func NewRefundQueue() *RefundQueue {
	return &RefundQueue{signal: make(chan struct{}, 1)}
}

// Push enqueues a refund.
func (q *RefundQueue) Push(refund Refund) {
	q.lock.Lock()
	refund.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.items, refund)
	q.lock.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop blocks until a refund is available or the context is done.
func (q *RefundQueue) Pop(ctx context.Context) (Refund, bool) {
	for {
		q.lock.Lock()
		if q.items.Len() > 0 {
			refund := heap.Pop(&q.items).(Refund)
			q.lock.Unlock()
			return refund, true
		}
		q.lock.Unlock()

		select {
		case <-ctx.Done():
			return Refund{}, false
		case <-q.signal:
		}
	}
}

// Len returns the number of queued refunds.
func (q *RefundQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.items.Len()
}

type refundHeap []Refund

func (h refundHeap) Len() int { return len(h) }

func (h refundHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h refundHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *refundHeap) Push(x interface{}) {
	*h = append(*h, x.(Refund))
}

func (h *refundHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
