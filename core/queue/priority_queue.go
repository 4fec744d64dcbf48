// SPDX-FileCopyrightText: Copyright (C) 2017, 2018  David Anthony Stainton, Yawning Angel
// SPDX-License-Identifier: AGPL-3.0-only

// Package queue implements a min-heap priority queue, used to order
// retransmission deadlines.
package queue

import "container/heap"

// Entry is a PriorityQueue entry.
type Entry struct {
	Value    interface{}
	Priority uint64
}

// PriorityQueue is a priority queue instance.  It is not safe for
// concurrent use; callers provide their own locking.
type PriorityQueue struct {
	heap []*Entry
}

// Less implements sort.Interface Less method
func (q PriorityQueue) Less(i, j int) bool {
	return q.heap[i].Priority < q.heap[j].Priority
}

// Swap implements sort.Interface Swap method
func (q PriorityQueue) Swap(i, j int) {
	if i < 0 || j < 0 {
		return
	}
	q.heap[i], q.heap[j] = q.heap[j], q.heap[i]
}

// Len returns the current length of the priority queue.
func (q PriorityQueue) Len() int {
	return len(q.heap)
}

// Push implements heap.Interface Push method
func (q *PriorityQueue) Push(x interface{}) {
	q.heap = append(q.heap, x.(*Entry))
}

// Pop implements heap.Interface Pop method.  Use Dequeue to remove the
// lowest priority entry.
func (q *PriorityQueue) Pop() interface{} {
	n := len(q.heap)
	if n == 0 {
		return nil
	}
	e := q.heap[n-1]
	q.heap[n-1] = nil
	q.heap = q.heap[:n-1]
	return e
}

// Peek returns the 0th entry (lowest priority) if any, leaving the
// PriorityQueue unaltered.  Callers MUST NOT alter the Priority of the
// returned entry.
func (q *PriorityQueue) Peek() *Entry {
	if q.Len() == 0 {
		return nil
	}
	return q.heap[0]
}

// Enqueue inserts the provided value, into the queue with the specified
// priority.
func (q *PriorityQueue) Enqueue(priority uint64, value interface{}) {
	heap.Push(q, &Entry{
		Value:    value,
		Priority: priority,
	})
}

// Dequeue removes and returns the lowest priority entry, or nil if the
// queue is empty.
func (q *PriorityQueue) Dequeue() *Entry {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*Entry)
}

// DequeueIf removes and returns the lowest priority entry iff its priority
// is at most limit.
func (q *PriorityQueue) DequeueIf(limit uint64) *Entry {
	if e := q.Peek(); e == nil || e.Priority > limit {
		return nil
	}
	return q.Dequeue()
}

// New creates a new PriorityQueue.
func New() *PriorityQueue {
	q := &PriorityQueue{
		heap: make([]*Entry, 0),
	}
	heap.Init(q)
	return q
}
