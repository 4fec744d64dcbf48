// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"sync"
	"time"

	"github.com/katzenpost/mixclient/core/queue"
	"github.com/katzenpost/mixclient/core/worker"
)

// TimerQueue invokes an action for every pushed value once its deadline
// has passed, in deadline order.
type TimerQueue struct {
	worker.Worker

	mutex sync.Mutex
	queue *queue.PriorityQueue

	action func(interface{})

	// wakeCh is buffered so a Push never blocks on the worker, and a
	// Push racing with the worker's select is not lost.
	wakeCh chan struct{}
}

// NewTimerQueue returns a TimerQueue that calls action from its worker.
func NewTimerQueue(action func(interface{})) *TimerQueue {
	return &TimerQueue{
		queue:  queue.New(),
		action: action,
		wakeCh: make(chan struct{}, 1),
	}
}

// Start starts the worker.
func (t *TimerQueue) Start() {
	t.Go(t.worker)
}

// Len returns the number of scheduled values.
func (t *TimerQueue) Len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.queue.Len()
}

// Push schedules value for deadline.
func (t *TimerQueue) Push(deadline time.Time, value interface{}) {
	t.mutex.Lock()
	t.queue.Enqueue(uint64(deadline.UnixNano()), value)
	t.mutex.Unlock()

	select {
	case t.wakeCh <- struct{}{}:
	default:
	}
}

// next pops the head of the queue if it is due, otherwise returns the time
// left until it is.
func (t *TimerQueue) next() (interface{}, time.Duration, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	now := time.Now().UnixNano()
	if m := t.queue.DequeueIf(uint64(now)); m != nil {
		return m.Value, 0, true
	}
	if m := t.queue.Peek(); m != nil {
		return nil, time.Duration(int64(m.Priority) - now), false
	}
	return nil, 0, false
}

func (t *TimerQueue) worker() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		v, timeLeft, due := t.next()
		if due {
			if t.IsHalted() {
				return
			}
			t.action(v)
			continue
		}

		var c <-chan time.Time
		if timeLeft > 0 {
			timer.Reset(timeLeft)
			c = timer.C
		}
		select {
		case <-t.HaltCh():
			return
		case <-c:
		case <-t.wakeCh:
			timer.Stop()
		}
	}
}
