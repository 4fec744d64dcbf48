// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"sync"

	"gopkg.in/eapache/channels.v1"
)

// OutboundQueue is the unbounded queue between the packet producers and
// the network send stage.  Pushing never blocks on a slow consumer.
type OutboundQueue struct {
	sync.RWMutex

	ch     *channels.InfiniteChannel
	closed bool
}

// NewOutboundQueue returns an empty OutboundQueue.
func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{
		ch: channels.NewInfiniteChannel(),
	}
}

// Push enqueues pkt.  Pushing to a closed queue returns a *FatalError
// wrapping ErrOutboundClosed.
func (q *OutboundQueue) Push(pkt *OutboundPacket) error {
	q.RLock()
	defer q.RUnlock()
	if q.closed {
		return &FatalError{Op: "push outbound packet", Err: ErrOutboundClosed}
	}
	q.ch.In() <- pkt
	return nil
}

// Out returns the channel packets are dequeued from.  It is closed once
// the queue was closed and drained.
func (q *OutboundQueue) Out() <-chan interface{} {
	return q.ch.Out()
}

// Len returns the number of queued packets.
func (q *OutboundQueue) Len() int {
	return q.ch.Len()
}

// Close closes the queue, further pushes fail.
func (q *OutboundQueue) Close() {
	q.Lock()
	defer q.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.ch.Close()
}
