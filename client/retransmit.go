// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixclient/client/instrument"
	"github.com/katzenpost/mixclient/core/fragment"
)

type retransmitItem struct {
	id       fragment.ID
	deadline time.Time
}

// ARQ retransmits pending fragments whose acknowledgement did not arrive
// within the expected round trip time plus slop.
type ARQ struct {
	log *logging.Logger

	timerQueue *TimerQueue
	pending    *PendingTable
	chunker    *Chunker
	topology   *topologyAccessor
	outbound   *OutboundQueue

	roundTripTimeSlop  time.Duration
	maxRetransmissions int

	onFatal func(error)
}

func newARQ(c *Client) *ARQ {
	a := &ARQ{
		log:                c.logBackend.GetLogger("client/arq"),
		pending:            c.pending,
		chunker:            c.chunker,
		topology:           c.topology,
		outbound:           c.outbound,
		roundTripTimeSlop:  c.cfg.Debug.RoundTripTimeSlopDuration(),
		maxRetransmissions: c.cfg.Debug.MaxRetransmissions,
		onFatal:            c.fatal,
	}
	a.timerQueue = NewTimerQueue(func(v interface{}) {
		item, ok := v.(*retransmitItem)
		if !ok {
			panic("BUG: ARQ timer queue received a non retransmit item")
		}
		a.resend(item)
	})
	return a
}

// Start starts the timer queue worker.
func (a *ARQ) Start() {
	a.timerQueue.Start()
}

// Halt stops the timer queue worker.
func (a *ARQ) Halt() {
	a.timerQueue.Halt()
}

// Deadline returns the retransmission deadline of a transmission at sentAt
// whose routes add up to totalDelay.
func (a *ARQ) Deadline(sentAt time.Time, totalDelay time.Duration) time.Time {
	return sentAt.Add(totalDelay).Add(a.roundTripTimeSlop)
}

// Schedule arms the retransmission timer of id.
func (a *ARQ) Schedule(id fragment.ID, deadline time.Time) {
	a.timerQueue.Push(deadline, &retransmitItem{
		id:       id,
		deadline: deadline,
	})
}

func (a *ARQ) resend(item *retransmitItem) {
	e, ok := a.pending.Get(item.id)
	if !ok {
		// Acknowledged.
		return
	}
	if !e.Deadline.Equal(item.deadline) {
		// Superseded by a later schedule.
		return
	}
	if a.maxRetransmissions > 0 && int(e.Retransmissions) >= a.maxRetransmissions {
		a.pending.Remove(item.id)
		instrument.Dropped(instrument.DropRetransmits)
		instrument.Pending(a.pending.Len())
		a.log.Warningf("Giving up on fragment %v to %v after %d retransmissions", item.id, e.Recipient, e.Retransmissions)
		return
	}

	view, err := a.topology.Permit()
	if err != nil {
		a.log.Debugf("Deferring retransmission of %v: %v", item.id, err)
		a.reschedule(item.id)
		return
	}
	delay, pkt, err := a.chunker.PrepareChunkForSending(view, e.Fragment, e.Recipient)
	if err != nil {
		if IsFatal(err) {
			a.onFatal(err)
			return
		}
		a.log.Debugf("Deferring retransmission of %v: %v", item.id, err)
		a.reschedule(item.id)
		return
	}

	now := time.Now()
	deadline := a.Deadline(now, delay)
	if !a.pending.Update(item.id, func(e *PendingEntry) {
		e.TotalDelay = delay
		e.SentAt = now
		e.Deadline = deadline
		e.Retransmissions++
	}) {
		return
	}
	if err = a.outbound.Push(pkt); err != nil {
		a.onFatal(err)
		return
	}
	instrument.Retransmission()
	a.log.Debugf("Retransmitted %v (attempt %d), expected round trip %v", item.id, e.Retransmissions+1, delay)
	a.Schedule(item.id, deadline)
}

func (a *ARQ) reschedule(id fragment.ID) {
	deadline := time.Now().Add(a.roundTripTimeSlop)
	if a.pending.Update(id, func(e *PendingEntry) {
		e.Deadline = deadline
	}) {
		a.Schedule(id, deadline)
	}
}
