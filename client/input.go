// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"errors"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixclient/client/instrument"
	"github.com/katzenpost/mixclient/core/fragment"
	"github.com/katzenpost/mixclient/core/pki"
	"github.com/katzenpost/mixclient/core/worker"
)

type inputState int32

const (
	stateIdle inputState = iota
	stateSplitting
	stateAwaitingTopologyPermit
	stateInserting
	stateSending
)

func (s inputState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateSplitting:
		return "SplittingMessage"
	case stateAwaitingTopologyPermit:
		return "AwaitingTopologyPermit"
	case stateInserting:
		return "Inserting"
	case stateSending:
		return "Sending"
	default:
		return "[Invalid state]"
	}
}

type submission struct {
	recipient *Recipient
	msg       []byte
}

// inputListener turns submitted messages into packets, one message at a
// time.  All fragments of a message are registered as pending before the
// first packet is released.
type inputListener struct {
	worker.Worker

	log *logging.Logger

	inCh  chan *submission
	state atomic.Int32

	codec    *fragment.Codec
	self     *Recipient
	topology *topologyAccessor
	chunker  *Chunker
	pending  *PendingTable
	outbound *OutboundQueue
	arq      *ARQ

	onFatal func(error)
}

func newInputListener(c *Client) *inputListener {
	return &inputListener{
		log:      c.logBackend.GetLogger("client/input"),
		inCh:     make(chan *submission, c.cfg.Debug.InputQueueLength),
		codec:    c.codec,
		self:     c.self,
		topology: c.topology,
		chunker:  c.chunker,
		pending:  c.pending,
		outbound: c.outbound,
		arq:      c.arq,
		onFatal:  c.fatal,
	}
}

func (l *inputListener) Start() {
	l.Go(l.worker)
}

func (l *inputListener) submit(sub *submission) error {
	if l.IsHalted() {
		return ErrShutdown
	}
	select {
	case <-l.HaltCh():
		return ErrShutdown
	case l.inCh <- sub:
		return nil
	}
}

func (l *inputListener) setState(s inputState) {
	l.state.Store(int32(s))
}

func (l *inputListener) getState() inputState {
	return inputState(l.state.Load())
}

func (l *inputListener) worker() {
	for {
		select {
		case <-l.HaltCh():
			l.log.Debugf("Terminating gracefully.")
			return
		case sub := <-l.inCh:
			l.process(sub)
			l.setState(stateIdle)
		}
	}
}

func (l *inputListener) drop(sub *submission, reason string, err error) {
	instrument.Dropped(reason)
	l.log.Warningf("Dropping %d byte message to %v in state %v: %v", len(sub.msg), sub.recipient, l.getState(), err)
}

func (l *inputListener) process(sub *submission) {
	l.setState(stateSplitting)
	frags, err := l.codec.Split(sub.msg)
	if err != nil {
		reason := instrument.DropMalformed
		if errors.Is(err, fragment.ErrMessageTooLarge) {
			reason = instrument.DropTooLarge
		}
		l.drop(sub, reason, err)
		return
	}

	l.setState(stateAwaitingTopologyPermit)
	view, err := l.topology.Permit()
	if err != nil {
		l.drop(sub, instrument.DropNoTopology, err)
		return
	}
	for _, gw := range []*[pki.NodeIDLength]byte{&l.self.Gateway, &sub.recipient.Gateway} {
		if err = view.EnsureRoutable(gw); err != nil {
			l.drop(sub, instrument.DropNoRoute, err)
			return
		}
	}

	type prepared struct {
		entry *PendingEntry
		pkt   *OutboundPacket
	}
	ps := make([]prepared, 0, len(frags))
	for _, f := range frags {
		delay, pkt, err := l.chunker.PrepareChunkForSending(view, f, sub.recipient)
		if err != nil {
			if IsFatal(err) {
				l.onFatal(err)
				return
			}
			l.drop(sub, instrument.DropNoRoute, err)
			return
		}
		ps = append(ps, prepared{
			entry: &PendingEntry{
				Fragment:   f,
				Recipient:  sub.recipient,
				TotalDelay: delay,
			},
			pkt: pkt,
		})
	}

	l.setState(stateInserting)
	now := time.Now()
	entries := make([]*PendingEntry, 0, len(ps))
	for _, p := range ps {
		p.entry.SentAt = now
		p.entry.Deadline = l.arq.Deadline(now, p.entry.TotalDelay)
		entries = append(entries, p.entry)
	}
	if err = l.pending.InsertAll(entries); err != nil {
		l.onFatal(err)
		return
	}
	instrument.Pending(l.pending.Len())

	l.setState(stateSending)
	for _, p := range ps {
		if err = l.outbound.Push(p.pkt); err != nil {
			l.onFatal(err)
			return
		}
		instrument.FragmentSent()
		l.arq.Schedule(p.entry.Fragment.ID(), p.entry.Deadline)
	}
	l.log.Debugf("Sent %d byte message to %v as %d fragments", len(sub.msg), sub.recipient, len(ps))
}
