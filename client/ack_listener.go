// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixclient/client/ack"
	"github.com/katzenpost/mixclient/client/instrument"
	"github.com/katzenpost/mixclient/core/worker"
)

const ackQueueLength = 64

// ackListener consumes raw acknowledgements and clears the matching
// pending entries.
type ackListener struct {
	worker.Worker

	log *logging.Logger

	ackCh   chan []byte
	key     *ack.Key
	pending *PendingTable
}

func newAckListener(c *Client) *ackListener {
	return &ackListener{
		log:     c.logBackend.GetLogger("client/ack"),
		ackCh:   make(chan []byte, ackQueueLength),
		key:     c.ackKey,
		pending: c.pending,
	}
}

func (l *ackListener) Start() {
	l.Go(l.worker)
}

func (l *ackListener) enqueue(b []byte) {
	select {
	case <-l.HaltCh():
	case l.ackCh <- b:
	}
}

func (l *ackListener) worker() {
	for {
		select {
		case <-l.HaltCh():
			l.log.Debugf("Terminating gracefully.")
			return
		case b := <-l.ackCh:
			l.onAck(b)
		}
	}
}

func (l *ackListener) onAck(b []byte) {
	id, ok := l.key.Open(b)
	if !ok {
		instrument.Ack(instrument.AckInvalid)
		l.log.Debugf("Discarding invalid acknowledgement (%d bytes)", len(b))
		return
	}
	if id.IsCover() {
		instrument.Ack(instrument.AckCover)
		return
	}
	e, ok := l.pending.Remove(id)
	if !ok {
		// Duplicate, or acknowledging a fragment that was given up on.
		instrument.Ack(instrument.AckUnknown)
		l.log.Debugf("Ignoring acknowledgement for unknown fragment %v", id)
		return
	}
	instrument.Ack(instrument.AckAccepted)
	instrument.Pending(l.pending.Len())
	l.log.Debugf("Fragment %v acknowledged after %v (%d retransmissions)", id, time.Since(e.SentAt), e.Retransmissions)
}
