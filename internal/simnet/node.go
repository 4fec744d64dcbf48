// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package simnet

import (
	"sync"
	"time"

	"github.com/yawning/bloom"
	"gopkg.in/eapache/channels.v1"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/mixclient/core/onion"
	"github.com/katzenpost/mixclient/core/pki"
	"github.com/katzenpost/mixclient/core/worker"
)

// 2^20 bits, 128 KiB.
const replayFilterSize = 20

type node struct {
	worker.Worker

	log *logging.Logger
	net *Network

	desc  *pki.MixDescriptor
	id    [pki.NodeIDLength]byte
	layer uint8
	priv  nike.PrivateKey

	sync.RWMutex
	ingress *channels.InfiniteChannel
	closed  bool

	filter *bloom.Filter
}

func newNode(n *Network, desc *pki.MixDescriptor, layer uint8, priv nike.PrivateKey) (*node, error) {
	f, err := bloom.New(rand.Reader, replayFilterSize, 0.001)
	if err != nil {
		return nil, err
	}
	return &node{
		log:     n.logBackend.GetLogger("simnet/" + desc.Name),
		net:     n,
		desc:    desc,
		id:      desc.ID(),
		layer:   layer,
		priv:    priv,
		ingress: channels.NewInfiniteChannel(),
		filter:  f,
	}, nil
}

func (nd *node) start() {
	nd.Go(nd.worker)
}

func (nd *node) enqueue(pkt []byte) {
	nd.RLock()
	defer nd.RUnlock()
	if nd.closed {
		return
	}
	nd.ingress.In() <- pkt
}

func (nd *node) worker() {
	defer func() {
		nd.Lock()
		nd.closed = true
		nd.ingress.Close()
		nd.Unlock()
	}()
	for {
		select {
		case <-nd.HaltCh():
			return
		case v := <-nd.ingress.Out():
			nd.process(v.([]byte))
		}
	}
}

func (nd *node) process(pkt []byte) {
	n := nd.net
	geo := n.geo.Forward

	// The ephemeral key is unique per layer, a repeat is a replay.
	if pkLen := geo.Scheme.PublicKeySize(); len(pkt) < pkLen || nd.filter.TestAndSet(pkt[:pkLen]) {
		n.count(func(s *Stats) { s.Replayed++ })
		return
	}
	if n.roll(n.cfg.LossRate) {
		n.count(func(s *Stats) { s.Lost++ })
		return
	}

	cmd, inner, err := geo.Unwrap(nd.priv, pkt)
	if err != nil {
		n.count(func(s *Stats) { s.Malformed++ })
		nd.log.Debugf("Dropping packet: %v", err)
		return
	}
	if !cmd.IsTerminal() {
		if !n.isNextHop(nd.layer, &cmd.ID) {
			n.count(func(s *Stats) { s.Misrouted++ })
			nd.log.Debugf("Dropping packet for out of order hop %x", cmd.ID[:8])
			return
		}
		n.count(func(s *Stats) { s.Forwarded++ })
		nd.after(n.delay(cmd.Delay), func() {
			n.send(cmd.ID, inner)
		})
		return
	}
	if !nd.desc.IsGatewayNode {
		n.count(func(s *Stats) { s.Malformed++ })
		nd.log.Debugf("Dropping terminal packet at a mix")
		return
	}
	nd.deliver(cmd, inner)
}

func (nd *node) after(d time.Duration, fn func()) {
	if d <= 0 {
		fn()
		return
	}
	time.AfterFunc(d, func() {
		if !nd.net.IsHalted() {
			fn()
		}
	})
}

func (nd *node) deliver(cmd *onion.Command, payload []byte) {
	n := nd.net
	c := n.lookupClient(nd.id, cmd.ID)
	if c == nil {
		n.count(func(s *Stats) { s.Undeliverable++ })
		nd.log.Debugf("Dropping packet for unknown client %x", cmd.ID[:8])
		return
	}

	switch {
	case cmd.Flags&onion.FlagSURBReply != 0:
		n.count(func(s *Stats) { s.Acks++ })
		c.OnRawAckReceived(payload)
	case cmd.Flags&onion.FlagHasSURBAck != 0:
		ackFirstHop, ackPkt, area, err := n.geo.SplitPayload(payload)
		if err != nil {
			n.count(func(s *Stats) { s.Malformed++ })
			return
		}
		n.count(func(s *Stats) { s.Delivered++ })
		nd.handOver(c.HandleDelivery, area)
		if n.roll(n.cfg.DuplicateRate) {
			n.count(func(s *Stats) { s.Duplicated++ })
			nd.handOver(c.HandleDelivery, area)
		}
		n.inject(*ackFirstHop, ackPkt)
	default:
		n.count(func(s *Stats) { s.Malformed++ })
	}
}

func (nd *node) handOver(fn func([]byte) error, area []byte) {
	b := make([]byte, len(area))
	copy(b, area)
	if err := fn(b); err != nil {
		nd.log.Debugf("Client rejected delivery: %v", err)
	}
}
