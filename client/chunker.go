// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"io"
	"time"

	"github.com/katzenpost/mixclient/client/ack"
	"github.com/katzenpost/mixclient/core/fragment"
	"github.com/katzenpost/mixclient/core/onion"
	"github.com/katzenpost/mixclient/core/path"
	"github.com/katzenpost/mixclient/core/pki"
)

// Chunker turns fragments into onion packets that carry their own
// acknowledgement packet.
type Chunker struct {
	geo    *PacketGeometry
	ackKey *ack.Key
	self   *Recipient
	rng    io.Reader
}

// NewChunker returns a Chunker sending on behalf of self.
func NewChunker(geo *PacketGeometry, ackKey *ack.Key, self *Recipient, rng io.Reader) *Chunker {
	return &Chunker{
		geo:    geo,
		ackKey: ackKey,
		self:   self,
		rng:    rng,
	}
}

// PrepareChunkForSending wraps frag in a packet towards recipient.  Every
// call draws fresh routes and delays for both the forward and the
// acknowledgement packet.  The returned duration is the sum of the mixing
// delays of both routes.
//
// Route failures wrap path.ErrNoRoute and leave the caller free to retry,
// any other failure is a *FatalError.
func (c *Chunker) PrepareChunkForSending(view Topology, frag *fragment.Fragment, recipient *Recipient) (time.Duration, *OutboundPacket, error) {
	sealed, err := c.ackKey.Seal(frag.ID())
	if err != nil {
		return 0, nil, &FatalError{Op: "seal ack", Err: err}
	}
	b, err := frag.MarshalBinary()
	if err != nil {
		return 0, nil, &FatalError{Op: "marshal fragment", Err: err}
	}
	return c.prepare(view, sealed, b, recipient)
}

// PrepareCoverPacket builds a loop packet addressed to the sender itself.
// It carries a cover fragment and a cover acknowledgement, both of which
// are discarded on arrival.
func (c *Chunker) PrepareCoverPacket(view Topology) (time.Duration, *OutboundPacket, error) {
	sealed, err := c.ackKey.Seal(fragment.CoverID)
	if err != nil {
		return 0, nil, &FatalError{Op: "seal cover ack", Err: err}
	}
	cover := make([]byte, fragment.UnlinkedHeaderLength)
	return c.prepare(view, sealed, cover, c.self)
}

func (c *Chunker) prepare(view Topology, sealedAck, frag []byte, recipient *Recipient) (time.Duration, *OutboundPacket, error) {
	now := time.Now()
	ackPath, err := view.PickRoute(&c.self.Gateway, now)
	if err != nil {
		return 0, nil, err
	}
	fwdPath, err := view.PickRoute(&recipient.Gateway, now)
	if err != nil {
		return 0, nil, err
	}

	ackPkt, err := c.geo.Ack.NewPacket(c.rng, ackPath, &onion.Command{
		Flags: onion.FlagSURBReply,
		ID:    c.self.ClientID,
	}, sealedAck)
	if err != nil {
		return 0, nil, &FatalError{Op: "encapsulate ack", Err: err}
	}
	area, err := fragment.Pad(frag, c.geo.FragmentAreaLength())
	if err != nil {
		return 0, nil, &FatalError{Op: "pad fragment", Err: err}
	}

	payload := make([]byte, 0, c.geo.Forward.PayloadLength)
	payload = append(payload, ackPath[0].ID[:]...)
	payload = append(payload, ackPkt...)
	payload = append(payload, area...)

	pkt, err := c.geo.Forward.NewPacket(c.rng, fwdPath, &onion.Command{
		Flags: onion.FlagHasSURBAck,
		ID:    recipient.ClientID,
	}, payload)
	if err != nil {
		return 0, nil, &FatalError{Op: "encapsulate fragment", Err: err}
	}

	out := &OutboundPacket{
		FirstHop: fwdPath[0].ID,
		Packet:   pkt,
	}
	return path.TotalDelay(fwdPath) + path.TotalDelay(ackPath), out, nil
}

// OutboundPacket is a packet ready for the network, together with the
// first hop it must be handed to.
type OutboundPacket struct {
	FirstHop [pki.NodeIDLength]byte
	Packet   []byte
}
