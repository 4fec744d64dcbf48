// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"fmt"

	"github.com/katzenpost/hpqc/nike"

	"github.com/katzenpost/mixclient/client/ack"
	"github.com/katzenpost/mixclient/core/fragment"
	"github.com/katzenpost/mixclient/core/onion"
	"github.com/katzenpost/mixclient/core/pki"
)

// PacketGeometry derives the layout of the forward packet payload:
//
//	ackFirstHop (32) || ackPacket (AckPacketLength) || fragment area
type PacketGeometry struct {
	// Forward is the geometry of packets carrying fragments.
	Forward *onion.Geometry

	// Ack is the geometry of the acknowledgement packets embedded in
	// forward packets.
	Ack *onion.Geometry
}

// NewPacketGeometry returns the geometry for routes of nrHops hops with an
// innermost payload of payloadLength bytes.
func NewPacketGeometry(scheme nike.Scheme, nrHops, payloadLength int) (*PacketGeometry, error) {
	g := &PacketGeometry{
		Forward: &onion.Geometry{
			NrHops:        nrHops,
			PayloadLength: payloadLength,
			Scheme:        scheme,
		},
		Ack: &onion.Geometry{
			NrHops:        nrHops,
			PayloadLength: ack.SealedLength,
			Scheme:        scheme,
		},
	}
	if err := g.Forward.Validate(); err != nil {
		return nil, err
	}
	if err := g.Ack.Validate(); err != nil {
		return nil, err
	}
	if min := fragment.LinkedHeaderLength + 2; g.FragmentAreaLength() < min {
		return nil, fmt.Errorf("client: payload length %d leaves a fragment area of %d bytes, need at least %d",
			payloadLength, g.FragmentAreaLength(), min)
	}
	return g, nil
}

// AckPacketLength returns the length of an embedded acknowledgement packet.
func (g *PacketGeometry) AckPacketLength() int {
	return g.Ack.PacketLength()
}

// FragmentAreaLength returns the number of payload bytes a padded fragment
// occupies.
func (g *PacketGeometry) FragmentAreaLength() int {
	return g.Forward.PayloadLength - pki.NodeIDLength - g.AckPacketLength()
}

// MaxFragmentLength returns the maximum length of a serialized fragment,
// leaving room for at least one padding byte.
func (g *PacketGeometry) MaxFragmentLength() int {
	return g.FragmentAreaLength() - 1
}

// SplitPayload splits a delivered forward payload into its parts.
func (g *PacketGeometry) SplitPayload(b []byte) (ackFirstHop *[pki.NodeIDLength]byte, ackPacket, area []byte, err error) {
	if len(b) != g.Forward.PayloadLength {
		return nil, nil, nil, fmt.Errorf("client: invalid payload length: %d", len(b))
	}
	ackFirstHop = new([pki.NodeIDLength]byte)
	copy(ackFirstHop[:], b[:pki.NodeIDLength])
	off := pki.NodeIDLength + g.AckPacketLength()
	return ackFirstHop, b[pki.NodeIDLength:off], b[off:], nil
}
