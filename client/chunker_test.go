// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/mixclient/client/ack"
	"github.com/katzenpost/mixclient/core/fragment"
	"github.com/katzenpost/mixclient/core/onion"
	"github.com/katzenpost/mixclient/core/path"
)

func TestPacketGeometry(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 1, 1)
	geo, err := NewPacketGeometry(n.scheme, testNrHops, testPayloadLength)
	require.NoError(err)

	overhead := n.scheme.PublicKeySize() + onion.CommandLength + 16
	require.Equal(ack.SealedLength+testNrHops*overhead, geo.AckPacketLength())
	require.Equal(testPayloadLength-32-geo.AckPacketLength(), geo.FragmentAreaLength())
	require.Equal(geo.FragmentAreaLength()-1, geo.MaxFragmentLength())

	_, err = NewPacketGeometry(n.scheme, testNrHops, geo.AckPacketLength()+32+fragment.LinkedHeaderLength)
	require.Error(err)
	_, err = NewPacketGeometry(n.scheme, 0, testPayloadLength)
	require.Error(err)
}

func testChunker(t *testing.T, n *testNetwork) (*Chunker, *PacketGeometry, *ack.Key, *Recipient, *TopologyView) {
	require := require.New(t)

	geo, err := NewPacketGeometry(n.scheme, testNrHops, testPayloadLength)
	require.NoError(err)
	key, err := ack.NewKey(rand.Reader)
	require.NoError(err)
	self := n.address(0)

	topo := newTopologyAccessor(path.NewPathFactory(n.scheme), testNrHops)
	_, err = topo.Permit()
	require.ErrorIs(err, ErrNoTopology)
	topo.update(n.doc)
	view, err := topo.Permit()
	require.NoError(err)

	return NewChunker(geo, key, self, rand.Reader), geo, key, self, view
}

func TestPrepareChunkForSending(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, 2)
	c, geo, key, self, view := testChunker(t, n)
	dst := n.address(1)

	codec, err := fragment.NewCodec(geo.MaxFragmentLength())
	require.NoError(err)
	frags, err := codec.Split(make([]byte, 2*codec.UnlinkedPayloadLength()))
	require.NoError(err)
	require.Len(frags, 2)

	for _, f := range frags {
		delay, pkt, err := c.PrepareChunkForSending(view, f, dst)
		require.NoError(err)
		require.Len(pkt.Packet, geo.Forward.PacketLength())
		// Both routes cross two mixes with a delay of at least 1 ms each.
		require.GreaterOrEqual(delay.Milliseconds(), int64(4))

		layer, err := n.doc.GetMixLayer(&pkt.FirstHop)
		require.NoError(err)
		require.Zero(layer)

		d := n.deliver(t, geo, pkt)
		require.Equal(dst.ClientID, d.cmd.ID)
		require.Equal(f.ID(), d.id)

		id, ok := key.Open(d.ack)
		require.True(ok)
		require.Equal(f.ID(), id)

		b, err := fragment.Unpad(d.area)
		require.NoError(err)
		want, err := f.MarshalBinary()
		require.NoError(err)
		require.Equal(want, b)
	}

	// The acknowledgement routes towards the sender's own gateway.
	_, pkt, err := c.PrepareChunkForSending(view, frags[0], dst)
	require.NoError(err)
	cmd, payload := n.peel(t, geo.Forward, pkt.FirstHop, pkt.Packet)
	require.Equal(dst.ClientID, cmd.ID)
	ackFirstHop, ackPkt, _, err := geo.SplitPayload(payload)
	require.NoError(err)
	ackCmd, _ := n.peel(t, geo.Ack, *ackFirstHop, ackPkt)
	require.Equal(self.ClientID, ackCmd.ID)
}

func TestPrepareCoverPacket(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, 1)
	c, geo, key, self, view := testChunker(t, n)

	_, pkt, err := c.PrepareCoverPacket(view)
	require.NoError(err)
	require.Len(pkt.Packet, geo.Forward.PacketLength())

	d := n.deliver(t, geo, pkt)
	require.Equal(self.ClientID, d.cmd.ID)
	b, err := fragment.Unpad(d.area)
	require.NoError(err)
	require.True(fragment.IsCover(b))

	id, ok := key.Open(d.ack)
	require.True(ok)
	require.True(id.IsCover())
}

func TestPrepareChunkNoRoute(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 1, 1)
	c, _, _, _, view := testChunker(t, n)

	f := &fragment.Fragment{SetID: 1, Total: 1, Index: 1, Payload: []byte("x")}
	unknown := &Recipient{}
	_, _, err := c.PrepareChunkForSending(view, f, unknown)
	require.ErrorIs(err, path.ErrNoRoute)
	require.False(IsFatal(err))

	require.ErrorIs(view.EnsureRoutable(&unknown.Gateway), path.ErrNoRoute)
	gw := n.doc.GatewayNodes[0].ID()
	require.NoError(view.EnsureRoutable(&gw))

	// A document with a different route length is unusable.
	view.nrHops = testNrHops + 1
	require.ErrorIs(view.EnsureRoutable(&gw), path.ErrNoRoute)
}
