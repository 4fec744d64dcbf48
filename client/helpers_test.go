// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/mixclient/client/config"
	"github.com/katzenpost/mixclient/core/fragment"
	"github.com/katzenpost/mixclient/core/log"
	"github.com/katzenpost/mixclient/core/onion"
	"github.com/katzenpost/mixclient/core/pki"
)

const (
	testNrHops         = 3
	testPayloadLength  = 600
	testConfigTemplate = `
[Logging]
  Level = "DEBUG"

[Geometry]
  NrHops = %d
  PacketPayloadLength = %d

[Debug]
  DisableCoverTraffic = %v
  RoundTripTimeSlop = %d
  MaxRetransmissions = %d
`
)

type testNetwork struct {
	doc    *pki.Document
	scheme nike.Scheme
	keys   map[[pki.NodeIDLength]byte]nike.PrivateKey
}

func newTestNetwork(t *testing.T, perLayer, gateways int) *testNetwork {
	require := require.New(t)

	n := &testNetwork{
		doc: &pki.Document{
			Mu:         0.5,
			MuMaxDelay: 10,
			Version:    pki.DocumentVersion,
		},
		scheme: x25519.Scheme(rand.Reader),
		keys:   make(map[[pki.NodeIDLength]byte]nike.PrivateKey),
	}
	idx := 1
	for l := 0; l < testNrHops-1; l++ {
		var layer []*pki.MixDescriptor
		for i := 0; i < perLayer; i++ {
			layer = append(layer, n.newNode(require, idx, false))
			idx++
		}
		n.doc.Topology = append(n.doc.Topology, layer)
	}
	for i := 0; i < gateways; i++ {
		n.doc.GatewayNodes = append(n.doc.GatewayNodes, n.newNode(require, idx, true))
		idx++
	}
	require.NoError(pki.IsDocumentWellFormed(n.doc))
	return n
}

func (n *testNetwork) newNode(require *require.Assertions, idx int, gateway bool) *pki.MixDescriptor {
	pub, priv, err := n.scheme.GenerateKeyPair()
	require.NoError(err)

	d := &pki.MixDescriptor{
		Name:          fmt.Sprintf("node%d", idx),
		IdentityKey:   make([]byte, 32),
		MixKey:        pub.Bytes(),
		Addresses:     map[string][]string{pki.TransportTCPv4: []string{fmt.Sprintf("192.0.2.%d:4242", idx)}},
		IsGatewayNode: gateway,
		Version:       pki.DescriptorVersion,
	}
	_, err = rand.Reader.Read(d.IdentityKey)
	require.NoError(err)
	n.keys[d.ID()] = priv
	return d
}

func (n *testNetwork) address(gateway int) *Recipient {
	r := &Recipient{Gateway: n.doc.GatewayNodes[gateway].ID()}
	_, err := rand.Reader.Read(r.ClientID[:])
	if err != nil {
		panic(err)
	}
	return r
}

// peel removes every layer of pkt and returns the terminal command and
// payload.
func (n *testNetwork) peel(t *testing.T, geo *onion.Geometry, firstHop [pki.NodeIDLength]byte, pkt []byte) (*onion.Command, []byte) {
	hop := firstHop
	for i := 0; i < geo.NrHops; i++ {
		priv, ok := n.keys[hop]
		require.True(t, ok, "unknown hop %x", hop[:])
		cmd, inner, err := geo.Unwrap(priv, pkt)
		require.NoError(t, err)
		if cmd.IsTerminal() {
			require.Equal(t, geo.NrHops-1, i)
			_, err = n.doc.GetGatewayByKeyHash(&hop)
			require.NoError(t, err)
			return cmd, inner
		}
		hop = cmd.ID
		pkt = inner
	}
	t.Fatal("packet has no terminal hop")
	return nil, nil
}

type delivered struct {
	cmd  *onion.Command
	ack  []byte
	area []byte
	id   fragment.ID
}

// deliver peels a forward packet and the acknowledgement packet it
// carries.
func (n *testNetwork) deliver(t *testing.T, geo *PacketGeometry, pkt *OutboundPacket) *delivered {
	require := require.New(t)

	cmd, payload := n.peel(t, geo.Forward, pkt.FirstHop, pkt.Packet)
	require.Equal(onion.FlagHasSURBAck|onion.FlagTerminal, cmd.Flags)
	ackFirstHop, ackPkt, area, err := geo.SplitPayload(payload)
	require.NoError(err)

	ackCmd, ackPayload := n.peel(t, geo.Ack, *ackFirstHop, ackPkt)
	require.Equal(onion.FlagSURBReply|onion.FlagTerminal, ackCmd.Flags)

	d := &delivered{
		cmd:  cmd,
		ack:  ackPayload,
		area: area,
	}
	b, err := fragment.Unpad(area)
	require.NoError(err)
	if !fragment.IsCover(b) {
		f, err := fragment.FromBytes(b)
		require.NoError(err)
		d.id = f.ID()
	}
	return d
}

func testConfig(t *testing.T, disableCover bool, slop, maxRetransmissions int) *config.Config {
	cfg, err := config.Load([]byte(fmt.Sprintf(testConfigTemplate,
		testNrHops, testPayloadLength, disableCover, slop, maxRetransmissions)))
	require.NoError(t, err)
	return cfg
}

func newTestClient(t *testing.T, cfg *config.Config, self *Recipient, opts ...Option) *Client {
	logBackend, err := log.New("", cfg.Logging.Level, false)
	require.NoError(t, err)
	c, err := New(cfg, logBackend, self, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c
}

func nextPacket(t *testing.T, c *Client) *OutboundPacket {
	select {
	case pkt := <-c.OutboundPackets():
		return pkt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an outbound packet")
	}
	return nil
}
