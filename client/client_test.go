// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/mixclient/client/config"
	"github.com/katzenpost/mixclient/core/fragment"
)

func randomPayload(t *testing.T, n int) []byte {
	b := make([]byte, n)
	_, err := rand.Reader.Read(b)
	require.NoError(t, err)
	return b
}

func waitHalted(t *testing.T, c *Client) {
	select {
	case <-c.haltedCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}
}

func receive(t *testing.T, c *Client) *ReceivedMessage {
	select {
	case m := <-c.ReceivedMessages():
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a message")
	}
	return nil
}

func TestClientSendAckReceive(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, 2)
	cfg := testConfig(t, true, 60000, 0)
	alice := newTestClient(t, cfg, n.address(0))
	bob := newTestClient(t, cfg, n.address(1))
	for _, c := range []*Client{alice, bob} {
		c.Start()
		require.NoError(c.UpdateDocument(n.doc))
	}

	for _, withReply := range []bool{false, true} {
		payload := randomPayload(t, 3*alice.codec.UnlinkedPayloadLength()-100)
		require.NoError(alice.SubmitMessage(bob.Address(), payload, withReply))

		var ds []*delivered
		for i := 0; i < 3; i++ {
			d := n.deliver(t, alice.Geometry(), nextPacket(t, alice))
			require.Equal(bob.Address().ClientID, d.cmd.ID)
			ds = append(ds, d)
		}
		require.Equal(3, alice.Pending())

		// Delivered out of order, with a duplicate.
		for _, i := range []int{2, 0, 2, 1} {
			require.NoError(bob.HandleDelivery(ds[i].area))
		}
		m := receive(t, bob)
		require.True(bytes.Equal(payload, m.Payload))
		if withReply {
			require.Equal(alice.Address(), m.ReplyTo)
		} else {
			require.Nil(m.ReplyTo)
		}

		for _, d := range ds {
			alice.OnRawAckReceived(d.ack)
			// Duplicate acknowledgements are ignored.
			alice.OnRawAckReceived(d.ack)
		}
		require.Eventually(func() bool {
			return alice.Pending() == 0
		}, 5*time.Second, 10*time.Millisecond)
	}

	// Acknowledgements under a different key are discarded.
	require.NoError(alice.SubmitMessage(bob.Address(), []byte("hello"), false))
	d := n.deliver(t, alice.Geometry(), nextPacket(t, alice))
	bob.OnRawAckReceived(d.ack)
	alice.OnRawAckReceived([]byte("garbage"))
	require.Never(func() bool {
		return alice.Pending() == 0
	}, 100*time.Millisecond, 10*time.Millisecond)
	alice.OnRawAckReceived(d.ack)
	require.Eventually(func() bool {
		return alice.Pending() == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(alice.Err())
}

func TestClientMessageTooLarge(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 1, 1)
	cfg := testConfig(t, true, 60000, 0)
	c := newTestClient(t, cfg, n.address(0), WithMaxSets(1))
	c.Start()
	require.NoError(c.UpdateDocument(n.doc))

	max := c.MaxMessageLength()
	require.Equal(fragment.MaxFragmentsPerSet*c.codec.UnlinkedPayloadLength()-1, max)

	err := c.SubmitMessage(n.address(0), make([]byte, max+1), false)
	require.ErrorIs(err, ErrMessageTooLarge)
	err = c.SubmitMessage(n.address(0), make([]byte, max), true)
	require.ErrorIs(err, ErrMessageTooLarge)
	require.Zero(c.Pending())

	require.NoError(c.SubmitMessage(n.address(0), make([]byte, max), false))
	require.Eventually(func() bool {
		return c.Pending() == fragment.MaxFragmentsPerSet
	}, 10*time.Second, 10*time.Millisecond)
}

func TestClientDropsUnroutable(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 1, 1)
	cfg := testConfig(t, true, 60000, 0)
	c := newTestClient(t, cfg, n.address(0))
	c.Start()

	// No document yet.
	require.NoError(c.SubmitMessage(n.address(0), []byte("early"), false))
	require.Never(func() bool {
		return c.Pending() != 0
	}, 100*time.Millisecond, 10*time.Millisecond)

	// Unknown destination gateway.
	require.NoError(c.UpdateDocument(n.doc))
	require.NoError(c.SubmitMessage(&Recipient{}, []byte("lost"), false))
	require.Never(func() bool {
		return c.Pending() != 0
	}, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(c.SubmitMessage(n.address(0), []byte("routable"), false))
	nextPacket(t, c)
	require.Equal(1, c.Pending())
	require.Eventually(func() bool {
		return c.input.getState() == stateIdle
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClientRetransmit(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, 1)
	cfg := testConfig(t, true, 50, 2)
	c := newTestClient(t, cfg, n.address(0))
	c.Start()
	require.NoError(c.UpdateDocument(n.doc))

	require.NoError(c.SubmitMessage(n.address(0), []byte("are you there?"), false))
	first := n.deliver(t, c.Geometry(), nextPacket(t, c))
	second := n.deliver(t, c.Geometry(), nextPacket(t, c))
	third := n.deliver(t, c.Geometry(), nextPacket(t, c))

	// Retransmissions carry the same fragment over fresh routes, with
	// acknowledgements sealed under fresh nonces.
	require.Equal(first.id, second.id)
	require.Equal(first.id, third.id)
	require.NotEqual(first.ack, second.ack)

	// The entry is retired after MaxRetransmissions.
	require.Eventually(func() bool {
		return c.Pending() == 0
	}, 5*time.Second, 10*time.Millisecond)
	select {
	case <-c.OutboundPackets():
		t.Fatal("fragment sent after it was given up on")
	case <-time.After(200 * time.Millisecond):
	}

	// A late acknowledgement is ignored.
	c.OnRawAckReceived(first.ack)
	require.NoError(c.Err())
}

func TestClientRetransmitStopsOnAck(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, 1)
	cfg := testConfig(t, true, 50, 0)
	c := newTestClient(t, cfg, n.address(0))
	c.Start()
	require.NoError(c.UpdateDocument(n.doc))

	require.NoError(c.SubmitMessage(n.address(0), []byte("ping"), false))
	first := n.deliver(t, c.Geometry(), nextPacket(t, c))
	retransmitted := n.deliver(t, c.Geometry(), nextPacket(t, c))
	require.Equal(first.id, retransmitted.id)

	entry, ok := c.pending.Get(first.id)
	require.True(ok)
	require.NotZero(entry.Retransmissions)

	// Any transmission's acknowledgement clears the entry.
	c.OnRawAckReceived(first.ack)
	require.Eventually(func() bool {
		return c.Pending() == 0
	}, 5*time.Second, 10*time.Millisecond)

	// Drain a retransmission that raced with the acknowledgement.
	time.Sleep(100 * time.Millisecond)
	select {
	case <-c.OutboundPackets():
	default:
	}
	select {
	case <-c.OutboundPackets():
		t.Fatal("fragment retransmitted after it was acknowledged")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestClientCoverTraffic(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, 1)
	n.doc.LambdaL = 0.1
	n.doc.LambdaLMaxDelay = 50
	cfg := testConfig(t, false, 60000, 0)
	c := newTestClient(t, cfg, n.address(0))
	c.Start()
	require.NoError(c.UpdateDocument(n.doc))

	for i := 0; i < 3; i++ {
		d := n.deliver(t, c.Geometry(), nextPacket(t, c))
		require.Equal(c.Address().ClientID, d.cmd.ID)

		// Loops are discarded on arrival.
		require.NoError(c.HandleDelivery(d.area))
		c.OnRawAckReceived(d.ack)
	}
	require.Zero(c.Pending())
	select {
	case <-c.ReceivedMessages():
		t.Fatal("cover traffic delivered as a message")
	default:
	}
}

func TestClientHandleDeliveryMalformed(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 1, 1)
	cfg := testConfig(t, true, 60000, 0)
	c := newTestClient(t, cfg, n.address(0))

	area := make([]byte, c.Geometry().FragmentAreaLength())
	require.ErrorIs(c.HandleDelivery(area), fragment.ErrMalformedFragment)

	bogus := &fragment.Fragment{SetID: 9, Total: 1, Index: 1, Payload: []byte{0x7f, 1, 2}}
	b, err := bogus.MarshalBinary()
	require.NoError(err)
	area, err = fragment.Pad(b, c.Geometry().FragmentAreaLength())
	require.NoError(err)
	require.ErrorIs(c.HandleDelivery(area), errMalformedFrame)
}

func TestClientFatalError(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 1, 1)
	cfg := testConfig(t, true, 60000, 0)
	c := newTestClient(t, cfg, n.address(0))
	c.Start()

	c.fatal(&FatalError{Op: "test", Err: ErrDuplicateEntry})
	c.Wait()

	var fe *FatalError
	require.True(errors.As(c.Err(), &fe))
	require.Equal("test", fe.Op)
	require.ErrorIs(c.SubmitMessage(n.address(0), []byte("late"), false), ErrShutdown)

	err := c.outbound.Push(&OutboundPacket{})
	require.True(IsFatal(err))
	require.ErrorIs(err, ErrOutboundClosed)
}

func TestClientFatalOnClosedOutbound(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 1, 1)
	cfg := testConfig(t, true, 60000, 0)
	c := newTestClient(t, cfg, n.address(0))
	c.Start()
	require.NoError(c.UpdateDocument(n.doc))

	c.outbound.Close()
	require.NoError(c.SubmitMessage(n.address(0), []byte("doomed"), false))
	waitHalted(t, c)

	require.True(IsFatal(c.Err()))
	require.ErrorIs(c.Err(), ErrOutboundClosed)
}

func TestClientPendingBeforeSend(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, 2)
	cfg := testConfig(t, true, 60000, 0)
	alice := newTestClient(t, cfg, n.address(0))
	bob := newTestClient(t, cfg, n.address(1))
	for _, c := range []*Client{alice, bob} {
		c.Start()
		require.NoError(c.UpdateDocument(n.doc))
	}

	// A full set followed by a set of four fragments.
	c0 := alice.codec.UnlinkedPayloadLength()
	c1 := alice.codec.LinkedPayloadLength()
	framed := (fragment.MaxFragmentsPerSet-1)*c0 + c1 + c1 + 3*c0
	payload := randomPayload(t, framed-frameLength(0, true))
	layout, err := alice.codec.Layout(frameLength(len(payload), true))
	require.NoError(err)
	require.Equal([]int{fragment.MaxFragmentsPerSet, 4}, layout)

	require.NoError(alice.SubmitMessage(bob.Address(), payload, true))

	total := fragment.MaxFragmentsPerSet + 4
	ds := make([]*delivered, 0, total)
	sets := make(map[int32]struct{})
	for i := 0; i < total; i++ {
		d := n.deliver(t, alice.Geometry(), nextPacket(t, alice))
		e, ok := alice.pending.Get(d.id)
		require.True(ok, "fragment %v left before it was pending", d.id)
		require.Equal(d.id, e.Fragment.ID())
		require.Zero(e.Retransmissions)
		require.Equal(total, alice.Pending())
		sets[d.id.SetID] = struct{}{}
		ds = append(ds, d)
	}
	require.Len(sets, 2)

	for i := len(ds) - 1; i >= 0; i-- {
		require.NoError(bob.HandleDelivery(ds[i].area))
	}
	m := receive(t, bob)
	require.True(bytes.Equal(payload, m.Payload))
	require.Equal(alice.Address(), m.ReplyTo)

	for _, d := range ds {
		alice.OnRawAckReceived(d.ack)
	}
	require.Eventually(func() bool {
		return alice.Pending() == 0
	}, 10*time.Second, 10*time.Millisecond)
}

func TestClientNewConfigDefaults(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 1, 1)

	_, err := New(&config.Config{}, nil, n.address(0))
	require.Error(err)
	_, err = New(&config.Config{Geometry: &config.Geometry{NrHops: -1}}, nil, n.address(0))
	require.Error(err)

	cfg := &config.Config{
		Geometry: &config.Geometry{
			NrHops:              testNrHops,
			PacketPayloadLength: testPayloadLength,
		},
	}
	c, err := New(cfg, nil, n.address(0))
	require.NoError(err)
	t.Cleanup(c.Shutdown)
	require.NotNil(cfg.Logging)
	require.NotNil(cfg.Debug)
	require.Equal(cfg.Debug.ReceiveQueueLength, cap(c.recvCh))

	c.Start()
	require.NoError(c.UpdateDocument(n.doc))
	require.NoError(c.SubmitMessage(n.address(0), []byte("defaults"), false))
	nextPacket(t, c)
	require.Equal(1, c.Pending())
}
