// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package client implements the reliable messaging core of a mixnet
// client: fragmentation, packet preparation with embedded acknowledgements,
// retransmission and loop cover traffic.
package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/mixclient/client/ack"
	"github.com/katzenpost/mixclient/client/config"
	"github.com/katzenpost/mixclient/client/instrument"
	"github.com/katzenpost/mixclient/core/fragment"
	"github.com/katzenpost/mixclient/core/log"
	"github.com/katzenpost/mixclient/core/path"
	"github.com/katzenpost/mixclient/core/pki"
	"github.com/katzenpost/mixclient/core/worker"
)

// Option is a Client option.
type Option func(*Client)

// WithAckKey sets the acknowledgement key, by default a fresh key is
// generated.
func WithAckKey(k *ack.Key) Option {
	return func(c *Client) {
		c.ackKey = k
	}
}

// WithRand sets the entropy source for set identifiers and packet keys.
func WithRand(r io.Reader) Option {
	return func(c *Client) {
		c.rng = r
	}
}

// WithMaxSets bounds the number of fragment sets a message may span.
func WithMaxSets(n int) Option {
	return func(c *Client) {
		c.maxSets = n
	}
}

// Client is a mixnet client instance.
type Client struct {
	worker.Worker

	cfg        *config.Config
	logBackend *log.Backend
	log        *logging.Logger
	recvLog    *logging.Logger

	rng     io.Reader
	maxSets int
	self    *Recipient
	ackKey  *ack.Key
	geo     *PacketGeometry
	codec   *fragment.Codec

	topology *topologyAccessor
	pending  *PendingTable
	outbound *OutboundQueue
	chunker  *Chunker

	arq   *ARQ
	input *inputListener
	acks  *ackListener
	cover *coverTraffic

	outCh chan *OutboundPacket

	recvLock      sync.Mutex
	reconstructor *fragment.Reconstructor
	recvCh        chan *ReceivedMessage

	fatalErrCh chan error
	errLock    sync.Mutex
	err        error

	metrics *http.Server

	startOnce sync.Once
	haltOnce  sync.Once
	haltedCh  chan interface{}
}

// New creates a client reachable at self.  A nil logBackend is created
// from the configuration.
func New(cfg *config.Config, logBackend *log.Backend, self *Recipient, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("client: no configuration")
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	if self == nil {
		return nil, errors.New("client: no address")
	}
	c := &Client{
		cfg:        cfg,
		logBackend: logBackend,
		rng:        rand.Reader,
		maxSets:    fragment.MaxSetID,
		self:       self,
		pending:    NewPendingTable(),
		outbound:   NewOutboundQueue(),
		outCh:      make(chan *OutboundPacket),
		recvCh:     make(chan *ReceivedMessage, cfg.Debug.ReceiveQueueLength),
		fatalErrCh: make(chan error, 1),
		haltedCh:   make(chan interface{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	if c.logBackend == nil {
		c.logBackend, err = log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
		if err != nil {
			return nil, err
		}
	}
	c.log = c.logBackend.GetLogger("client")
	c.recvLog = c.logBackend.GetLogger("client/receive")

	if c.ackKey == nil {
		if c.ackKey, err = ack.NewKey(c.rng); err != nil {
			return nil, err
		}
	}
	scheme := x25519.Scheme(c.rng)
	if c.geo, err = NewPacketGeometry(scheme, cfg.Geometry.NrHops, cfg.Geometry.PacketPayloadLength); err != nil {
		return nil, err
	}
	c.codec, err = fragment.NewCodec(c.geo.MaxFragmentLength(),
		fragment.WithRand(c.rng),
		fragment.WithSetIDFilter(c.pending.SetIDInUse),
		fragment.WithMaxSets(c.maxSets),
	)
	if err != nil {
		return nil, err
	}
	c.reconstructor = fragment.NewReconstructor(c.codec)
	c.topology = newTopologyAccessor(path.NewPathFactory(scheme), cfg.Geometry.NrHops)
	c.chunker = NewChunker(c.geo, c.ackKey, c.self, c.rng)

	c.arq = newARQ(c)
	c.input = newInputListener(c)
	c.acks = newAckListener(c)
	c.cover = newCoverTraffic(c)

	c.log.Noticef("Client %v: %d hops, %d byte fragments, %d byte maximum message",
		c.self, cfg.Geometry.NrHops, c.geo.MaxFragmentLength(), c.MaxMessageLength())
	return c, nil
}

// Start starts the client's workers.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		if addr := c.cfg.Debug.MetricsAddress; addr != "" {
			c.metrics = instrument.Init(addr)
		}
		c.arq.Start()
		c.acks.Start()
		c.input.Start()
		c.cover.Start()
		c.Go(c.forwardOutbound)
		c.Go(c.watchFatal)
	})
}

// Geometry returns the packet geometry.
func (c *Client) Geometry() *PacketGeometry {
	return c.geo
}

// Address returns the client's own address.
func (c *Client) Address() *Recipient {
	return c.self
}

// MaxMessageLength returns the largest payload SubmitMessage accepts
// without reply capability.
func (c *Client) MaxMessageLength() int {
	return c.codec.MaxMessageLength() - frameLength(0, false)
}

// UpdateDocument publishes a new PKI document.  Messages already being
// prepared keep the document they were routed with.
func (c *Client) UpdateDocument(doc *pki.Document) error {
	if doc == nil {
		return ErrNoTopology
	}
	if err := pki.IsDocumentWellFormed(doc); err != nil {
		return err
	}
	c.topology.update(doc)
	c.cover.updateRate(doc)
	c.log.Debugf("Using PKI document for epoch %d", doc.Epoch)
	return nil
}

// SubmitMessage queues payload for recipient.  Oversized messages fail
// synchronously with ErrMessageTooLarge; once queued, failures are only
// logged.  With withReply the client's address is attached so the
// recipient can answer.
func (c *Client) SubmitMessage(recipient *Recipient, payload []byte, withReply bool) error {
	if recipient == nil {
		return errors.New("client: no recipient")
	}
	if _, err := c.codec.Layout(frameLength(len(payload), withReply)); err != nil {
		instrument.Dropped(instrument.DropTooLarge)
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}
	var replyTo *Recipient
	if withReply {
		replyTo = c.self
	}
	return c.input.submit(&submission{
		recipient: recipient,
		msg:       encodeFrame(payload, replyTo),
	})
}

// OnRawAckReceived hands a delivered acknowledgement payload to the ack
// listener.  Invalid payloads are discarded silently.
func (c *Client) OnRawAckReceived(b []byte) {
	c.acks.enqueue(b)
}

// OutboundPackets returns the channel packets ready for the network are
// delivered on.
func (c *Client) OutboundPackets() <-chan *OutboundPacket {
	return c.outCh
}

// Pending returns the number of fragments awaiting acknowledgement.
func (c *Client) Pending() int {
	return c.pending.Len()
}

// Err returns the fatal error that shut the client down, if any.
func (c *Client) Err() error {
	c.errLock.Lock()
	defer c.errLock.Unlock()
	return c.err
}

func (c *Client) fatal(err error) {
	select {
	case c.fatalErrCh <- err:
	default:
		// A fatal error is already being handled.
	}
}

func (c *Client) watchFatal() {
	select {
	case <-c.HaltCh():
	case err := <-c.fatalErrCh:
		c.log.Critical("Fatal error: %v", err)
		c.errLock.Lock()
		c.err = err
		c.errLock.Unlock()
		go c.Shutdown()
	}
}

func (c *Client) forwardOutbound() {
	for {
		select {
		case <-c.HaltCh():
			return
		case v, ok := <-c.outbound.Out():
			if !ok {
				return
			}
			select {
			case <-c.HaltCh():
				return
			case c.outCh <- v.(*OutboundPacket):
			}
		}
	}
}

// Shutdown stops the client's workers.
func (c *Client) Shutdown() {
	c.haltOnce.Do(c.halt)
}

// Wait waits till the client is shut down.
func (c *Client) Wait() {
	<-c.haltedCh
}

func (c *Client) halt() {
	c.log.Noticef("Starting graceful shutdown.")
	c.input.Halt()
	c.cover.Halt()
	c.arq.Halt()
	c.acks.Halt()
	c.outbound.Close()
	c.Halt()
	if c.metrics != nil {
		c.metrics.Close()
	}
	c.log.Noticef("Shutdown complete.")
	close(c.haltedCh)
}
